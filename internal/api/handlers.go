package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/verte-zerg/trafsim/internal/controller"
	"github.com/verte-zerg/trafsim/internal/model"
)

type statusResponse struct {
	Status        model.Status          `json:"status"`
	Session       *model.Session        `json:"session"`
	Config        model.Config          `json:"config"`
	LatestMetrics model.Sample          `json:"latest_metrics"`
	CycleLength   int                   `json:"cycle_length"`
	Network       *model.NetworkMetrics `json:"network,omitempty"`
	Error         string                `json:"error,omitempty"`
	Busy          bool                  `json:"busy"`
}

type configResponse struct {
	Config   model.Config `json:"config"`
	Valid    bool         `json:"valid"`
	Problems []string     `json:"problems,omitempty"`
}

type startResponse struct {
	SessionID string       `json:"session_id"`
	Status    model.Status `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Templates())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() statusResponse {
	snap := s.store.Snapshot()
	resp := statusResponse{
		Status:        snap.Status,
		Session:       snap.Session,
		Config:        snap.Config,
		LatestMetrics: snap.Metrics,
		CycleLength:   snap.Config.CycleLength(),
		Error:         snap.Error,
		Busy:          s.ctrl.Busy(),
	}
	if snap.Network != nil {
		nm := snap.Network.Metrics()
		resp.Network = &nm
	}
	return resp
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	entries := s.store.History()
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(r, s.store.Config())
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.ctrl.SetConfig(cfg)
	resp := configResponse{Config: cfg, Valid: true}
	var verr *controller.ValidationError
	if errors.As(controller.Validate(cfg), &verr) {
		resp.Valid = false
		resp.Problems = verr.Problems
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(r, s.store.Config())
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := s.ctrl.Start(r.Context(), cfg)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{SessionID: id, Status: s.store.Status()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(r.Context()); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Pause(); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Resume(); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Reset(); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleDismissError(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

// decodeConfig overlays an optional JSON body onto base. Signal control
// names are normalized the same way as on the command line.
func decodeConfig(r *http.Request, base model.Config) (model.Config, error) {
	if r.Body == nil {
		return base, nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	cfg := base
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return base, nil
		}
		return model.Config{}, fmt.Errorf("invalid configuration body: %w", err)
	}
	if cfg.SignalControl != base.SignalControl {
		sc, err := model.ParseSignalControl(string(cfg.SignalControl))
		if err != nil {
			return model.Config{}, err
		}
		cfg.SignalControl = sc
	}
	return cfg, nil
}
