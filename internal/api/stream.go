package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verte-zerg/trafsim/internal/log"
	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/session"
)

// streamBuffer bounds the events queued for one slow client. Samples beyond
// it are dropped; the seq field shows the gap.
const streamBuffer = 64

const (
	eventMetrics = "metrics"
	eventStatus  = "status"
)

type metricsEvent struct {
	SessionID string       `json:"session_id"`
	Seq       uint64       `json:"seq"`
	At        time.Time    `json:"at"`
	Sample    model.Sample `json:"sample"`
}

type statusEvent struct {
	SessionID string       `json:"session_id"`
	From      model.Status `json:"from,omitempty"`
	Status    model.Status `json:"status"`
	Error     string       `json:"error,omitempty"`
}

type streamEvent struct {
	name string
	data any
}

// ended reports whether a session can emit nothing more.
func ended(st model.Status) bool {
	return st.IsTerminal() || st == model.StatusIdle
}

// handleStream pushes the samples and status changes of one session as
// Server-Sent Events. The stream opens with the current status and closes
// after the session completes, fails or is reset.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming not supported"})
		return
	}

	events := make(chan streamEvent, streamBuffer)
	finished := make(chan struct{})
	var finishOnce sync.Once
	push := func(ev streamEvent) {
		select {
		case events <- ev:
		default:
		}
	}

	// Subscribe before reading the snapshot so no transition falls between.
	unsubTicks := s.store.Subscribe(func(tk model.Tick) {
		if tk.SessionID != id {
			return
		}
		push(streamEvent{name: eventMetrics, data: metricsEvent{SessionID: tk.SessionID, Seq: tk.Seq, At: tk.At, Sample: tk.Sample}})
	})
	defer unsubTicks()
	unsubStatus := s.store.SubscribeStatus(func(c session.StatusChange) {
		if c.SessionID != id {
			return
		}
		push(streamEvent{name: eventStatus, data: statusEvent{SessionID: id, From: c.From, Status: c.To}})
		if ended(c.To) {
			finishOnce.Do(func() { close(finished) })
		}
	})
	defer unsubStatus()

	snap := s.store.Snapshot()
	if snap.Session == nil || snap.Session.ID != id {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("session %q is not the current session", id)})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	logger := s.logger.With().Str(log.FieldSessionID, id).Logger()
	logger.Debug().Msg("stream opened")
	defer logger.Debug().Msg("stream closed")

	send := func(ev streamEvent) bool {
		if err := writeEvent(w, ev); err != nil {
			logger.Debug().Err(err).Msg("stream write failed")
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(streamEvent{name: eventStatus, data: statusEvent{SessionID: id, Status: snap.Status, Error: snap.Error}}) {
		return
	}
	if ended(snap.Status) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case ev := <-events:
			if !send(ev) {
				return
			}
			if st, ok := ev.data.(statusEvent); ok && ended(st.Status) {
				return
			}
		case <-finished:
			// The final status event may have been dropped for a full
			// buffer; flush what is queued, then close with a fresh status.
			for {
				select {
				case ev := <-events:
					if !send(ev) {
						return
					}
					if st, ok := ev.data.(statusEvent); ok && ended(st.Status) {
						return
					}
				default:
					snap := s.store.Snapshot()
					st := snap.Status
					if snap.Session == nil || snap.Session.ID != id {
						st = model.StatusIdle
					}
					send(streamEvent{name: eventStatus, data: statusEvent{SessionID: id, Status: st, Error: snap.Error}})
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev streamEvent) error {
	data, err := json.Marshal(ev.data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.name, err)
	}
	_, err = w.Write([]byte(formatEvent(ev.name, string(data))))
	return err
}

func formatEvent(event, data string) string {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
