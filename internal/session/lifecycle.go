package session

import (
	"context"
	"fmt"
	"time"

	"github.com/verte-zerg/trafsim/internal/log"
	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/sampler"
	"github.com/verte-zerg/trafsim/internal/stats"
)

const recordTimeout = 5 * time.Second

// StartSession creates a running session from cfg and starts its sampler.
// While another session is running it does nothing and returns that
// session's id with started false. A paused session is completed and
// recorded before it is replaced. cfg is not validated here.
func (s *Store) StartSession(cfg model.Config) (id string, started bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.current != nil && s.current.session.Status == model.StatusRunning {
		id = s.current.session.ID
		s.mu.Unlock()
		return id, false
	}
	var prevID string
	var prevStatus model.Status
	if s.current != nil {
		prevID = s.current.session.ID
		prevStatus = s.current.session.Status
	}
	s.mu.Unlock()

	if prevID != "" {
		s.sampler.Stop(prevID)
	}
	if prevStatus == model.StatusPaused {
		s.terminate(prevID, model.StatusCompleted, "")
	}

	s.mu.Lock()
	id = s.newID()
	s.current = &record{session: model.Session{
		ID:        id,
		Status:    model.StatusRunning,
		Config:    cfg,
		StartedAt: s.now(),
	}}
	s.config = cfg
	s.history.Clear()
	s.mu.Unlock()

	s.transition(id, model.StatusIdle, model.StatusRunning)
	s.startSampler(id, cfg, 0)
	return id, true
}

func (s *Store) startSampler(id string, cfg model.Config, lastSeq uint64) {
	job := sampler.Job{
		SessionID: id,
		Config:    cfg,
		LastSeq:   lastSeq,
		Emit:      func(tick model.Tick) { s.UpdateMetrics(tick) },
		Done:      func(err error) { s.finish(id, err) },
	}
	if cfg.SimulationDuration > 0 {
		if period := s.sampler.Interval(); period > 0 {
			job.MaxSeq = uint64((time.Duration(cfg.SimulationDuration) * time.Second) / period)
			if job.MaxSeq == 0 {
				job.MaxSeq = 1
			}
		}
	}
	if err := s.sampler.Start(job); err != nil {
		s.finish(id, err)
	}
}

// StopSession halts the sampler, marks the session completed and zeroes its
// latest metrics. Without a running or paused session it is a no-op.
func (s *Store) StopSession() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.current == nil || !stoppable(s.current.session.Status) {
		s.mu.Unlock()
		return
	}
	id := s.current.session.ID
	s.mu.Unlock()

	s.sampler.Stop(id)
	s.terminate(id, model.StatusCompleted, "")
}

func stoppable(st model.Status) bool {
	return st == model.StatusRunning || st == model.StatusPaused
}

// finish handles a sampler that ended on its own.
func (s *Store) finish(id string, err error) {
	if err != nil {
		s.terminate(id, model.StatusError, fmt.Sprintf("simulation failed: %v", err))
		return
	}
	s.terminate(id, model.StatusCompleted, "")
}

func (s *Store) terminate(id string, status model.Status, errMsg string) {
	s.mu.Lock()
	cur := s.current
	if cur == nil || cur.session.ID != id || !stoppable(cur.session.Status) {
		s.mu.Unlock()
		return
	}
	old := cur.session.Status
	cur.session.Status = status
	cur.session.EndedAt = s.now()
	if status == model.StatusCompleted {
		cur.session.LatestMetrics = &model.Sample{}
	}
	if errMsg != "" {
		s.errMsg = errMsg
	}
	samples := s.history.Entries()
	rec := model.SessionRecord{
		ID:        cur.session.ID,
		StartedAt: cur.session.StartedAt,
		EndedAt:   cur.session.EndedAt,
		Status:    status,
		Config:    cur.session.Config,
		Ticks:     cur.session.Ticks,
		Summary:   stats.Summarize(samples),
	}
	s.mu.Unlock()

	s.record(rec, samples)
	s.transition(id, old, status)
}

func (s *Store) record(rec model.SessionRecord, samples []model.HistoryEntry) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.recorder.SaveSession(ctx, rec, samples); err != nil {
		s.logger.Error().Err(err).Str(log.FieldSessionID, rec.ID).Msg("failed to save session")
		s.SetError(fmt.Sprintf("failed to save session: %v", err))
	}
}

// PauseSession stops emission without ending the session.
func (s *Store) PauseSession() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.current == nil || s.current.session.Status != model.StatusRunning {
		s.mu.Unlock()
		return false
	}
	id := s.current.session.ID
	s.mu.Unlock()

	s.sampler.Stop(id)

	s.mu.Lock()
	if s.current == nil || s.current.session.ID != id || s.current.session.Status != model.StatusRunning {
		s.mu.Unlock()
		return false
	}
	s.current.session.Status = model.StatusPaused
	s.mu.Unlock()
	s.transition(id, model.StatusRunning, model.StatusPaused)
	return true
}

// ResumeSession restarts emission for a paused session, continuing its
// sequence numbering and history.
func (s *Store) ResumeSession() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.current == nil || s.current.session.Status != model.StatusPaused {
		s.mu.Unlock()
		return false
	}
	s.current.session.Status = model.StatusRunning
	id := s.current.session.ID
	cfg := s.current.session.Config
	lastSeq := s.current.lastSeq
	s.mu.Unlock()

	s.transition(id, model.StatusPaused, model.StatusRunning)
	s.startSampler(id, cfg, lastSeq)
	return true
}

// ResetSession cancels the sampler and returns to idle with default
// configuration and an empty history. The session is discarded, not
// completed, and is not recorded.
func (s *Store) ResetSession() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	var id string
	var old model.Status
	if s.current != nil {
		id = s.current.session.ID
		old = s.current.session.Status
	}
	s.mu.Unlock()

	if id != "" {
		s.sampler.Stop(id)
	}

	s.mu.Lock()
	s.current = nil
	s.config = model.DefaultConfig()
	s.history.Clear()
	s.mu.Unlock()

	if id != "" {
		s.transition(id, old, model.StatusIdle)
	}
}

// ClearSession discards the session, configuration and road network at once.
func (s *Store) ClearSession() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	var id string
	var old model.Status
	if s.current != nil {
		id = s.current.session.ID
		old = s.current.session.Status
	}
	s.mu.Unlock()

	if id != "" {
		s.sampler.Stop(id)
	}

	s.mu.Lock()
	s.current = nil
	s.config = model.DefaultConfig()
	s.network = nil
	s.history.Clear()
	s.mu.Unlock()

	if id != "" {
		s.transition(id, old, model.StatusIdle)
	}
}

// transition logs a status change and notifies status observers.
func (s *Store) transition(id string, from, to model.Status) {
	s.logger.Info().
		Str(log.FieldSessionID, id).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("session transition")

	s.mu.Lock()
	observers := make([]StatusObserver, 0, len(s.statusObs))
	for _, obs := range s.statusObs {
		observers = append(observers, obs)
	}
	s.mu.Unlock()

	change := StatusChange{SessionID: id, From: from, To: to}
	for _, obs := range observers {
		obs(change)
	}
}
