// Package session owns the state of the active simulation session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verte-zerg/trafsim/internal/history"
	"github.com/verte-zerg/trafsim/internal/log"
	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/sampler"
)

// Recorder persists sessions once they reach a terminal status.
type Recorder interface {
	SaveSession(ctx context.Context, rec model.SessionRecord, samples []model.HistoryEntry) error
}

// Observer receives every applied tick in emission order. Observers run on
// the sampler goroutine and must not block or call back into the Store's
// lifecycle operations.
type Observer func(model.Tick)

// StatusChange is one lifecycle transition of a session.
type StatusChange struct {
	SessionID string
	From      model.Status
	To        model.Status
}

// StatusObserver receives lifecycle transitions, including those of sessions
// that end on their own. It runs on the goroutine that caused the change,
// with no store lock held, after the new state is visible in Snapshot.
type StatusObserver func(StatusChange)

// Snapshot is a consistent copy of the store for display.
type Snapshot struct {
	Status  model.Status
	Session *model.Session
	Config  model.Config
	Metrics model.Sample
	History []model.HistoryEntry
	Network *model.RoadNetwork
	Error   string
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder persists terminal sessions.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithClock overrides the wall clock used for start and end times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Store is the single owner of session state. Every mutation goes through
// its methods and is serialized by mu. Lifecycle operations are additionally
// serialized by opMu. The sampler is only called with mu released.
type Store struct {
	sampler  *sampler.Sampler
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string

	opMu sync.Mutex

	mu        sync.Mutex
	config    model.Config
	current   *record
	history   *history.Buffer
	network   *model.RoadNetwork
	errMsg    string
	observers map[int]Observer
	statusObs map[int]StatusObserver
	nextObs   int
}

type record struct {
	session model.Session
	lastSeq uint64
}

// New returns an idle Store driving smp.
func New(smp *sampler.Sampler, opts ...Option) *Store {
	s := &Store{
		sampler:   smp,
		logger:    log.WithComponent("session"),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		config:    model.DefaultConfig(),
		history:   history.New(),
		observers: map[int]Observer{},
		statusObs: map[int]StatusObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetConfig replaces the stored configuration without validating it.
func (s *Store) SetConfig(cfg model.Config) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
}

// Config returns the stored configuration.
func (s *Store) Config() model.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetNetwork stores the road network produced by the extraction service.
func (s *Store) SetNetwork(n *model.RoadNetwork) {
	s.mu.Lock()
	s.network = n
	s.mu.Unlock()
}

// Network returns the stored road network, or nil.
func (s *Store) Network() *model.RoadNetwork {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network
}

// SetError records a store-level error message for display.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

// ClearError dismisses the error message.
func (s *Store) ClearError() {
	s.SetError("")
}

// Error returns the current error message, or "".
func (s *Store) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Status returns the current session status, idle when there is none.
func (s *Store) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Store) statusLocked() model.Status {
	if s.current == nil {
		return model.StatusIdle
	}
	return s.current.session.Status
}

// Session returns a copy of the current session, or nil.
func (s *Store) Session() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked()
}

func (s *Store) sessionLocked() *model.Session {
	if s.current == nil {
		return nil
	}
	cp := s.current.session
	if cp.LatestMetrics != nil {
		m := *cp.LatestMetrics
		cp.LatestMetrics = &m
	}
	return &cp
}

// History returns the retained trailing window, oldest first.
func (s *Store) History() []model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Entries()
}

// Snapshot returns a consistent copy of everything the dashboard shows.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Status:  s.statusLocked(),
		Session: s.sessionLocked(),
		Config:  s.config,
		Metrics: model.DefaultSample(),
		History: s.history.Entries(),
		Network: s.network,
		Error:   s.errMsg,
	}
	if snap.Session != nil && snap.Session.LatestMetrics != nil {
		snap.Metrics = *snap.Session.LatestMetrics
	}
	return snap
}

// Subscribe registers an observer and returns its unsubscribe function.
func (s *Store) Subscribe(obs Observer) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = obs
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// SubscribeStatus registers a lifecycle observer and returns its
// unsubscribe function.
func (s *Store) SubscribeStatus(obs StatusObserver) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.statusObs[id] = obs
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.statusObs, id)
		s.mu.Unlock()
	}
}

// UpdateMetrics applies one tick to the current session and appends it to
// the history. Ticks for another session, for a session that is not
// running, or with a sequence number that does not advance are dropped.
// It reports whether the tick was applied.
func (s *Store) UpdateMetrics(tick model.Tick) bool {
	s.mu.Lock()
	cur := s.current
	if cur == nil || cur.session.ID != tick.SessionID || cur.session.Status != model.StatusRunning || tick.Seq <= cur.lastSeq {
		s.mu.Unlock()
		s.logger.Debug().Str(log.FieldSessionID, tick.SessionID).Uint64(log.FieldSeq, tick.Seq).Msg("dropped stale tick")
		return false
	}
	sample := tick.Sample
	cur.session.LatestMetrics = &sample
	cur.session.Ticks++
	cur.lastSeq = tick.Seq
	s.history.Append(tick.At, sample)
	observers := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.mu.Unlock()

	for _, obs := range observers {
		obs(tick)
	}
	return true
}
