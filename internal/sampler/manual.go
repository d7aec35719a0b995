package sampler

import "time"

// ManualTicker is a TickerFunc source driven by Fire, for deterministic
// tests and for stepping a paused dashboard one tick at a time.
type ManualTicker struct {
	c chan time.Time
}

// NewManualTicker returns an idle ManualTicker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{c: make(chan time.Time)}
}

// Func returns the TickerFunc to pass to WithTicker. Every task created with
// it shares the same channel; only the live one receives.
func (m *ManualTicker) Func() TickerFunc {
	return func(time.Duration) (<-chan time.Time, func()) {
		return m.c, func() {}
	}
}

// Fire hands one tick to a waiting task. It reports false when no task took
// the tick within wait.
func (m *ManualTicker) Fire(at time.Time, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case m.c <- at:
		return true
	case <-timer.C:
		return false
	}
}
