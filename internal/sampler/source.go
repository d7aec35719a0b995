// Package sampler produces periodic metrics samples for running sessions.
package sampler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/verte-zerg/trafsim/internal/model"
)

// MetricsSource computes the sample for one tick. A real simulation engine
// replaces RandomSource behind this interface.
type MetricsSource interface {
	Next(ctx context.Context, cfg model.Config, seq uint64) (model.Sample, error)
}

// Placeholder ranges, half-open [min, max).
const (
	speedMin      = 40.0
	speedMax      = 70.0
	queueMax      = 20.0
	waitMax       = 60.0
	throughputMin = 800.0
	throughputMax = 2000.0
)

// RandomSource draws every field independently and uniformly.
type RandomSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomSource returns a RandomSource seeded with the current time.
func NewRandomSource() *RandomSource {
	return NewSeededSource(time.Now().UnixNano())
}

// NewSeededSource returns a RandomSource with a fixed seed.
func NewSeededSource(seed int64) *RandomSource {
	return &RandomSource{rnd: rand.New(rand.NewSource(seed))}
}

// Next implements MetricsSource.
func (r *RandomSource) Next(_ context.Context, _ model.Config, _ uint64) (model.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.Sample{
		AverageSpeedKmh:           between(r.rnd, speedMin, speedMax),
		TotalQueueLength:          between(r.rnd, 0, queueMax),
		AverageWaitTimeSeconds:    between(r.rnd, 0, waitMax),
		ThroughputVehiclesPerHour: between(r.rnd, throughputMin, throughputMax),
	}, nil
}

func between(rnd *rand.Rand, lo, hi float64) float64 {
	return lo + rnd.Float64()*(hi-lo)
}

// ErrSequenceExhausted is returned by a SequenceSource configured to fail
// once its samples run out.
var ErrSequenceExhausted = errors.New("sample sequence exhausted")

// SequenceSource replays fixed samples in order. After the last one it
// wraps around, or fails with ErrSequenceExhausted when FailAtEnd is set.
type SequenceSource struct {
	Samples   []model.Sample
	FailAtEnd bool

	mu  sync.Mutex
	pos int
}

// NewSequenceSource returns a source replaying samples.
func NewSequenceSource(samples ...model.Sample) *SequenceSource {
	return &SequenceSource{Samples: samples}
}

// Next implements MetricsSource.
func (s *SequenceSource) Next(_ context.Context, _ model.Config, _ uint64) (model.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Samples) == 0 {
		return model.Sample{}, ErrSequenceExhausted
	}
	if s.pos >= len(s.Samples) {
		if s.FailAtEnd {
			return model.Sample{}, ErrSequenceExhausted
		}
		s.pos = 0
	}
	sample := s.Samples[s.pos]
	s.pos++
	return sample, nil
}
