package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/trafsim/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "nested", "trafsim.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	})
	return st
}

func record(id string, ended time.Time) model.SessionRecord {
	return model.SessionRecord{
		ID:        id,
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   ended,
		Status:    model.StatusCompleted,
		Config: model.Config{
			VehiclesPerHour: 1500, CarPercentage: 85, TruckPercentage: 15, PeakHourFactor: 1.2,
			SignalControl: model.SignalFixedTime, GreenTime: 30, YellowTime: 3, RedTime: 30,
		},
		Ticks:   60,
		Summary: model.Summary{Count: 2, MeanSpeed: 55, MeanQueue: 4, MeanWait: 12, MeanThroughput: 1400, MaxQueue: 7},
	}
}

func TestSaveAndListSessions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first := record("aaaa-1", base)
	second := record("bbbb-2", base.Add(time.Hour+500*time.Millisecond))
	samples := []model.HistoryEntry{
		{At: base.Add(-2 * time.Second), Sample: model.Sample{AverageSpeedKmh: 50, TotalQueueLength: 1}},
		{At: base.Add(-time.Second), Sample: model.Sample{AverageSpeedKmh: 60, TotalQueueLength: 7}},
	}
	if err := st.SaveSession(ctx, second, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := st.SaveSession(ctx, first, samples); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	all, err := st.ListSessions(ctx, model.HistoryFilter{})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "aaaa-1" || all[1].ID != "bbbb-2" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if all[0].Config != first.Config || all[0].Summary != first.Summary || all[0].Ticks != 60 {
		t.Fatalf("record did not round trip: %+v", all[0])
	}
	if !all[1].EndedAt.Equal(second.EndedAt) {
		t.Fatalf("expected ended_at %v, got %v", second.EndedAt, all[1].EndedAt)
	}

	last, err := st.ListSessions(ctx, model.HistoryFilter{Last: 1})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(last) != 1 || last[0].ID != "bbbb-2" {
		t.Fatalf("expected only the newest session, got %+v", last)
	}

	since := base.Add(time.Minute)
	recent, err := st.ListSessions(ctx, model.HistoryFilter{Since: &since})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "bbbb-2" {
		t.Fatalf("expected since filter to keep one session, got %+v", recent)
	}

	got, err := st.ListSamples(ctx, "aaaa-1")
	if err != nil {
		t.Fatalf("ListSamples failed: %v", err)
	}
	if len(got) != 2 || got[1].Sample.AverageSpeedKmh != 60 || !got[0].At.Equal(samples[0].At) {
		t.Fatalf("unexpected samples: %+v", got)
	}
}

func TestSaveSessionReplacesSamples(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	rec := record("same", time.Unix(1_700_000_000, 0))

	one := []model.HistoryEntry{{At: time.Unix(1, 0)}, {At: time.Unix(2, 0)}}
	if err := st.SaveSession(ctx, rec, one); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	rec.Status = model.StatusError
	if err := st.SaveSession(ctx, rec, one[:1]); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	all, err := st.ListSessions(ctx, model.HistoryFilter{})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(all) != 1 || all[0].Status != model.StatusError {
		t.Fatalf("expected one replaced record, got %+v", all)
	}
	got, err := st.ListSamples(ctx, "same")
	if err != nil {
		t.Fatalf("ListSamples failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sample after replace, got %d", len(got))
	}
}

func TestGetSessionByPrefix(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for _, id := range []string{"abc123", "abd456", "abc"} {
		if err := st.SaveSession(ctx, record(id, base), nil); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	rec, err := st.GetSession(ctx, "abd")
	if err != nil || rec.ID != "abd456" {
		t.Fatalf("expected abd456, got %+v, %v", rec, err)
	}
	rec, err = st.GetSession(ctx, "abc")
	if err != nil || rec.ID != "abc" {
		t.Fatalf("expected exact match to win, got %+v, %v", rec, err)
	}
	if _, err := st.GetSession(ctx, "ab"); !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
	if _, err := st.GetSession(ctx, "zz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.GetSession(ctx, "a_"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wildcard to be escaped, got %v", err)
	}
}
