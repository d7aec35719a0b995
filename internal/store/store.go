// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verte-zerg/trafsim/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Timestamps are stored in UTC with fixed-width fractions so text order is
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no session matches an id or prefix.
var ErrNotFound = errors.New("session not found")

// ErrAmbiguous is returned when an id prefix matches several sessions.
var ErrAmbiguous = errors.New("session id prefix is ambiguous")

// Store wraps SQLite access for finished sessions.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Session writes come from the sampler goroutine and the UI at once.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			status TEXT NOT NULL,
			vehicles_per_hour INTEGER NOT NULL,
			car_pct REAL NOT NULL,
			truck_pct REAL NOT NULL,
			peak_hour_factor REAL NOT NULL,
			signal_control TEXT NOT NULL,
			green_s INTEGER NOT NULL,
			yellow_s INTEGER NOT NULL,
			red_s INTEGER NOT NULL,
			duration_s INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			mean_speed REAL NOT NULL,
			mean_queue REAL NOT NULL,
			mean_wait REAL NOT NULL,
			mean_throughput REAL NOT NULL,
			max_queue REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_samples (
			session_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			at TEXT NOT NULL,
			speed REAL NOT NULL,
			queue REAL NOT NULL,
			wait REAL NOT NULL,
			throughput REAL NOT NULL,
			PRIMARY KEY (session_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSession stores a finished session and its retained samples. Saving the
// same id again replaces the earlier row and samples.
func (s *Store) SaveSession(ctx context.Context, rec model.SessionRecord, samples []model.HistoryEntry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	c := rec.Config
	sum := rec.Summary
	if _, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, started_at, ended_at, status, vehicles_per_hour, car_pct, truck_pct,
			peak_hour_factor, signal_control, green_s, yellow_s, red_s, duration_s, ticks, sample_count,
			mean_speed, mean_queue, mean_wait, mean_throughput, max_queue)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		formatTime(rec.StartedAt),
		formatTime(rec.EndedAt),
		string(rec.Status),
		c.VehiclesPerHour,
		c.CarPercentage,
		c.TruckPercentage,
		c.PeakHourFactor,
		string(c.SignalControl),
		c.GreenTime,
		c.YellowTime,
		c.RedTime,
		c.SimulationDuration,
		int64(rec.Ticks),
		sum.Count,
		sum.MeanSpeed,
		sum.MeanQueue,
		sum.MeanWait,
		sum.MeanThroughput,
		sum.MaxQueue,
	); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_samples WHERE session_id = ?`, rec.ID); err != nil {
		return err
	}

	if len(samples) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO session_samples (session_id, idx, at, speed, queue, wait, throughput)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for i, e := range samples {
			if _, err = stmt.ExecContext(ctx, rec.ID, i, formatTime(e.At),
				e.Sample.AverageSpeedKmh, e.Sample.TotalQueueLength,
				e.Sample.AverageWaitTimeSeconds, e.Sample.ThroughputVehiclesPerHour); err != nil {
				return err
			}
		}
	}

	err = tx.Commit()
	return err
}

const sessionColumns = `id, started_at, ended_at, status, vehicles_per_hour, car_pct, truck_pct,
	peak_hour_factor, signal_control, green_s, yellow_s, red_s, duration_s, ticks, sample_count,
	mean_speed, mean_queue, mean_wait, mean_throughput, max_queue`

// ListSessions returns finished sessions, oldest first. Since keeps sessions
// ended at or after it; Last keeps only the most recent N.
func (s *Store) ListSessions(ctx context.Context, filter model.HistoryFilter) ([]model.SessionRecord, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Since != nil {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE %s ORDER BY ended_at DESC`,
		sessionColumns, strings.Join(clauses, " AND "))
	if filter.Last > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Last)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var records []model.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// GetSession looks a session up by full id or unique id prefix.
func (s *Store) GetSession(ctx context.Context, idOrPrefix string) (model.SessionRecord, error) {
	if idOrPrefix == "" {
		return model.SessionRecord{}, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sessions WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id = ? DESC LIMIT 2`, sessionColumns),
		idOrPrefix, escapeLike(idOrPrefix)+"%", idOrPrefix)
	if err != nil {
		return model.SessionRecord{}, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var found []model.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return model.SessionRecord{}, err
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return model.SessionRecord{}, err
	}
	switch {
	case len(found) == 0:
		return model.SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	case found[0].ID == idOrPrefix || len(found) == 1:
		return found[0], nil
	default:
		return model.SessionRecord{}, fmt.Errorf("%w: %s", ErrAmbiguous, idOrPrefix)
	}
}

// ListSamples returns the stored samples of a session, oldest first.
func (s *Store) ListSamples(ctx context.Context, sessionID string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, speed, queue, wait, throughput FROM session_samples WHERE session_id = ? ORDER BY idx ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var entries []model.HistoryEntry
	for rows.Next() {
		var at string
		var e model.HistoryEntry
		if err := rows.Scan(&at, &e.Sample.AverageSpeedKmh, &e.Sample.TotalQueueLength,
			&e.Sample.AverageWaitTimeSeconds, &e.Sample.ThroughputVehiclesPerHour); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, err
		}
		e.At = parsed
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (model.SessionRecord, error) {
	var rec model.SessionRecord
	var startedAt, endedAt, status, signal string
	var ticks int64
	c := &rec.Config
	sum := &rec.Summary
	if err := row.Scan(&rec.ID, &startedAt, &endedAt, &status,
		&c.VehiclesPerHour, &c.CarPercentage, &c.TruckPercentage, &c.PeakHourFactor, &signal,
		&c.GreenTime, &c.YellowTime, &c.RedTime, &c.SimulationDuration, &ticks, &sum.Count,
		&sum.MeanSpeed, &sum.MeanQueue, &sum.MeanWait, &sum.MeanThroughput, &sum.MaxQueue); err != nil {
		return model.SessionRecord{}, err
	}
	var err error
	if rec.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return model.SessionRecord{}, err
	}
	if rec.EndedAt, err = time.Parse(timeLayout, endedAt); err != nil {
		return model.SessionRecord{}, err
	}
	rec.Status = model.Status(status)
	c.SignalControl = model.SignalControl(signal)
	rec.Ticks = uint64(ticks)
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
