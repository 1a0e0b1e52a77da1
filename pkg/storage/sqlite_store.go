package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotInitialized = errors.New("store not initialized")

// Store wraps an embedded SQLite database holding the operational history of
// the sync process: per-tag event counters, sweep shift outcomes, the last
// cache statistics snapshot and runtime heartbeats. Cached entities themselves
// are never persisted.
// It uses modernc.org/sqlite for CGO-less builds.
type Store struct {
	dbPath string
	db     *sql.DB
}

// NewStore creates a new Store pointing to dbPath. Call Init() before using it.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *Store) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{`PRAGMA journal_mode=WAL;`, "set WAL"},
		{`PRAGMA foreign_keys=ON;`, "enable FKs"},
		{`PRAGMA busy_timeout=5000;`, "set busy_timeout"},
		{`PRAGMA synchronous=NORMAL;`, "set synchronous"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("%s: %w", p.what, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddEventCounts adds deltas to the persisted per-tag counters in one
// transaction. Zero deltas are skipped.
func (s *Store) AddEventCounts(deltas map[string]uint64, at time.Time) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if len(deltas) == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(
		`INSERT INTO event_counts (tag, count, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(tag) DO UPDATE SET
           count=event_counts.count + excluded.count,
           updated_at=excluded.updated_at`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for tag, n := range deltas {
		if tag == "" || n == 0 {
			continue
		}
		if _, err := stmt.Exec(tag, int64(n), at.UTC()); err != nil {
			return fmt.Errorf("add count %s: %w", tag, err)
		}
	}
	return tx.Commit()
}

// EventCounts returns the persisted per-tag totals.
func (s *Store) EventCounts() (map[string]uint64, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.Query(`SELECT tag, count FROM event_counts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var tag string
		var n int64
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, err
		}
		out[tag] = uint64(n)
	}
	return out, rows.Err()
}

// SweepRecord is one settled sweep shift.
type SweepRecord struct {
	ID        int64
	ShiftID   uint64
	Job       string
	Kind      string
	StartedAt time.Time
	SettledAt time.Time
	// Evicted is -1 when the job's lifetime disabled eviction.
	Evicted int
	Error   string
}

// Duration is how long the shift ran.
func (r SweepRecord) Duration() time.Duration { return r.SettledAt.Sub(r.StartedAt) }

// RecordSweep appends a shift outcome and returns its row id.
func (s *Store) RecordSweep(r SweepRecord) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	var errText any
	if r.Error != "" {
		errText = r.Error
	}
	res, err := s.db.Exec(
		`INSERT INTO sweep_runs (shift_id, job, kind, started_at, settled_at, evicted, error)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(r.ShiftID), r.Job, r.Kind, r.StartedAt.UTC(), r.SettledAt.UTC(), r.Evicted, errText,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentSweeps returns up to limit shifts, newest first. limit <= 0 means 50.
func (s *Store) RecentSweeps(limit int) ([]SweepRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, shift_id, job, kind, started_at, settled_at, evicted, error
         FROM sweep_runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SweepRecord
	for rows.Next() {
		var (
			r       SweepRecord
			shiftID int64
			errText sql.NullString
		)
		if err := rows.Scan(&r.ID, &shiftID, &r.Job, &r.Kind, &r.StartedAt, &r.SettledAt, &r.Evicted, &errText); err != nil {
			return nil, err
		}
		r.ShiftID = uint64(shiftID)
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneSweeps deletes shifts settled before cutoff and reports how many went.
func (s *Store) PruneSweeps(cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	res, err := s.db.Exec(`DELETE FROM sweep_runs WHERE settled_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StatsRecord is the persisted statistics row of one entity kind.
type StatsRecord struct {
	Kind       string
	Caches     int
	Size       int
	Limit      int
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Rejected   uint64
	RecordedAt time.Time
}

// SaveCacheStats replaces the stored snapshot rows of the given kinds.
func (s *Store) SaveCacheStats(recs []StatsRecord) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range recs {
		at := r.RecordedAt
		if at.IsZero() {
			at = time.Now()
		}
		_, err := tx.Exec(
			`INSERT INTO cache_stats (kind, caches, size, size_limit, hits, misses, evictions, rejected, recorded_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(kind) DO UPDATE SET
               caches=excluded.caches,
               size=excluded.size,
               size_limit=excluded.size_limit,
               hits=excluded.hits,
               misses=excluded.misses,
               evictions=excluded.evictions,
               rejected=excluded.rejected,
               recorded_at=excluded.recorded_at`,
			r.Kind, r.Caches, r.Size, r.Limit, int64(r.Hits), int64(r.Misses), int64(r.Evictions), int64(r.Rejected), at.UTC(),
		)
		if err != nil {
			return fmt.Errorf("save stats %s: %w", r.Kind, err)
		}
	}
	return tx.Commit()
}

// CacheStats returns the stored snapshot, ordered by kind.
func (s *Store) CacheStats() ([]StatsRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.Query(
		`SELECT kind, caches, size, size_limit, hits, misses, evictions, rejected, recorded_at FROM cache_stats`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatsRecord
	for rows.Next() {
		var r StatsRecord
		var hits, misses, evictions, rejected int64
		if err := rows.Scan(&r.Kind, &r.Caches, &r.Size, &r.Limit, &hits, &misses, &evictions, &rejected, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.Hits, r.Misses, r.Evictions, r.Rejected = uint64(hits), uint64(misses), uint64(evictions), uint64(rejected)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

const (
	metaHeartbeat = "heartbeat"
	metaLastEvent = "last_event"
	metaStarted   = "started"
)

// SetHeartbeat records the last-known "sync is running" timestamp.
func (s *Store) SetHeartbeat(t time.Time) error { return s.setMeta(metaHeartbeat, t) }

// GetHeartbeat returns the last recorded heartbeat timestamp, if any.
func (s *Store) GetHeartbeat() (time.Time, bool, error) { return s.getMeta(metaHeartbeat) }

// SetLastEvent records the last time a gateway event was processed.
func (s *Store) SetLastEvent(t time.Time) error { return s.setMeta(metaLastEvent, t) }

// GetLastEvent returns the last recorded event timestamp, if any.
func (s *Store) GetLastEvent() (time.Time, bool, error) { return s.getMeta(metaLastEvent) }

// SetStarted records when the current process started.
func (s *Store) SetStarted(t time.Time) error { return s.setMeta(metaStarted, t) }

// GetStarted returns the recorded process start, if any.
func (s *Store) GetStarted() (time.Time, bool, error) { return s.getMeta(metaStarted) }

func (s *Store) setMeta(key string, t time.Time) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO runtime_meta (key, ts) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET ts=excluded.ts`,
		key, t.UTC(),
	)
	return err
}

func (s *Store) getMeta(key string) (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, ErrNotInitialized
	}
	row := s.db.QueryRow(`SELECT ts FROM runtime_meta WHERE key=?`, key)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func ensureSchema(db *sql.DB) error {
	const createEventCounts = `
CREATE TABLE IF NOT EXISTS event_counts (
  tag        TEXT PRIMARY KEY,
  count      INTEGER NOT NULL,
  updated_at TIMESTAMP NOT NULL
);`

	const createSweepRuns = `
CREATE TABLE IF NOT EXISTS sweep_runs (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  shift_id   INTEGER NOT NULL,
  job        TEXT NOT NULL,
  kind       TEXT NOT NULL,
  started_at TIMESTAMP NOT NULL,
  settled_at TIMESTAMP NOT NULL,
  evicted    INTEGER NOT NULL,
  error      TEXT
);
CREATE INDEX IF NOT EXISTS idx_sweep_runs_settled ON sweep_runs(settled_at);
CREATE INDEX IF NOT EXISTS idx_sweep_runs_job ON sweep_runs(job);`

	const createCacheStats = `
CREATE TABLE IF NOT EXISTS cache_stats (
  kind        TEXT PRIMARY KEY,
  caches      INTEGER NOT NULL,
  size        INTEGER NOT NULL,
  size_limit  INTEGER NOT NULL,
  hits        INTEGER NOT NULL,
  misses      INTEGER NOT NULL,
  evictions   INTEGER NOT NULL,
  rejected    INTEGER NOT NULL,
  recorded_at TIMESTAMP NOT NULL
);`

	const createRuntimeMeta = `
CREATE TABLE IF NOT EXISTS runtime_meta (
  key TEXT PRIMARY KEY,
  ts  TIMESTAMP NOT NULL
);`

	stmts := []string{
		createEventCounts,
		createSweepRuns,
		createCacheStats,
		createRuntimeMeta,
	}
	for _, sqlText := range stmts {
		if _, err := db.Exec(sqlText); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
