package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/log"
	"github.com/small-frappuccino/discordsync/pkg/storage"
)

const (
	TaskTypeFlushStats  = "stats.flush"
	TaskTypeRecordSweep = "sweep.record"
	TaskTypePruneSweeps = "storage.prune"

	// storageGroup serializes every write to the stats database.
	storageGroup = "storage"
)

// StatsStore is the subset of *storage.Store the adapters write to.
type StatsStore interface {
	AddEventCounts(deltas map[string]uint64, at time.Time) error
	SaveCacheStats(recs []storage.StatsRecord) error
	RecordSweep(r storage.SweepRecord) (int64, error)
	PruneSweeps(cutoff time.Time) (int64, error)
	SetHeartbeat(t time.Time) error
	SetLastEvent(t time.Time) error
}

// StatsSource reports the live counters of a running client.
type StatsSource interface {
	Counts() map[string]uint64
	Stats() map[entity.Kind]cache.Stats
}

// StatsAdapters persists client statistics through the router: periodic
// flushes of event counters and cache stats, one row per sweep shift and a
// daily prune of old shifts.
type StatsAdapters struct {
	Router    *TaskRouter
	Store     StatsStore
	Source    StatsSource
	Retention time.Duration

	now func() time.Time

	mu     sync.Mutex
	last   map[string]uint64
	cancel []Cancel
}

// NewStatsAdapters creates adapters and registers their task handlers.
func NewStatsAdapters(router *TaskRouter, store StatsStore, source StatsSource, retention time.Duration) *StatsAdapters {
	a := &StatsAdapters{
		Router:    router,
		Store:     store,
		Source:    source,
		Retention: retention,
		now:       time.Now,
		last:      make(map[string]uint64),
	}
	a.RegisterHandlers()
	return a
}

// RegisterHandlers registers all handlers for the supported task types.
func (a *StatsAdapters) RegisterHandlers() {
	a.Router.RegisterHandler(TaskTypeFlushStats, a.handleFlushStats)
	a.Router.RegisterHandler(TaskTypeRecordSweep, a.handleRecordSweep)
	a.Router.RegisterHandler(TaskTypePruneSweeps, a.handlePruneSweeps)
}

// Start schedules the periodic flush and the daily prune at 04:00 UTC.
func (a *StatsAdapters) Start(flushEvery time.Duration) {
	flush := Task{Type: TaskTypeFlushStats, Options: TaskOptions{
		GroupKey:       storageGroup,
		IdempotencyKey: TaskTypeFlushStats,
		IdempotencyTTL: flushEvery / 2,
		MaxAttempts:    1,
	}}
	prune := Task{Type: TaskTypePruneSweeps, Options: TaskOptions{GroupKey: storageGroup, MaxAttempts: 2}}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = append(a.cancel,
		a.Router.ScheduleEvery(flushEvery, flush),
		a.Router.ScheduleDailyAtUTC(4, 0, prune),
	)
}

// Stop cancels the schedules registered by Start.
func (a *StatsAdapters) Stop() {
	a.mu.Lock()
	cancels := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// EnqueueShift queues a settled shift for recording. It is meant for the
// client's shift hook and never blocks the sweeper for long.
func (a *StatsAdapters) EnqueueShift(s cache.Shift) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := a.Router.Dispatch(ctx, Task{
		Type:    TaskTypeRecordSweep,
		Payload: s,
		Options: TaskOptions{
			GroupKey:       storageGroup,
			IdempotencyKey: fmt.Sprintf("sweep:%s:%d", s.Job, s.ID),
			MaxAttempts:    3,
		},
	})
	if err != nil && !errors.Is(err, ErrRouterClosed) {
		log.DatabaseLogger().Warn("Sweep shift not recorded", "job", s.Job, "shift", s.ID, "err", err)
	}
}

// Flush writes the counters accumulated since the previous flush and the
// current cache statistics.
func (a *StatsAdapters) Flush(ctx context.Context) error {
	return a.handleFlushStats(ctx, nil)
}

func (a *StatsAdapters) handleFlushStats(ctx context.Context, _ any) error {
	now := a.now()

	counts := a.Source.Counts()
	a.mu.Lock()
	deltas := make(map[string]uint64, len(counts))
	for tag, n := range counts {
		// A pipeline reset can move a counter backwards; count from zero again.
		prev := a.last[tag]
		if n < prev {
			prev = 0
		}
		if n > prev {
			deltas[tag] = n - prev
		}
	}
	a.mu.Unlock()

	if err := a.Store.AddEventCounts(deltas, now); err != nil {
		return fmt.Errorf("flush event counts: %w", err)
	}
	a.mu.Lock()
	a.last = counts
	a.mu.Unlock()

	if len(deltas) > 0 {
		if err := a.Store.SetLastEvent(now); err != nil {
			return fmt.Errorf("flush last event: %w", err)
		}
	}

	stats := a.Source.Stats()
	recs := make([]storage.StatsRecord, 0, len(stats))
	for _, k := range entity.AllKinds() {
		s, ok := stats[k]
		if !ok {
			continue
		}
		recs = append(recs, storage.StatsRecord{
			Kind:       string(k),
			Caches:     s.Caches,
			Size:       s.Size,
			Limit:      s.Limit,
			Hits:       s.Hits,
			Misses:     s.Misses,
			Evictions:  s.Evictions,
			Rejected:   s.Rejected,
			RecordedAt: now,
		})
	}
	if err := a.Store.SaveCacheStats(recs); err != nil {
		return fmt.Errorf("flush cache stats: %w", err)
	}
	return a.Store.SetHeartbeat(now)
}

func (a *StatsAdapters) handleRecordSweep(_ context.Context, payload any) error {
	s, ok := payload.(cache.Shift)
	if !ok {
		return fmt.Errorf("invalid payload for %s", TaskTypeRecordSweep)
	}
	rec := storage.SweepRecord{
		ShiftID:   s.ID,
		Job:       s.Job,
		Kind:      string(s.Kind),
		StartedAt: s.StartedAt,
		SettledAt: s.SettledAt,
		Evicted:   s.Evicted,
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	_, err := a.Store.RecordSweep(rec)
	return err
}

func (a *StatsAdapters) handlePruneSweeps(_ context.Context, _ any) error {
	if a.Retention <= 0 {
		return nil
	}
	n, err := a.Store.PruneSweeps(a.now().Add(-a.Retention))
	if err != nil {
		return err
	}
	if n > 0 {
		log.DatabaseLogger().Info("Pruned sweep history", "rows", n, "retention", a.Retention)
	}
	return nil
}
