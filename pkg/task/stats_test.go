package task

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/storage"
)

type fakeSource struct {
	mu     sync.Mutex
	counts map[string]uint64
	stats  map[entity.Kind]cache.Stats
}

func (f *fakeSource) Counts() map[string]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]uint64, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out
}

func (f *fakeSource) Stats() map[entity.Kind]cache.Stats { return f.stats }

func (f *fakeSource) set(tag string, n uint64) {
	f.mu.Lock()
	f.counts[tag] = n
	f.mu.Unlock()
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	s := storage.NewStore(filepath.Join(t.TempDir(), "stats.db"))
	if err := s.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFlushWritesDeltas(t *testing.T) {
	store := newStore(t)
	router := NewRouter(newTestConfig())
	t.Cleanup(router.Close)
	src := &fakeSource{
		counts: map[string]uint64{"MESSAGE_CREATE": 4, "READY": 1},
		stats:  map[entity.Kind]cache.Stats{entity.KindMessage: {Kind: entity.KindMessage, Caches: 1, Size: 2, Limit: 2, Evictions: 3}},
	}
	a := NewStatsAdapters(router, store, src, time.Hour)

	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("flush1: %v", err)
	}
	src.set("MESSAGE_CREATE", 6)
	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("flush2: %v", err)
	}
	// A reset pipeline starts counting from zero again.
	src.set("READY", 1)
	a.mu.Lock()
	a.last["READY"] = 5
	a.mu.Unlock()
	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("flush3: %v", err)
	}

	counts, err := store.EventCounts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["MESSAGE_CREATE"] != 6 || counts["READY"] != 2 {
		t.Fatalf("unexpected persisted counts %v", counts)
	}
	stats, err := store.CacheStats()
	if err != nil || len(stats) != 1 || stats[0].Kind != "message" || stats[0].Evictions != 3 {
		t.Fatalf("unexpected persisted stats %v %+v", err, stats)
	}
	if _, ok, _ := store.GetHeartbeat(); !ok {
		t.Fatalf("flush should record a heartbeat")
	}
	if _, ok, _ := store.GetLastEvent(); !ok {
		t.Fatalf("flush with new events should record the last event time")
	}
}

func TestEnqueueShiftRecordsSweep(t *testing.T) {
	store := newStore(t)
	router := NewRouter(newTestConfig())
	t.Cleanup(router.Close)
	a := NewStatsAdapters(router, store, &fakeSource{counts: map[string]uint64{}}, time.Hour)

	start := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	a.EnqueueShift(cache.Shift{ID: 7, Job: "messages", Kind: entity.KindMessage, StartedAt: start, SettledAt: start.Add(time.Millisecond), Evicted: 2, Err: errors.New("partial")})

	deadline := time.Now().Add(time.Second)
	for {
		recs, err := store.RecentSweeps(10)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(recs) == 1 {
			if recs[0].ShiftID != 7 || recs[0].Evicted != 2 || recs[0].Error != "partial" || recs[0].Kind != "message" {
				t.Fatalf("unexpected record %+v", recs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweep shift was never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPruneUsesRetention(t *testing.T) {
	store := newStore(t)
	router := NewRouter(newTestConfig())
	t.Cleanup(router.Close)
	a := NewStatsAdapters(router, store, &fakeSource{counts: map[string]uint64{}}, 24*time.Hour)
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for i, age := range []time.Duration{48 * time.Hour, time.Hour} {
		at := now.Add(-age)
		if _, err := store.RecordSweep(storage.SweepRecord{ShiftID: uint64(i), Job: "j", Kind: "user", StartedAt: at, SettledAt: at}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := a.handlePruneSweeps(context.Background(), nil); err != nil {
		t.Fatalf("prune: %v", err)
	}
	recs, err := store.RecentSweeps(10)
	if err != nil || len(recs) != 1 || recs[0].ShiftID != 1 {
		t.Fatalf("unexpected rows after prune: %v %+v", err, recs)
	}

	a.Retention = 0
	if err := a.handlePruneSweeps(context.Background(), nil); err != nil {
		t.Fatalf("disabled prune: %v", err)
	}
}

func TestStartSchedulesFlush(t *testing.T) {
	store := newStore(t)
	router := NewRouter(newTestConfig())
	t.Cleanup(router.Close)
	a := NewStatsAdapters(router, store, &fakeSource{counts: map[string]uint64{"READY": 1}}, time.Hour)
	a.Start(10 * time.Millisecond)
	defer a.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		counts, err := store.EventCounts()
		if err != nil {
			t.Fatalf("counts: %v", err)
		}
		if counts["READY"] == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduled flush never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordSweepRejectsBadPayload(t *testing.T) {
	router := NewRouter(newTestConfig())
	t.Cleanup(router.Close)
	a := NewStatsAdapters(router, newStore(t), &fakeSource{counts: map[string]uint64{}}, time.Hour)
	if err := a.handleRecordSweep(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for a non-shift payload")
	}
}
