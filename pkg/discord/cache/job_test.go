package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
)

func TestJobStartRejectsInvalidInterval(t *testing.T) {
	for _, iv := range []time.Duration{0, -time.Second} {
		job := NewJob(JobConfig{Kind: entity.KindMessage, Interval: iv, Lifetime: time.Second}, nil, nil)
		if err := job.Start(); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("interval %s: expected ErrInvalidInterval, got %v", iv, err)
		}
		if job.State() != JobIdle {
			t.Fatalf("interval %s: expected idle job, got %s", iv, job.State())
		}
	}
}

func TestMessageSweepScenario(t *testing.T) {
	clock := newFakeClock()
	dir, err := NewDirectory(DirectoryConfig{
		Clock:    clock.Now,
		Sweepers: []JobConfig{{Kind: entity.KindMessage, Interval: time.Second, Lifetime: 2 * time.Second}},
	})
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	job := dir.Janitor().Job(entity.KindMessage)
	if job == nil {
		t.Fatalf("expected message job")
	}
	messages := dir.New(entity.KindMessage, "c1")

	messages.Set("A", newMessage(t, "A", clock.Set(0)))

	clock.Set(2500 * time.Millisecond)
	if s := job.RunShift(); s.Evicted != 1 || s.ID != 1 {
		t.Fatalf("expected shift 1 to evict A, got %+v", s)
	}
	if messages.Has("A") {
		t.Fatalf("expected A to be evicted")
	}

	messages.Set("B", newMessage(t, "B", clock.Set(2600*time.Millisecond)))

	clock.Set(3500 * time.Millisecond)
	if s := job.RunShift(); s.Evicted != 0 || s.ID != 2 {
		t.Fatalf("expected shift 2 to retain B, got %+v", s)
	}
	if !messages.Has("B") {
		t.Fatalf("expected B to be retained")
	}
}

func TestEditedMessageAgesFromEdit(t *testing.T) {
	clock := newFakeClock()
	b := NewBounded(entity.KindMessage, "c1", DefaultPolicy(), clock.Now)
	m := newMessage(t, "m1", clock.Set(0))
	b.Set("m1", m)
	if err := m.Patch([]byte(`{"content":"edited","edited_timestamp":"2024-01-01T00:00:03Z"}`)); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if n := b.Sweep(clock.Set(4*time.Second), 2*time.Second); n != 0 {
		t.Fatalf("edit should refresh eligibility, evicted %d", n)
	}
	if n := b.Sweep(clock.Set(6*time.Second), 2*time.Second); n != 1 {
		t.Fatalf("expected eviction 3s after the edit, got %d", n)
	}
}

func TestUnlimitedLifetimeNeverEvicts(t *testing.T) {
	clock := newFakeClock()
	dir, err := NewDirectory(DirectoryConfig{
		Clock:    clock.Now,
		Sweepers: []JobConfig{{Kind: entity.KindUser, Interval: time.Second, Lifetime: 0}},
	})
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	users := dir.New(entity.KindUser, "")
	users.Set("1", newUser(t, "1"))
	job := dir.Janitor().Job(entity.KindUser)
	for i := 1; i <= 5; i++ {
		clock.Set(time.Duration(i) * time.Hour)
		if s := job.RunShift(); s.Evicted != SweepUnlimited {
			t.Fatalf("shift %d: expected SweepUnlimited, got %d", i, s.Evicted)
		}
	}
	if users.Len() != 1 {
		t.Fatalf("unlimited lifetime evicted entries")
	}
}

// slowLock stretches every sweep so overlapping shifts would be visible.
type slowLock struct {
	mu sync.Mutex
}

func (l *slowLock) Lock() {
	l.mu.Lock()
	time.Sleep(3 * time.Millisecond)
}

func (l *slowLock) Unlock() { l.mu.Unlock() }

func TestJobShiftsNeverOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)

	job := NewJob(JobConfig{Kind: entity.KindUser, Interval: time.Millisecond, Lifetime: time.Minute}, &slowLock{}, nil)
	job.Track(NewBounded(entity.KindUser, "", DefaultPolicy(), nil))

	var (
		mu     sync.Mutex
		shifts []Shift
		done   = make(chan struct{})
	)
	job.OnShift(func(s Shift) {
		mu.Lock()
		defer mu.Unlock()
		shifts = append(shifts, s)
		if len(shifts) == 5 {
			close(done)
		}
	})
	if err := job.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for shifts")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := job.Quit(ctx); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if job.State() != JobStopped {
		t.Fatalf("expected stopped, got %s", job.State())
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(shifts); i++ {
		prev, cur := shifts[i-1], shifts[i]
		if cur.ID != prev.ID+1 {
			t.Fatalf("shift ids not monotonic: %d then %d", prev.ID, cur.ID)
		}
		if cur.StartedAt.Before(prev.SettledAt) {
			t.Fatalf("shift %d started before shift %d settled", cur.ID, prev.ID)
		}
	}
}

func TestJobQuitWaitsForInflightShift(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	entered := make(chan struct{})
	lock := &gateLock{gate: gate, entered: entered}
	job := NewJob(JobConfig{Kind: entity.KindUser, Interval: time.Millisecond, Lifetime: time.Minute}, lock, nil)
	if err := job.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered

	quitDone := make(chan error, 1)
	go func() { quitDone <- job.Quit(context.Background()) }()

	select {
	case err := <-quitDone:
		t.Fatalf("quit returned before the shift settled: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(gate)
	if err := <-quitDone; err != nil {
		t.Fatalf("quit: %v", err)
	}
	if s := job.CurrentShift(); !s.Settled() || s.ID != 1 {
		t.Fatalf("expected shift 1 settled, got %+v", s)
	}
	if err := job.Quit(context.Background()); err != nil {
		t.Fatalf("second quit: %v", err)
	}
}

func TestRunShiftAfterQuitIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	messages := NewBounded(entity.KindMessage, "c1", DefaultPolicy(), clock.Now)
	messages.Set("A", newMessage(t, "A", clock.Set(0)))
	job := NewJob(JobConfig{Kind: entity.KindMessage, Interval: time.Hour, Lifetime: time.Second}, &sync.Mutex{}, clock.Now)
	job.Track(messages)
	if err := job.Quit(context.Background()); err != nil {
		t.Fatalf("quit: %v", err)
	}

	clock.Set(5 * time.Second)
	for i := 0; i < 2; i++ {
		s := job.RunShift()
		if s.ID != 0 || s.Evicted != 0 || !errors.Is(s.Err, ErrJobStopped) {
			t.Fatalf("expected a rejected shift, got %+v", s)
		}
	}
	if !messages.Has("A") {
		t.Fatalf("a stopped job must not sweep")
	}
	if err := job.Quit(context.Background()); err != nil {
		t.Fatalf("second quit: %v", err)
	}
}

// gateLock blocks the first sweep until gate is closed.
type gateLock struct {
	mu      sync.Mutex
	once    sync.Once
	gate    chan struct{}
	entered chan struct{}
}

func (l *gateLock) Lock() {
	l.once.Do(func() {
		close(l.entered)
		<-l.gate
	})
	l.mu.Lock()
}

func (l *gateLock) Unlock() { l.mu.Unlock() }

func TestJobQuitHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	job := NewJob(JobConfig{Kind: entity.KindUser, Interval: time.Millisecond, Lifetime: time.Minute}, &gateLock{gate: gate, entered: entered}, nil)
	if err := job.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := job.Quit(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(gate)
}
