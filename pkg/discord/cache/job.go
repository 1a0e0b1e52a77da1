package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/errutil"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// ErrInvalidInterval is returned by Start for a job whose interval is not positive.
var ErrInvalidInterval = errors.New("sweep job interval must be positive")

// ErrJobStopped is the Err of a shift requested after Quit.
var ErrJobStopped = errors.New("sweep job stopped")

// JobConfig declares a sweep job for one entity kind.
type JobConfig struct {
	Name     string        `json:"name" yaml:"name"`
	Kind     entity.Kind   `json:"kind" yaml:"kind"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Lifetime <= 0 keeps entries forever; every shift reports SweepUnlimited.
	Lifetime time.Duration `json:"lifetime" yaml:"lifetime"`
}

// JobState is the state of a Job's timer loop.
type JobState int

const (
	JobIdle JobState = iota
	JobArmed
	JobRunning
	JobStopped
)

func (s JobState) String() string {
	switch s {
	case JobIdle:
		return "idle"
	case JobArmed:
		return "armed"
	case JobRunning:
		return "running"
	case JobStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Shift is one execution of a Job.
type Shift struct {
	ID        uint64
	Job       string
	Kind      entity.Kind
	StartedAt time.Time
	SettledAt time.Time
	// Evicted is SweepUnlimited when the lifetime disables eviction.
	Evicted int
	Err     error
}

// Settled reports whether the shift has completed.
func (s Shift) Settled() bool { return !s.SettledAt.IsZero() }

// Job is a self-rescheduling sweep. The next timer is armed only after the
// current shift settles, so shifts of one job never overlap.
type Job struct {
	cfg  JobConfig
	lock sync.Locker
	now  func() time.Time

	exec sync.Mutex // held for the duration of a shift

	mu       sync.Mutex
	state    JobState
	timer    *time.Timer
	caches   []*Bounded
	nextID   uint64
	current  Shift
	inflight sync.WaitGroup
	onShift  func(Shift)
}

// NewJob creates an idle job. lock serializes the sweep with other entity
// mutation; it may be nil when the caches are not shared.
func NewJob(cfg JobConfig, lock sync.Locker, now func() time.Time) *Job {
	if now == nil {
		now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Kind) + "-sweeper"
	}
	return &Job{cfg: cfg, lock: lock, now: now}
}

func (j *Job) Name() string      { return j.cfg.Name }
func (j *Job) Config() JobConfig { return j.cfg }

func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// CurrentShift returns the in-flight shift, or the last settled one.
func (j *Job) CurrentShift() Shift {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.current
}

// OnShift sets a hook called after every shift settles.
func (j *Job) OnShift(fn func(Shift)) {
	j.mu.Lock()
	j.onShift = fn
	j.mu.Unlock()
}

// Track adds a cache to the sweep set.
func (j *Job) Track(b *Bounded) {
	if b == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range j.caches {
		if c == b {
			return
		}
	}
	j.caches = append(j.caches, b)
}

// Untrack removes a cache from the sweep set.
func (j *Job) Untrack(b *Bounded) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, c := range j.caches {
		if c == b {
			j.caches = append(j.caches[:i], j.caches[i+1:]...)
			return
		}
	}
}

// Start arms the timer. Starting an armed or running job is a no-op.
func (j *Job) Start() error {
	if j.cfg.Interval <= 0 {
		return fmt.Errorf("start %s (interval %s): %w", j.cfg.Name, j.cfg.Interval, ErrInvalidInterval)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case JobArmed, JobRunning:
		return nil
	}
	j.state = JobArmed
	j.armLocked()
	return nil
}

// Quit waits for the in-flight shift, if any, and disarms the timer. It
// returns ctx.Err() if ctx ends first; the job is stopped either way.
func (j *Job) Quit(ctx context.Context) error {
	j.mu.Lock()
	if j.state == JobStopped {
		j.mu.Unlock()
		return nil
	}
	j.state = JobStopped
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	j.mu.Unlock()

	done := make(chan struct{})
	go func() {
		j.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunShift executes one shift synchronously, waiting for any in-flight one
// first. After Quit it sweeps nothing and returns a shift with ID 0 and
// ErrJobStopped.
func (j *Job) RunShift() Shift {
	j.mu.Lock()
	if j.state == JobStopped {
		j.mu.Unlock()
		return Shift{Job: j.cfg.Name, Kind: j.cfg.Kind, Err: ErrJobStopped}
	}
	j.inflight.Add(1)
	j.mu.Unlock()
	return j.shift()
}

func (j *Job) armLocked() {
	j.timer = time.AfterFunc(j.cfg.Interval, j.fire)
}

func (j *Job) fire() {
	j.mu.Lock()
	if j.state != JobArmed {
		j.mu.Unlock()
		return
	}
	j.state = JobRunning
	j.timer = nil
	j.inflight.Add(1)
	j.mu.Unlock()

	j.shift()

	j.mu.Lock()
	if j.state == JobRunning {
		j.state = JobArmed
		j.armLocked()
	}
	j.mu.Unlock()
}

// shift runs one sweep. The caller must have added to j.inflight.
func (j *Job) shift() Shift {
	defer j.inflight.Done()
	j.exec.Lock()
	defer j.exec.Unlock()

	j.mu.Lock()
	j.nextID++
	s := Shift{ID: j.nextID, Job: j.cfg.Name, Kind: j.cfg.Kind, StartedAt: j.now()}
	j.current = s
	caches := append([]*Bounded(nil), j.caches...)
	j.mu.Unlock()

	var evicted int
	s.Err = errutil.RunSafely("sweep "+j.cfg.Name, func() error {
		evicted = j.sweep(caches)
		return nil
	})
	s.Evicted = evicted
	s.SettledAt = j.now()

	j.mu.Lock()
	j.current = s
	hook := j.onShift
	j.mu.Unlock()

	j.report(s)
	if hook != nil {
		hook(s)
	}
	return s
}

func (j *Job) sweep(caches []*Bounded) int {
	if j.cfg.Lifetime <= 0 {
		return SweepUnlimited
	}
	if j.lock != nil {
		j.lock.Lock()
		defer j.lock.Unlock()
	}
	now := j.now()
	total := 0
	for _, c := range caches {
		total += c.Sweep(now, j.cfg.Lifetime)
	}
	return total
}

func (j *Job) report(s Shift) {
	if s.Err != nil {
		log.CacheLogger().Warn("Sweep shift failed", "job", s.Job, "kind", string(s.Kind), "shift", s.ID, "error", s.Err)
		return
	}
	if s.Evicted == SweepUnlimited {
		log.CacheLogger().Debug("Sweep shift skipped, unlimited lifetime", "job", s.Job, "kind", string(s.Kind), "shift", s.ID)
		return
	}
	log.CacheLogger().Debug("Sweep shift settled",
		"job", s.Job,
		"kind", string(s.Kind),
		"shift", s.ID,
		"evicted", s.Evicted,
		"duration_ms", s.SettledAt.Sub(s.StartedAt).Milliseconds(),
	)
}
