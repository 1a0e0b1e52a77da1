package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
)

// Janitor is the registry of sweep jobs, one per entity kind.
type Janitor struct {
	dir *Directory

	mu      sync.RWMutex
	jobs    map[entity.Kind]*Job
	order   []entity.Kind
	onShift func(Shift)
}

func newJanitor(d *Directory) *Janitor {
	return &Janitor{dir: d, jobs: make(map[entity.Kind]*Job)}
}

// Add declares the sweep job for cfg.Kind and tracks the caches of that kind
// that already exist.
func (j *Janitor) Add(cfg JobConfig) (*Job, error) {
	if _, err := entity.ParseKind(string(cfg.Kind)); err != nil {
		return nil, fmt.Errorf("add sweeper: %w", err)
	}
	j.mu.Lock()
	if _, dup := j.jobs[cfg.Kind]; dup {
		j.mu.Unlock()
		return nil, fmt.Errorf("add sweeper: kind %s already has a job", cfg.Kind)
	}
	job := NewJob(cfg, j.dir, j.dir.now)
	if j.onShift != nil {
		job.OnShift(j.onShift)
	}
	j.jobs[cfg.Kind] = job
	j.order = append(j.order, cfg.Kind)
	j.mu.Unlock()

	for _, b := range j.dir.Caches(cfg.Kind) {
		job.Track(b)
	}
	return job, nil
}

// Job returns the job for kind, or nil.
func (j *Janitor) Job(kind entity.Kind) *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jobs[kind]
}

// Jobs returns the jobs in declaration order.
func (j *Janitor) Jobs() []*Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]*Job, 0, len(j.order))
	for _, k := range j.order {
		out = append(out, j.jobs[k])
	}
	return out
}

// OnShift installs fn on every current and future job.
func (j *Janitor) OnShift(fn func(Shift)) {
	j.mu.Lock()
	j.onShift = fn
	jobs := make([]*Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		jobs = append(jobs, job)
	}
	j.mu.Unlock()
	for _, job := range jobs {
		job.OnShift(fn)
	}
}

// StartAll starts every job, stopping at the first invalid one. Jobs started
// before the failure keep running; callers should QuitAll on error.
func (j *Janitor) StartAll() error {
	for _, job := range j.Jobs() {
		if err := job.Start(); err != nil {
			return err
		}
	}
	return nil
}

// QuitAll quits every job, waiting for in-flight shifts.
func (j *Janitor) QuitAll(ctx context.Context) error {
	var errs []error
	for _, job := range j.Jobs() {
		if err := job.Quit(ctx); err != nil {
			errs = append(errs, fmt.Errorf("quit %s: %w", job.Name(), err))
		}
	}
	return errors.Join(errs...)
}
