package task

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/log"
)

// TaskHandler processes one task payload. ctx is canceled when the router closes.
type TaskHandler func(ctx context.Context, payload any) error

// TaskOptions configures how a task is dispatched and executed.
type TaskOptions struct {
	// GroupKey serializes tasks that share it. Empty means the global group.
	GroupKey string

	// IdempotencyKey rejects a second dispatch with the same key inside
	// IdempotencyTTL.
	IdempotencyKey string

	// MaxAttempts bounds retries on handler error; 0 uses RouterConfig.DefaultMaxAttempts.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	IdempotencyTTL time.Duration
}

// Task is the unit of work executed by the router.
type Task struct {
	Type    string
	Payload any
	Options TaskOptions
}

// RouterConfig configures a TaskRouter. Zero fields take the value from Defaults.
type RouterConfig struct {
	DefaultMaxAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	IdempotencyTTL     time.Duration

	// GroupBuffer is the queue length of each group.
	GroupBuffer int
	// GroupIdleTTL stops a group worker that had nothing to do for this long.
	GroupIdleTTL time.Duration
	// CleanupInterval is how often expired idempotency keys are dropped.
	CleanupInterval time.Duration

	// GlobalMaxWorkers limits concurrent handler executions across groups.
	// 0 or less means unlimited.
	GlobalMaxWorkers int
}

// Defaults returns a RouterConfig with sensible defaults.
func Defaults() RouterConfig {
	return RouterConfig{
		DefaultMaxAttempts: 3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		IdempotencyTTL:     60 * time.Second,
		GroupBuffer:        128,
		GroupIdleTTL:       2 * time.Minute,
		CleanupInterval:    2 * time.Minute,
	}
}

var (
	ErrRouterClosed    = errors.New("task router is closed")
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrDuplicateTask   = errors.New("duplicate task (idempotency key present)")
)

const globalGroup = "_global"

// TaskRouter is an in-memory dispatcher with per-group serialization,
// idempotency keys, retries with exponential backoff and interval schedules.
type TaskRouter struct {
	cfg RouterConfig

	mu       sync.Mutex
	handlers map[string]TaskHandler
	groups   map[string]*groupWorker
	inflight map[string]time.Time // idempotency key -> expiry
	closed   bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	execSem chan struct{}

	randMu sync.Mutex
	rng    *rand.Rand
}

// groupWorker owns one queue. pending counts enqueuers that hold the worker
// but have not sent yet; the worker only retires when both the queue and
// pending are empty.
type groupWorker struct {
	key     string
	ch      chan *enqueuedTask
	pending int
}

type enqueuedTask struct {
	task    Task
	opts    TaskOptions
	attempt int
}

// NewRouter creates a TaskRouter and starts its cleanup loop.
func NewRouter(cfg RouterConfig) *TaskRouter {
	def := Defaults()
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.GroupBuffer <= 0 {
		cfg.GroupBuffer = def.GroupBuffer
	}
	if cfg.GroupIdleTTL <= 0 {
		cfg.GroupIdleTTL = def.GroupIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	tr := &TaskRouter{
		cfg:      cfg,
		handlers: make(map[string]TaskHandler),
		groups:   make(map[string]*groupWorker),
		inflight: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.GlobalMaxWorkers > 0 {
		tr.execSem = make(chan struct{}, cfg.GlobalMaxWorkers)
	}

	tr.wg.Add(1)
	go tr.cleanupLoop()
	return tr
}

// RegisterHandler registers (or replaces) the handler of taskType.
func (tr *TaskRouter) RegisterHandler(taskType string, handler TaskHandler) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.handlers[taskType] = handler
}

// Dispatch enqueues t. It blocks while the group queue is full, until ctx is
// done or the router closes.
func (tr *TaskRouter) Dispatch(ctx context.Context, t Task) error {
	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		return ErrRouterClosed
	}
	if h := tr.handlers[t.Type]; h == nil {
		tr.mu.Unlock()
		return ErrUnknownTaskType
	}
	opts := tr.effectiveOptions(t.Options)
	if opts.IdempotencyKey != "" {
		now := time.Now()
		if expiry, ok := tr.inflight[opts.IdempotencyKey]; ok && now.Before(expiry) {
			tr.mu.Unlock()
			return ErrDuplicateTask
		}
		tr.inflight[opts.IdempotencyKey] = now.Add(opts.IdempotencyTTL)
	}
	gw := tr.acquireGroupLocked(opts.GroupKey)
	tr.mu.Unlock()

	return tr.send(ctx, gw, &enqueuedTask{task: t, opts: opts, attempt: 1})
}

// acquireGroupLocked returns the worker of key, starting one when needed, and
// marks a pending send on it.
func (tr *TaskRouter) acquireGroupLocked(key string) *groupWorker {
	if key == "" {
		key = globalGroup
	}
	gw, ok := tr.groups[key]
	if !ok {
		gw = &groupWorker{key: key, ch: make(chan *enqueuedTask, tr.cfg.GroupBuffer)}
		tr.groups[key] = gw
		tr.wg.Add(1)
		go tr.groupLoop(gw)
	}
	gw.pending++
	return gw
}

func (tr *TaskRouter) send(ctx context.Context, gw *groupWorker, enq *enqueuedTask) error {
	defer func() {
		tr.mu.Lock()
		gw.pending--
		tr.mu.Unlock()
	}()
	select {
	case gw.ch <- enq:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-tr.ctx.Done():
		return ErrRouterClosed
	}
}

// Close stops every worker and schedule and waits for them. Queued tasks
// that have not started are dropped.
func (tr *TaskRouter) Close() {
	tr.stopOnce.Do(func() {
		tr.mu.Lock()
		tr.closed = true
		tr.mu.Unlock()
		tr.cancel()
		tr.wg.Wait()
	})
}

// Stats is a snapshot for debugging and monitoring.
type Stats struct {
	GroupsCount     int
	InflightCount   int
	RouterClosed    bool
	RegisteredTypes int
}

func (tr *TaskRouter) Stats() Stats {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return Stats{
		GroupsCount:     len(tr.groups),
		InflightCount:   len(tr.inflight),
		RouterClosed:    tr.closed,
		RegisteredTypes: len(tr.handlers),
	}
}

// ScheduleEvery dispatches t every interval until the returned cancel is
// called or the router closes. The first run happens after one interval.
func (tr *TaskRouter) ScheduleEvery(interval time.Duration, t Task) Cancel {
	if interval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	var once sync.Once

	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		return func() {}
	}
	tr.wg.Add(1)
	tr.mu.Unlock()

	go func() {
		defer tr.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				err := tr.Dispatch(tr.ctx, t)
				if err != nil && !errors.Is(err, ErrDuplicateTask) && !errors.Is(err, ErrRouterClosed) && !errors.Is(err, context.Canceled) {
					log.ApplicationLogger().Warn("Scheduled task not dispatched", "type", t.Type, "err", err)
				}
			case <-stop:
				return
			case <-tr.ctx.Done():
				return
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

func (tr *TaskRouter) effectiveOptions(opt TaskOptions) TaskOptions {
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = tr.cfg.DefaultMaxAttempts
	}
	if opt.InitialBackoff <= 0 {
		opt.InitialBackoff = tr.cfg.InitialBackoff
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = tr.cfg.MaxBackoff
	}
	if opt.IdempotencyTTL <= 0 {
		opt.IdempotencyTTL = tr.cfg.IdempotencyTTL
	}
	return opt
}

func (tr *TaskRouter) groupLoop(gw *groupWorker) {
	defer tr.wg.Done()
	idle := time.NewTimer(tr.cfg.GroupIdleTTL)
	defer idle.Stop()

	for {
		select {
		case enq := <-gw.ch:
			tr.run(gw, enq)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(tr.cfg.GroupIdleTTL)
		case <-idle.C:
			if tr.retire(gw) {
				return
			}
			idle.Reset(tr.cfg.GroupIdleTTL)
		case <-tr.ctx.Done():
			return
		}
	}
}

// retire removes an idle group unless something is queued or about to be.
func (tr *TaskRouter) retire(gw *groupWorker) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if gw.pending > 0 || len(gw.ch) > 0 {
		return false
	}
	if tr.groups[gw.key] == gw {
		delete(tr.groups, gw.key)
	}
	return true
}

func (tr *TaskRouter) run(gw *groupWorker, enq *enqueuedTask) {
	tr.mu.Lock()
	handler := tr.handlers[enq.task.Type]
	tr.mu.Unlock()
	if handler == nil {
		log.ApplicationLogger().Warn("Task dropped (handler not registered)", "type", enq.task.Type, "group", gw.key)
		return
	}

	if tr.execSem != nil {
		select {
		case tr.execSem <- struct{}{}:
		case <-tr.ctx.Done():
			return
		}
	}
	err := invoke(tr.ctx, handler, enq.task.Payload)
	if tr.execSem != nil {
		<-tr.execSem
	}
	if err == nil {
		return
	}

	if enq.attempt >= enq.opts.MaxAttempts || tr.ctx.Err() != nil {
		log.ErrorLoggerRaw().Error("Task failed; max attempts reached",
			"type", enq.task.Type,
			"group", gw.key,
			"attempts", enq.attempt,
			"err", err,
		)
		return
	}

	delay := tr.computeBackoff(enq.opts.InitialBackoff, enq.opts.MaxBackoff, enq.attempt)
	enq.attempt++
	log.ApplicationLogger().Warn("Task failed, scheduling retry",
		"type", enq.task.Type,
		"group", gw.key,
		"attempt", enq.attempt,
		"max_attempts", enq.opts.MaxAttempts,
		"backoff", delay.String(),
		"err", err,
	)

	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		return
	}
	tr.wg.Add(1)
	tr.mu.Unlock()
	go func() {
		defer tr.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-tr.ctx.Done():
			return
		}
		tr.mu.Lock()
		if tr.closed {
			tr.mu.Unlock()
			return
		}
		target := tr.acquireGroupLocked(enq.opts.GroupKey)
		tr.mu.Unlock()
		_ = tr.send(tr.ctx, target, enq)
	}()
}

// invoke runs handler and turns a panic into an error.
func invoke(ctx context.Context, handler TaskHandler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("task handler panicked")
			log.ErrorLoggerRaw().Error("Task handler panicked", "panic", r)
		}
	}()
	return handler(ctx, payload)
}

func (tr *TaskRouter) computeBackoff(initial, maxBackoff time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			backoff = maxBackoff
			break
		}
	}
	return clampDuration(backoff+tr.jitter(backoff, 0.1), initial, maxBackoff)
}

// jitter returns a random duration in [-d*ratio, +d*ratio].
func (tr *TaskRouter) jitter(d time.Duration, ratio float64) time.Duration {
	delta := int64(float64(d) * ratio)
	if delta <= 0 {
		return 0
	}
	tr.randMu.Lock()
	defer tr.randMu.Unlock()
	return time.Duration(tr.rng.Int63n(2*delta+1) - delta)
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	return max(min(v, hi), lo)
}

func (tr *TaskRouter) cleanupLoop() {
	defer tr.wg.Done()
	t := time.NewTicker(tr.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-tr.ctx.Done():
			return
		case <-t.C:
			tr.expireKeys(time.Now())
		}
	}
}

func (tr *TaskRouter) expireKeys(now time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for k, expiry := range tr.inflight {
		if now.After(expiry) {
			delete(tr.inflight, k)
		}
	}
}
