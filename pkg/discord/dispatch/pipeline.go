// Package dispatch turns gateway envelopes into cache mutations and
// client-facing events.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/small-frappuccino/discordsync/pkg/discord/events"
	"github.com/small-frappuccino/discordsync/pkg/discord/perf"
	"github.com/small-frappuccino/discordsync/pkg/discord/state"
	"github.com/small-frappuccino/discordsync/pkg/errutil"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// OpDispatch is the gateway opcode of dispatch envelopes; other opcodes are
// the transport's business and are ignored here.
const OpDispatch = 0

// Envelope is one inbound gateway message.
type Envelope struct {
	Op      int
	Tag     string
	Payload json.RawMessage
	Seq     int64
}

// Event is a client-facing event produced by a handler.
type Event struct {
	Name    string
	Payload any
}

// Handler applies one payload to the state. It runs with the directory state
// lock held; the events it returns are emitted after the lock is released,
// even when it also returns an error.
type Handler func(p *Pipeline, raw json.RawMessage) ([]Event, error)

// HandlerError is reported when a handler fails or panics.
type HandlerError struct {
	Tag string
	Seq int64
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("dispatch %s (seq %d): %v", e.Tag, e.Seq, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

var bootstrapTags = map[string]bool{
	"READY":               true,
	"RESUMED":             true,
	"GUILD_CREATE":        true,
	"GUILD_DELETE":        true,
	"GUILD_MEMBERS_CHUNK": true,
	"GUILD_MEMBER_ADD":    true,
	"GUILD_MEMBER_REMOVE": true,
}

// IsBootstrap reports whether tag is handled before the pipeline is ready.
// Bootstrap tags can not be disabled.
func IsBootstrap(tag string) bool { return bootstrapTags[tag] }

// Config tunes a Pipeline.
type Config struct {
	// DisabledEvents are dropped before handler lookup, bootstrap tags excepted.
	DisabledEvents []string
	// TrackEvents keeps a per-tag counter of every dispatch envelope seen.
	TrackEvents bool
	// Perf logs slow handlers; nil uses perf.Default().
	Perf *perf.Tracker
	// OnError is called after a handler failure has been emitted.
	OnError func(*HandlerError)
}

// Pipeline is the pre-ready/ready state machine in front of the handlers.
// Envelopes are handled one at a time, in the order Dispatch is called,
// except that non-bootstrap envelopes received before SetReady are held in a
// FIFO backlog and handled by SetReady before anything dispatched after it.
type Pipeline struct {
	st       *state.State
	em       *events.Emitter
	cfg      Config
	perf     *perf.Tracker
	disabled map[string]bool

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu      sync.Mutex
	backlog []Envelope
	session readyInfo
	// ready and queued are written under mu and read without it, so
	// listeners can query them while events are emitted.
	ready  atomic.Bool
	queued atomic.Int64

	// emitMu is taken before mu is released so events leave in handling order.
	emitMu sync.Mutex

	countsMu sync.Mutex
	counts   map[string]uint64
}

type readyInfo struct {
	sessionID string
	guilds    int
}

// New builds a pipeline with every built-in handler registered.
func New(st *state.State, em *events.Emitter, cfg Config) *Pipeline {
	p := &Pipeline{
		st:       st,
		em:       em,
		cfg:      cfg,
		perf:     cfg.Perf,
		handlers: make(map[string]Handler),
		disabled: make(map[string]bool),
		counts:   make(map[string]uint64),
	}
	if p.perf == nil {
		p.perf = perf.Default()
	}
	for _, tag := range cfg.DisabledEvents {
		if IsBootstrap(tag) {
			log.DiscordLogger().Warn("Bootstrap events can not be disabled", "tag", tag)
			continue
		}
		p.disabled[tag] = true
	}
	registerBuiltins(p)
	return p
}

func (p *Pipeline) State() *state.State      { return p.st }
func (p *Pipeline) Emitter() *events.Emitter { return p.em }

// Register installs h for tag, replacing any built-in handler.
func (p *Pipeline) Register(tag string, h Handler) {
	p.handlersMu.Lock()
	p.handlers[tag] = h
	p.handlersMu.Unlock()
}

// Ready reports whether SetReady has run.
func (p *Pipeline) Ready() bool { return p.ready.Load() }

// Pending is the size of the pre-ready backlog.
func (p *Pipeline) Pending() int { return int(p.queued.Load()) }

// Counts returns a copy of the per-tag counters. It is empty unless
// TrackEvents is set.
func (p *Pipeline) Counts() map[string]uint64 {
	p.countsMu.Lock()
	defer p.countsMu.Unlock()
	return maps.Clone(p.counts)
}

// Dispatch handles or buffers one envelope. Listeners of the emitted events
// run on the calling goroutine after the pipeline lock is released. They may
// call Ready, Pending, Counts and Register but not Dispatch, SetReady or Reset.
func (p *Pipeline) Dispatch(env Envelope) {
	if env.Op != OpDispatch || env.Tag == "" {
		return
	}
	if p.cfg.TrackEvents {
		p.countsMu.Lock()
		p.counts[env.Tag]++
		p.countsMu.Unlock()
	}
	bootstrap := IsBootstrap(env.Tag)
	if p.disabled[env.Tag] && !bootstrap {
		return
	}

	p.mu.Lock()
	if !p.ready.Load() && !bootstrap {
		p.backlog = append(p.backlog, env)
		p.queued.Store(int64(len(p.backlog)))
		p.mu.Unlock()
		return
	}
	out := p.handle(env)
	p.release(out)
}

// SetReady drains the backlog in arrival order, marks the pipeline ready and
// emits the ready event. Calling it again is a no-op.
func (p *Pipeline) SetReady() {
	p.mu.Lock()
	if p.ready.Load() {
		p.mu.Unlock()
		return
	}
	out := make([]outcome, 0, len(p.backlog)+1)
	for len(p.backlog) > 0 {
		env := p.backlog[0]
		p.backlog[0] = Envelope{}
		p.backlog = p.backlog[1:]
		p.queued.Store(int64(len(p.backlog)))
		out = append(out, p.handle(env))
	}
	p.backlog = nil
	p.ready.Store(true)
	log.DiscordLogger().Info("Dispatch pipeline ready", "drained", len(out), "guilds", p.session.guilds)
	out = append(out, outcome{events: []Event{
		event(events.Ready, events.ReadyPayload{User: p.st.Self(), SessionID: p.session.sessionID, Guilds: p.session.guilds}),
	}})
	p.release(out...)
}

// Reset returns the pipeline to pre-ready, for a new session that will send
// READY again. The backlog is kept.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.ready.Store(false)
	p.mu.Unlock()
}

// Run dispatches envelopes from ch until it is closed or ctx ends.
func (p *Pipeline) Run(ctx context.Context, ch <-chan Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			p.Dispatch(env)
		}
	}
}

// outcome is what one handled envelope has to emit.
type outcome struct {
	events []Event
	failed *HandlerError
}

// release hands over from mu to emitMu, then emits out. Caller must hold p.mu.
func (p *Pipeline) release(out ...outcome) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.mu.Unlock()

	for _, o := range out {
		for _, ev := range o.events {
			p.emit(ev.Name, ev.Payload)
		}
		if o.failed != nil && p.cfg.OnError != nil {
			p.cfg.OnError(o.failed)
		}
	}
}

// handle runs the handler for env and returns what it has to emit. Caller
// must hold p.mu.
func (p *Pipeline) handle(env Envelope) outcome {
	p.handlersMu.RLock()
	h, ok := p.handlers[env.Tag]
	p.handlersMu.RUnlock()
	if !ok {
		return outcome{events: []Event{event(events.Debug, events.DebugPayload{Message: "no handler", Tag: env.Tag})}}
	}

	done := p.perf.StartGatewayEvent(env.Tag, slog.Int64("seq", env.Seq))
	var out []Event
	err := errutil.RunSafely(env.Tag, func() error {
		dir := p.st.Directory()
		dir.Lock()
		defer dir.Unlock()
		var err error
		out, err = h(p, env.Payload)
		return err
	})
	done()

	var o outcome
	if err != nil {
		o.failed = &HandlerError{Tag: env.Tag, Seq: env.Seq, Err: err}
		log.DiscordLogger().Warn("Dispatch handler failed", "tag", env.Tag, "seq", env.Seq, "error", err)
		o.events = append(o.events, event(events.Error, events.ErrorPayload{Err: o.failed, Tag: env.Tag}))
	} else {
		o.events = append(o.events, event(events.Debug, events.DebugPayload{Message: "handled", Tag: env.Tag}))
	}
	// A handler that applied part of a payload still reports what it applied.
	o.events = append(o.events, out...)
	return o
}

func (p *Pipeline) emit(name string, payload any) {
	if p.em != nil {
		p.em.Emit(name, payload)
	}
}
