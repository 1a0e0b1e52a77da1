package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/events"
	"github.com/small-frappuccino/discordsync/pkg/discord/state"
)

const (
	readyPayload = `{"session_id":"s1","user":{"id":"bot","username":"sync"},"guilds":[{"id":"g1","unavailable":true}]}`
	guildPayload = `{"id":"g1","name":"Guild","member_count":2,
		"roles":[{"id":"r1","name":"everyone"}],
		"channels":[{"id":"c1","type":0,"name":"general"}],
		"members":[{"user":{"id":"u1","username":"ana"},"roles":[]},{"user":{"id":"u2","username":"bo"},"roles":["r1"]}],
		"presences":[{"user":{"id":"u1"},"status":"online"}],
		"voice_states":[]}`
)

// recorder keeps the names and payloads of every event it listens to.
type recorder struct {
	mu       sync.Mutex
	names    []string
	payloads map[string][]any
}

func record(em *events.Emitter, names ...string) *recorder {
	r := &recorder{payloads: make(map[string][]any)}
	for _, name := range names {
		name := name
		em.On(name, func(payload any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.names = append(r.names, name)
			r.payloads[name] = append(r.payloads[name], payload)
		})
	}
	return r
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads[name])
}

func (r *recorder) last(name string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.payloads[name]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

func newTestPipeline(t *testing.T, cfg Config, opts ...state.Option) *Pipeline {
	t.Helper()
	dir, err := cache.NewDirectory(cache.DirectoryConfig{})
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	return New(state.New(dir, nil, opts...), events.NewEmitter(), cfg)
}

var seq int64

func send(p *Pipeline, tag, payload string) {
	seq++
	p.Dispatch(Envelope{Op: OpDispatch, Tag: tag, Payload: json.RawMessage(payload), Seq: seq})
}

// readyPipeline returns a pipeline that went through READY, the g1 guild
// create and SetReady.
func readyPipeline(t *testing.T, cfg Config, opts ...state.Option) *Pipeline {
	t.Helper()
	p := newTestPipeline(t, cfg, opts...)
	send(p, "READY", readyPayload)
	send(p, "GUILD_CREATE", guildPayload)
	p.SetReady()
	return p
}

func TestPreReadyBuffersAndDrainsInOrder(t *testing.T) {
	p := newTestPipeline(t, Config{})
	rec := record(p.Emitter(), events.Ready, events.GuildCreate, events.MessageCreate, events.MessageUpdate)

	send(p, "READY", readyPayload)
	send(p, "GUILD_CREATE", guildPayload)
	send(p, "MESSAGE_CREATE", `{"id":"m1","channel_id":"c1","guild_id":"g1","content":"hi","author":{"id":"u1"},"timestamp":"2024-01-01T00:00:00Z"}`)
	send(p, "MESSAGE_UPDATE", `{"id":"m1","channel_id":"c1","content":"hello","edited_timestamp":"2024-01-01T00:01:00Z"}`)

	if p.Ready() || p.Pending() != 2 {
		t.Fatalf("expected 2 buffered envelopes before ready, got ready=%v pending=%d", p.Ready(), p.Pending())
	}
	if _, ok := p.State().Guilds.Get("g1"); !ok {
		t.Fatalf("bootstrap GUILD_CREATE must be applied before ready")
	}
	if p.State().Messages("c1").Len() != 0 {
		t.Fatalf("buffered messages must not be applied before ready")
	}
	if len(rec.seen()) != 0 {
		t.Fatalf("no client events expected before ready, got %v", rec.seen())
	}

	p.SetReady()
	want := []string{events.MessageCreate, events.MessageUpdate, events.Ready}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	m, ok := p.State().Messages("c1").Get("m1")
	if !ok || m.Content != "hello" || m.PreviousContent != "hi" {
		t.Fatalf("unexpected message after drain: %+v", m)
	}
	ready := rec.last(events.Ready).(events.ReadyPayload)
	if ready.SessionID != "s1" || ready.Guilds != 1 || ready.User == nil || ready.User.ID != "bot" {
		t.Fatalf("unexpected ready payload: %+v", ready)
	}

	p.SetReady()
	if rec.count(events.Ready) != 1 {
		t.Fatalf("SetReady must be idempotent")
	}
}

func TestResetReturnsToBuffering(t *testing.T) {
	p := readyPipeline(t, Config{})
	p.Reset()
	send(p, "TYPING_START", `{"channel_id":"c1","user_id":"u1","timestamp":1700000000}`)
	if p.Pending() != 1 {
		t.Fatalf("expected buffering after Reset, pending=%d", p.Pending())
	}
}

func TestBootstrapTagsCannotBeDisabled(t *testing.T) {
	p := newTestPipeline(t, Config{DisabledEvents: []string{"GUILD_CREATE", "TYPING_START"}, TrackEvents: true})
	rec := record(p.Emitter(), events.TypingStart)

	send(p, "READY", readyPayload)
	send(p, "GUILD_CREATE", guildPayload)
	if _, ok := p.State().Guilds.Get("g1"); !ok {
		t.Fatalf("GUILD_CREATE was suppressed")
	}
	p.SetReady()
	send(p, "TYPING_START", `{"channel_id":"c1","user_id":"u1","timestamp":1700000000}`)
	if rec.count(events.TypingStart) != 0 {
		t.Fatalf("disabled tag produced an event")
	}
	if p.Pending() != 0 {
		t.Fatalf("disabled tag was buffered")
	}

	counts := p.Counts()
	if counts["TYPING_START"] != 1 || counts["GUILD_CREATE"] != 1 || counts["READY"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestCountsEmptyWithoutTracking(t *testing.T) {
	p := readyPipeline(t, Config{})
	if len(p.Counts()) != 0 {
		t.Fatalf("counts must stay empty when tracking is off")
	}
}

func TestNonDispatchOpcodesIgnored(t *testing.T) {
	p := newTestPipeline(t, Config{TrackEvents: true})
	p.Dispatch(Envelope{Op: 11, Tag: "HEARTBEAT_ACK"})
	p.Dispatch(Envelope{Op: OpDispatch})
	if p.Pending() != 0 || len(p.Counts()) != 0 {
		t.Fatalf("non-dispatch envelopes must be ignored")
	}
}

func TestHandlerFailureIsIsolated(t *testing.T) {
	var reported []*HandlerError
	p := readyPipeline(t, Config{OnError: func(e *HandlerError) { reported = append(reported, e) }})
	rec := record(p.Emitter(), events.Error, events.MessageCreate)

	p.Register("BOOM", func(*Pipeline, json.RawMessage) ([]Event, error) { panic("handler exploded") })
	send(p, "BOOM", `{}`)
	send(p, "MESSAGE_CREATE", `{"id":"m1","channel_id":"c1"`)
	send(p, "MESSAGE_CREATE", `{"id":"m2","channel_id":"c1","content":"still here"}`)

	if rec.count(events.Error) != 2 || len(reported) != 2 {
		t.Fatalf("expected 2 reported failures, got events=%d reported=%d", rec.count(events.Error), len(reported))
	}
	if reported[0].Tag != "BOOM" || reported[1].Tag != "MESSAGE_CREATE" {
		t.Fatalf("unexpected failures: %v, %v", reported[0], reported[1])
	}
	payload := rec.last(events.Error).(events.ErrorPayload)
	var herr *HandlerError
	if !errors.As(payload.Err, &herr) || herr.Seq == 0 {
		t.Fatalf("error payload must carry a HandlerError, got %v", payload.Err)
	}
	if rec.count(events.MessageCreate) != 1 {
		t.Fatalf("pipeline stopped after a failure")
	}
	if _, ok := p.State().Messages("c1").Get("m2"); !ok {
		t.Fatalf("message after failures was not cached")
	}
}

func TestListenersCanQueryPipeline(t *testing.T) {
	p := newTestPipeline(t, Config{})
	type seen struct {
		ready   bool
		pending int
	}
	got := make(chan seen, 4)
	query := func(any) { got <- seen{ready: p.Ready(), pending: p.Pending()} }
	p.Emitter().On(events.Ready, query)
	p.Emitter().On(events.MessageCreate, query)

	done := make(chan struct{})
	go func() {
		defer close(done)
		send(p, "READY", readyPayload)
		send(p, "GUILD_CREATE", guildPayload)
		send(p, "MESSAGE_CREATE", `{"id":"m1","channel_id":"c1"}`)
		p.SetReady()
		send(p, "MESSAGE_CREATE", `{"id":"m2","channel_id":"c1"}`)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("listener querying the pipeline deadlocked")
	}

	want := []seen{{true, 0}, {true, 0}, {true, 0}}
	for i, w := range want {
		if s := <-got; s != w {
			t.Fatalf("emission %d: listener saw %+v, want %+v", i, s, w)
		}
	}
}

func TestUnknownTagOnlyEmitsDebug(t *testing.T) {
	p := readyPipeline(t, Config{})
	var debug []events.DebugPayload
	p.Emitter().On(events.Debug, func(payload any) { debug = append(debug, payload.(events.DebugPayload)) })
	send(p, "SOMETHING_NEW", `{"x":1}`)
	if len(debug) != 1 || debug[0].Message != "no handler" || debug[0].Tag != "SOMETHING_NEW" {
		t.Fatalf("unexpected debug events: %+v", debug)
	}
}

func TestRegisterOverridesBuiltin(t *testing.T) {
	p := readyPipeline(t, Config{})
	rec := record(p.Emitter(), "custom", events.TypingStart)
	p.Register("TYPING_START", func(*Pipeline, json.RawMessage) ([]Event, error) {
		return []Event{{Name: "custom"}}, nil
	})
	send(p, "TYPING_START", `{"channel_id":"c1","user_id":"u1","timestamp":1700000000}`)
	if rec.count("custom") != 1 || rec.count(events.TypingStart) != 0 {
		t.Fatalf("override not used: %v", rec.seen())
	}
}

func TestRunStopsOnCloseAndContext(t *testing.T) {
	p := readyPipeline(t, Config{})
	ch := make(chan Envelope, 1)
	ch <- Envelope{Op: OpDispatch, Tag: "MESSAGE_CREATE", Payload: json.RawMessage(`{"id":"m9","channel_id":"c1"}`)}
	close(ch)
	if err := p.Run(context.Background(), ch); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := p.State().Messages("c1").Get("m9"); !ok {
		t.Fatalf("envelope from channel not dispatched")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx, make(chan Envelope)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
