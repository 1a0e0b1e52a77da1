// Package gateway adapts a discordgo session to the dispatch pipeline and
// decides when the initial guild stream is complete.
package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/discordsync/pkg/discord/dispatch"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// DefaultReadyTimeout bounds the wait for the guilds listed in READY.
const DefaultReadyTimeout = 15 * time.Second

// Bridge forwards raw gateway events to a pipeline. After READY it waits
// until a GUILD_CREATE arrived for every guild READY listed, or until
// ReadyTimeout elapsed, and then marks the pipeline ready.
type Bridge struct {
	p            *dispatch.Pipeline
	readyTimeout time.Duration

	mu       sync.Mutex
	expected map[string]bool
	waiting  bool
	timer    *time.Timer
	off      func()
	session  *discordgo.Session
}

// NewBridge builds a bridge for p. readyTimeout <= 0 means DefaultReadyTimeout.
func NewBridge(p *dispatch.Pipeline, readyTimeout time.Duration) *Bridge {
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	return &Bridge{p: p, readyTimeout: readyTimeout}
}

// Attach turns off discordgo's own state cache, makes handlers run in
// receive order and starts forwarding events. A bridge serves one session.
func (b *Bridge) Attach(s *discordgo.Session) {
	s.StateEnabled = false
	s.SyncEvents = true
	off := s.AddHandler(b.onEvent)

	b.mu.Lock()
	b.off = off
	b.session = s
	b.mu.Unlock()
}

// Detach stops forwarding and cancels a pending ready timeout.
func (b *Bridge) Detach() {
	b.mu.Lock()
	off := b.off
	b.off = nil
	b.session = nil
	b.stopTimerLocked()
	b.waiting = false
	b.mu.Unlock()
	if off != nil {
		off()
	}
}

// RequestGuildMembers sends an op 8 request on the attached session.
func (b *Bridge) RequestGuildMembers(guildID, query string, limit int, nonce string, presences bool) error {
	b.mu.Lock()
	s := b.session
	b.mu.Unlock()
	if s == nil {
		return discordgo.ErrWSNotFound
	}
	return s.RequestGuildMembers(guildID, query, limit, nonce, presences)
}

func (b *Bridge) onEvent(_ *discordgo.Session, e *discordgo.Event) {
	if e == nil {
		return
	}
	b.Handle(dispatch.Envelope{Op: e.Operation, Tag: e.Type, Payload: e.RawData, Seq: e.Sequence})
}

// Handle dispatches one envelope and updates the readiness bookkeeping.
func (b *Bridge) Handle(env dispatch.Envelope) {
	if env.Op != dispatch.OpDispatch {
		return
	}
	switch env.Tag {
	case "READY":
		b.beginReady(env.Payload)
		b.p.Dispatch(env)
		b.checkReady()
	case "GUILD_CREATE":
		b.p.Dispatch(env)
		b.tick(env.Payload)
	default:
		b.p.Dispatch(env)
	}
}

// beginReady records the guilds READY promised. A READY for a new session
// after the pipeline was already ready puts it back into buffering.
func (b *Bridge) beginReady(raw json.RawMessage) {
	var r struct {
		Guilds []struct {
			ID string `json:"id"`
		} `json:"guilds"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		log.DiscordLogger().Warn("READY guild list unreadable", "error", err)
	}
	if b.p.Ready() {
		b.p.Reset()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimerLocked()
	b.expected = make(map[string]bool, len(r.Guilds))
	for _, g := range r.Guilds {
		if g.ID != "" {
			b.expected[g.ID] = true
		}
	}
	b.waiting = true
	if len(b.expected) > 0 {
		b.timer = time.AfterFunc(b.readyTimeout, b.timeout)
	}
}

func (b *Bridge) tick(raw json.RawMessage) {
	var g struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &g) != nil {
		return
	}
	b.mu.Lock()
	if b.waiting {
		delete(b.expected, g.ID)
	}
	b.mu.Unlock()
	b.checkReady()
}

func (b *Bridge) checkReady() {
	b.mu.Lock()
	if !b.waiting || len(b.expected) > 0 {
		b.mu.Unlock()
		return
	}
	b.waiting = false
	b.stopTimerLocked()
	b.mu.Unlock()
	b.p.SetReady()
}

func (b *Bridge) timeout() {
	b.mu.Lock()
	if !b.waiting {
		b.mu.Unlock()
		return
	}
	missing := len(b.expected)
	b.waiting = false
	b.expected = nil
	b.timer = nil
	b.mu.Unlock()

	log.DiscordLogger().Warn("Guild stream incomplete; marking ready", "missing", missing, "timeout", b.readyTimeout)
	b.p.SetReady()
}

// Waiting reports how many READY guilds have not streamed in yet.
func (b *Bridge) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.waiting {
		return 0
	}
	return len(b.expected)
}

func (b *Bridge) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
