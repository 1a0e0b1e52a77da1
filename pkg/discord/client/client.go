// Package client wires the cache directory, state, dispatch pipeline and
// gateway bridge into one handle.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/dispatch"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/events"
	"github.com/small-frappuccino/discordsync/pkg/discord/gateway"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
	"github.com/small-frappuccino/discordsync/pkg/discord/state"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// ErrClosed is returned by Start and Connect after Close.
var ErrClosed = errors.New("client is closed")

// Config is the resolved configuration of a Client.
type Config struct {
	Cache        cache.DirectoryConfig
	Dispatch     dispatch.Config
	ReadyTimeout time.Duration
}

type options struct {
	chunks  state.ChunkRequester
	onShift func(cache.Shift)
}

// Option customizes New.
type Option func(*options)

// WithChunkRequester replaces the bridge as the sender of member requests.
func WithChunkRequester(c state.ChunkRequester) Option {
	return func(o *options) { o.chunks = c }
}

// WithShiftHook is called after every settled sweep shift.
func WithShiftHook(fn func(cache.Shift)) Option {
	return func(o *options) { o.onShift = fn }
}

// Client owns every moving part of the cache mirror.
type Client struct {
	dir    *cache.Directory
	st     *state.State
	em     *events.Emitter
	pipe   *dispatch.Pipeline
	bridge *gateway.Bridge

	mu      sync.Mutex
	started bool
	closed  bool
	session *discordgo.Session
}

// New builds a client. req may be nil for a cache-only client; REST methods
// then fail with state.ErrNoRequester.
func New(cfg Config, req rest.Requester, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dir, err := cache.NewDirectory(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("build cache directory: %w", err)
	}
	if o.onShift != nil {
		dir.Janitor().OnShift(o.onShift)
	}

	c := &Client{dir: dir, em: events.NewEmitter()}
	// The bridge needs the pipeline and the pipeline needs the state, which
	// takes the chunk requester; route through c to break the cycle.
	chunks := o.chunks
	if chunks == nil {
		chunks = chunkFunc(func(guildID, query string, limit int, nonce string, presences bool) error {
			return c.bridge.RequestGuildMembers(guildID, query, limit, nonce, presences)
		})
	}
	c.st = state.New(dir, req, state.WithChunkRequester(chunks))
	c.pipe = dispatch.New(c.st, c.em, cfg.Dispatch)
	c.bridge = gateway.NewBridge(c.pipe, cfg.ReadyTimeout)
	return c, nil
}

type chunkFunc func(guildID, query string, limit int, nonce string, presences bool) error

func (f chunkFunc) RequestGuildMembers(guildID, query string, limit int, nonce string, presences bool) error {
	return f(guildID, query, limit, nonce, presences)
}

func (c *Client) Directory() *cache.Directory        { return c.dir }
func (c *Client) State() *state.State                { return c.st }
func (c *Client) Emitter() *events.Emitter           { return c.em }
func (c *Client) Pipeline() *dispatch.Pipeline       { return c.pipe }
func (c *Client) Bridge() *gateway.Bridge            { return c.bridge }
func (c *Client) Stats() map[entity.Kind]cache.Stats { return c.dir.Stats() }
func (c *Client) Counts() map[string]uint64          { return c.pipe.Counts() }

// On registers a listener; see events.Emitter.On.
func (c *Client) On(name string, fn events.Listener) (off func()) {
	return c.em.On(name, fn)
}

// Dispatch feeds one envelope through the bridge, as the gateway would.
func (c *Client) Dispatch(env dispatch.Envelope) {
	c.bridge.Handle(env)
}

// Start starts the sweep jobs. Calling it twice is a no-op.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	if err := c.dir.Janitor().StartAll(); err != nil {
		_ = c.dir.Janitor().QuitAll(context.Background())
		return fmt.Errorf("start sweepers: %w", err)
	}
	c.started = true
	log.CacheLogger().Info("Cache sweepers started", "jobs", len(c.dir.Janitor().Jobs()))
	return nil
}

// Connect opens s with the bridge attached. The client closes s on Close.
func (c *Client) Connect(s *discordgo.Session) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.session = s
	c.mu.Unlock()
	return gateway.OpenSession(s, c.bridge)
}

// Close detaches the gateway, closes the session and waits for in-flight
// sweeps up to ctx.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.session
	c.session = nil
	c.mu.Unlock()

	c.bridge.Detach()
	var errs []error
	if err := gateway.CloseSession(s); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	if err := c.dir.Janitor().QuitAll(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
