package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// ErrNoChunkRequester is returned by RequestAll on a State without a gateway.
var ErrNoChunkRequester = errors.New("state has no chunk requester")

// MemberRequest parameterizes a gateway member request. An empty query with
// Limit 0 asks for every member.
type MemberRequest struct {
	Query     string
	Limit     int
	Presences bool
}

// Chunk is the metadata of one GUILD_MEMBERS_CHUNK.
type Chunk struct {
	GuildID  string
	Nonce    string
	Index    int
	Count    int
	NotFound []string
}

// collector gathers the chunks answering one nonce.
type collector struct {
	guildID  string
	mu       sync.Mutex
	members  []*entity.Member
	notFound []string
	seen     map[int]bool
	done     chan struct{}
	closed   bool
}

// RequestAll asks the gateway for the guild's members and waits until the
// last chunk for the request's nonce arrives or ctx ends. Members are cached
// by the chunk handler as they arrive.
func (m *MemberManager) RequestAll(ctx context.Context, req MemberRequest) ([]*entity.Member, error) {
	if m.st.chunks == nil {
		return nil, ErrNoChunkRequester
	}
	nonce := uuid.NewString()
	c := &collector{guildID: m.scope, seen: make(map[int]bool), done: make(chan struct{})}

	m.st.mu.Lock()
	m.st.collectors[nonce] = c
	m.st.mu.Unlock()
	defer func() {
		m.st.mu.Lock()
		delete(m.st.collectors, nonce)
		m.st.mu.Unlock()
	}()

	if err := m.st.chunks.RequestGuildMembers(m.scope, req.Query, req.Limit, nonce, req.Presences); err != nil {
		return nil, fmt.Errorf("request guild members %s: %w", m.scope, err)
	}

	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		out := append([]*entity.Member(nil), c.members...)
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeliverChunk feeds a chunk to the pending request with the same nonce and
// reports whether that request is now complete. Chunks without a matching
// request are ignored.
func (s *State) DeliverChunk(ch Chunk, members []*entity.Member) bool {
	if ch.Nonce == "" {
		return false
	}
	s.mu.Lock()
	c, ok := s.collectors[ch.Nonce]
	s.mu.Unlock()
	if !ok || c.guildID != ch.GuildID {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.seen[ch.Index] {
		return c.closed
	}
	c.seen[ch.Index] = true
	c.members = append(c.members, members...)
	c.notFound = append(c.notFound, ch.NotFound...)
	if ch.Count <= 0 || len(c.seen) >= ch.Count {
		c.closed = true
		close(c.done)
		log.DiscordLogger().Debug("Member request completed", "guildID", ch.GuildID, "nonce", ch.Nonce, "members", len(c.members))
	}
	return c.closed
}

// PendingRequests is the number of member requests waiting for chunks.
func (s *State) PendingRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collectors)
}
