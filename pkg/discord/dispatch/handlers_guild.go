package dispatch

import (
	"encoding/json"
	"errors"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/events"
	"github.com/small-frappuccino/discordsync/pkg/discord/state"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// handleReady caches the session user and the guild stubs. The ready event
// itself is emitted by SetReady once the guilds have streamed in.
func handleReady(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var r struct {
		SessionID string            `json:"session_id"`
		User      json.RawMessage   `json:"user"`
		Guilds    []json.RawMessage `json:"guilds"`
	}
	if err := decodePayload(raw, &r); err != nil {
		return nil, err
	}
	var errs []error
	if present(r.User) {
		ch, err := p.st.Users.Upsert(r.User)
		if err != nil {
			errs = append(errs, err)
		} else {
			p.st.SetSelf(ch.New)
		}
	}
	for _, g := range r.Guilds {
		if _, err := p.st.Guilds.Upsert(g); err != nil {
			errs = append(errs, err)
		}
	}
	p.session = readyInfo{sessionID: r.SessionID, guilds: len(r.Guilds)}
	log.DiscordLogger().Info("Session ready received", "sessionID", r.SessionID, "guilds", len(r.Guilds))
	return nil, errors.Join(errs...)
}

func handleResumed(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	return []Event{event(events.Resumed, nil)}, nil
}

type guildHeader struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// handleGuildCreate covers the three meanings of GUILD_CREATE: a guild
// streaming in after READY, a guild recovering from an outage and a guild the
// client just joined. Only the last two produce events, and only once ready.
func handleGuildCreate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var hdr guildHeader
	if err := decodePayload(raw, &hdr); err != nil {
		return nil, err
	}
	if hdr.ID == "" {
		return nil, state.ErrMissingKey
	}

	if hdr.Unavailable {
		g, ok := p.st.Guilds.MarkUnavailable(hdr.ID)
		if !ok {
			ch, err := p.st.Guilds.Upsert(raw)
			if err != nil {
				return nil, err
			}
			g = ch.New
		}
		return []Event{event(events.GuildUnavailable, events.GuildPayload{Guild: g})}, nil
	}

	cur, cached := p.st.Guilds.Get(hdr.ID)
	recovering := cached && cur.Unavailable
	if recovering {
		p.st.Guilds.ResetVolatile(hdr.ID)
	}
	ch, err := p.st.Guilds.ApplySnapshot(raw)
	if ch.New == nil {
		return nil, err
	}
	if !p.ready.Load() {
		return nil, err
	}
	switch {
	case recovering:
		return []Event{event(events.GuildAvailable, events.GuildPayload{Guild: ch.New})}, err
	case !cached:
		return []Event{event(events.GuildCreate, events.GuildPayload{Guild: ch.New})}, err
	}
	return nil, err
}

// handleGuildUpdate tracks availability flips as well as plain updates. An
// update for a guild that is not cached is treated as a full create.
func handleGuildUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var hdr guildHeader
	if err := decodePayload(raw, &hdr); err != nil {
		return nil, err
	}
	if hdr.ID == "" {
		return nil, state.ErrMissingKey
	}

	cur, cached := p.st.Guilds.Get(hdr.ID)
	if hdr.Unavailable && cached {
		if cur.Unavailable {
			return nil, nil
		}
		g, _ := p.st.Guilds.MarkUnavailable(hdr.ID)
		return []Event{event(events.GuildUnavailable, events.GuildPayload{Guild: g})}, nil
	}
	if !cached {
		ch, err := p.st.Guilds.ApplySnapshot(raw)
		if ch.New == nil {
			return nil, err
		}
		if ch.New.Unavailable {
			return []Event{event(events.GuildUnavailable, events.GuildPayload{Guild: ch.New})}, err
		}
		return []Event{event(events.GuildCreate, events.GuildPayload{Guild: ch.New})}, err
	}

	ch, err := p.st.Guilds.ApplyUpdate(raw)
	if ch.New == nil {
		return nil, err
	}
	out := []Event{event(events.GuildUpdate, events.GuildUpdatePayload{Old: ch.Old, New: ch.New})}
	if ch.Old != nil && ch.Old.Unavailable && !ch.New.Unavailable {
		out = append(out, event(events.GuildAvailable, events.GuildPayload{Guild: ch.New}))
	}
	return out, err
}

// handleGuildDelete distinguishes an outage (unavailable set) from the client
// leaving or being removed from the guild.
func handleGuildDelete(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var hdr guildHeader
	if err := decodePayload(raw, &hdr); err != nil {
		return nil, err
	}
	if hdr.Unavailable {
		g, ok := p.st.Guilds.MarkUnavailable(hdr.ID)
		if !ok {
			return nil, nil
		}
		return []Event{event(events.GuildUnavailable, events.GuildPayload{Guild: g})}, nil
	}
	g, affected, ok := p.st.Guilds.RemoveCascade(hdr.ID)
	if !ok {
		return nil, nil
	}
	return []Event{event(events.GuildDelete, events.GuildDeletePayload{Guild: g, Affected: affected})}, nil
}

func handleMembersChunk(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var c struct {
		GuildID    string            `json:"guild_id"`
		Members    []json.RawMessage `json:"members"`
		Presences  []json.RawMessage `json:"presences"`
		ChunkIndex int               `json:"chunk_index"`
		ChunkCount int               `json:"chunk_count"`
		NotFound   []string          `json:"not_found"`
		Nonce      string            `json:"nonce"`
	}
	if err := decodePayload(raw, &c); err != nil {
		return nil, err
	}
	chunk := state.Chunk{GuildID: c.GuildID, Nonce: c.Nonce, Index: c.ChunkIndex, Count: c.ChunkCount, NotFound: c.NotFound}
	if _, ok := p.st.Guilds.Get(c.GuildID); !ok {
		// Still settle a pending request so its caller is not left waiting.
		p.st.DeliverChunk(chunk, nil)
		return nil, nil
	}

	var errs []error
	members := p.st.Members(c.GuildID)
	got := make([]*entity.Member, 0, len(c.Members))
	for _, m := range c.Members {
		ch, err := members.Upsert(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		got = append(got, ch.New)
	}
	presences := p.st.Presences(c.GuildID)
	pres := make([]*entity.Presence, 0, len(c.Presences))
	for _, pr := range c.Presences {
		ch, err := presences.Upsert(pr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pres = append(pres, ch.New)
	}
	p.st.DeliverChunk(chunk, got)

	return []Event{event(events.GuildMembersChunk, events.GuildMembersChunkPayload{
		GuildID:    c.GuildID,
		Members:    got,
		Presences:  pres,
		ChunkIndex: c.ChunkIndex,
		ChunkCount: c.ChunkCount,
		Nonce:      c.Nonce,
		NotFound:   c.NotFound,
	})}, errors.Join(errs...)
}

type guildScoped struct {
	GuildID string          `json:"guild_id"`
	User    json.RawMessage `json:"user"`
}

func handleMemberAdd(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var m guildScoped
	if err := decodePayload(raw, &m); err != nil {
		return nil, err
	}
	g, ok := p.st.Guilds.Get(m.GuildID)
	if !ok {
		return nil, nil
	}
	ch, err := p.st.Members(m.GuildID).Upsert(raw)
	if err != nil {
		return nil, err
	}
	if err := g.AdjustMemberCount(1); err != nil {
		return nil, err
	}
	if !p.ready.Load() {
		return nil, nil
	}
	return []Event{event(events.GuildMemberAdd, events.MemberPayload{Member: ch.New})}, nil
}

// handleMemberUpdate reports a member seen for the first time as available
// rather than updated.
func handleMemberUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var m guildScoped
	if err := decodePayload(raw, &m); err != nil {
		return nil, err
	}
	if _, ok := p.st.Guilds.Get(m.GuildID); !ok {
		return nil, nil
	}
	out, err := userChange(p, m.User)
	if err != nil {
		return nil, err
	}
	ch, err := p.st.Members(m.GuildID).Upsert(raw)
	if err != nil {
		return out, err
	}
	if ch.Created {
		return append(out, event(events.GuildMemberAvailable, events.MemberPayload{Member: ch.New})), nil
	}
	return append(out, event(events.GuildMemberUpdate, events.MemberUpdatePayload{Old: ch.Old, New: ch.New})), nil
}

func handleMemberRemove(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var m guildScoped
	if err := decodePayload(raw, &m); err != nil {
		return nil, err
	}
	g, ok := p.st.Guilds.Get(m.GuildID)
	if !ok {
		return nil, nil
	}
	userID := userIDOf(m.User)
	if userID == "" {
		return nil, state.ErrMissingKey
	}
	if err := g.AdjustMemberCount(-1); err != nil {
		return nil, err
	}
	mem, _ := p.st.Members(m.GuildID).Remove(userID)
	user, ok := p.st.Users.Get(userID)
	if !ok {
		var err error
		if user, err = entity.NewUser(m.User); err != nil {
			return nil, err
		}
		user.Freeze()
	}
	return []Event{event(events.GuildMemberRemove, events.MemberRemovePayload{GuildID: m.GuildID, Member: mem, User: user})}, nil
}

type rolePayload struct {
	GuildID string          `json:"guild_id"`
	Role    json.RawMessage `json:"role"`
	RoleID  string          `json:"role_id"`
}

func handleRoleCreate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var r rolePayload
	if err := decodePayload(raw, &r); err != nil {
		return nil, err
	}
	ch, err := p.st.Roles(r.GuildID).Upsert(r.Role)
	if err != nil {
		return nil, err
	}
	return []Event{event(events.GuildRoleCreate, events.RolePayload{Role: ch.New})}, nil
}

func handleRoleUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var r rolePayload
	if err := decodePayload(raw, &r); err != nil {
		return nil, err
	}
	ch, err := p.st.Roles(r.GuildID).Upsert(r.Role)
	if err != nil {
		return nil, err
	}
	return []Event{event(events.GuildRoleUpdate, events.RoleUpdatePayload{Old: ch.Old, New: ch.New})}, nil
}

func handleRoleDelete(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var r rolePayload
	if err := decodePayload(raw, &r); err != nil {
		return nil, err
	}
	role, ok := p.st.Roles(r.GuildID).Remove(r.RoleID)
	if !ok {
		return nil, nil
	}
	return []Event{event(events.GuildRoleDelete, events.RolePayload{Role: role})}, nil
}

func handleBanAdd(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var b guildScoped
	if err := decodePayload(raw, &b); err != nil {
		return nil, err
	}
	ch, err := p.st.Bans(b.GuildID).Upsert(raw)
	if err != nil {
		return nil, err
	}
	return []Event{event(events.GuildBanAdd, events.BanPayload{Ban: ch.New})}, nil
}

// handleBanRemove reports the cached ban when there is one, else a frozen ban
// built from the payload.
func handleBanRemove(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var b guildScoped
	if err := decodePayload(raw, &b); err != nil {
		return nil, err
	}
	userID := userIDOf(b.User)
	if userID == "" {
		return nil, state.ErrMissingKey
	}
	ban, ok := p.st.Bans(b.GuildID).Remove(userID)
	if !ok {
		var err error
		if ban, err = entity.NewBan(b.GuildID, raw); err != nil {
			return nil, err
		}
		if u, ok := p.st.Users.Get(userID); ok {
			ban.AttachUser(u)
		}
		ban.Freeze()
	}
	return []Event{event(events.GuildBanRemove, events.BanPayload{Ban: ban})}, nil
}

func handleIntegrationsUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var n guildScoped
	if err := decodePayload(raw, &n); err != nil {
		return nil, err
	}
	return []Event{event(events.GuildIntegrationsUpdate, events.NoticePayload{GuildID: n.GuildID})}, nil
}
