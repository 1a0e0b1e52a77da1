package dispatch

import (
	"encoding/json"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/events"
	"github.com/small-frappuccino/discordsync/pkg/discord/state"
)

// userChange merges a full user object carried by another event and reports
// a userUpdate when a cached user changed. Partial users (id only) are ignored.
func userChange(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	if !present(raw) {
		return nil, nil
	}
	var u struct {
		Username *string `json:"username"`
	}
	if err := decodePayload(raw, &u); err != nil {
		return nil, err
	}
	if u.Username == nil {
		return nil, nil
	}
	ch, err := p.st.Users.Upsert(raw)
	if err != nil {
		return nil, err
	}
	if ch.Created || ch.Old.Equal(ch.New) {
		return nil, nil
	}
	return []Event{event(events.UserUpdate, events.UserUpdatePayload{Old: ch.Old, New: ch.New})}, nil
}

// handlePresenceUpdate caches the presence. A non-offline presence for a user
// that is not a cached member also creates the member, which is reported as
// available.
func handlePresenceUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var pr struct {
		GuildID string          `json:"guild_id"`
		User    json.RawMessage `json:"user"`
		Status  string          `json:"status"`
		Roles   json.RawMessage `json:"roles"`
		Nick    json.RawMessage `json:"nick"`
	}
	if err := decodePayload(raw, &pr); err != nil {
		return nil, err
	}
	if _, ok := p.st.Guilds.Get(pr.GuildID); !ok {
		return nil, nil
	}
	if userIDOf(pr.User) == "" {
		return nil, state.ErrMissingKey
	}

	out, err := userChange(p, pr.User)
	if err != nil {
		return nil, err
	}
	if pr.Status != "" && pr.Status != "offline" {
		stub, err := presenceMember(pr.User, pr.Roles, pr.Nick)
		if err != nil {
			return out, err
		}
		mem, created, err := p.st.Members(pr.GuildID).Ensure(stub)
		if err != nil {
			return out, err
		}
		if created {
			out = append(out, event(events.GuildMemberAvailable, events.MemberPayload{Member: mem}))
		}
	}
	ch, err := p.st.Presences(pr.GuildID).Upsert(raw)
	if err != nil {
		return out, err
	}
	return append(out, event(events.PresenceUpdate, events.PresenceUpdatePayload{Old: ch.Old, New: ch.New})), nil
}

// presenceMember builds the member a presence update implies, keeping the
// roles and nick the presence carries.
func presenceMember(user, roles, nick json.RawMessage) (json.RawMessage, error) {
	stub, err := withField(nil, "user", user)
	if err != nil {
		return nil, err
	}
	if present(roles) {
		if stub, err = withField(stub, "roles", roles); err != nil {
			return nil, err
		}
	}
	if present(nick) {
		if stub, err = withField(stub, "nick", nick); err != nil {
			return nil, err
		}
	}
	return stub, nil
}

func handleTypingStart(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var t struct {
		ChannelID string          `json:"channel_id"`
		GuildID   string          `json:"guild_id"`
		UserID    string          `json:"user_id"`
		Timestamp int64           `json:"timestamp"`
		Member    json.RawMessage `json:"member"`
	}
	if err := decodePayload(raw, &t); err != nil {
		return nil, err
	}
	payload := events.TypingPayload{
		ChannelID: t.ChannelID,
		GuildID:   t.GuildID,
		UserID:    t.UserID,
		Timestamp: time.Unix(t.Timestamp, 0).UTC(),
	}
	if t.GuildID != "" && present(t.Member) {
		ch, err := p.st.Members(t.GuildID).Upsert(t.Member)
		if err != nil {
			return nil, err
		}
		payload.Member = ch.New
	}
	if u, ok := p.st.Users.Get(t.UserID); ok {
		payload.User = u
	}
	return []Event{event(events.TypingStart, payload)}, nil
}

// handleUserUpdate applies changes to the session user.
func handleUserUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	ch, err := p.st.Users.Upsert(raw)
	if err != nil {
		return nil, err
	}
	if self := p.st.Self(); self == nil || self.ID == ch.New.ID {
		p.st.SetSelf(ch.New)
	}
	if !ch.Created && ch.Old.Equal(ch.New) {
		return nil, nil
	}
	return []Event{event(events.UserUpdate, events.UserUpdatePayload{Old: ch.Old, New: ch.New})}, nil
}

// handleVoiceStateUpdate keeps only connected voice states cached; a state
// with no channel is reported as New but not stored.
func handleVoiceStateUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var v struct {
		GuildID   string          `json:"guild_id"`
		ChannelID string          `json:"channel_id"`
		UserID    string          `json:"user_id"`
		Member    json.RawMessage `json:"member"`
	}
	if err := decodePayload(raw, &v); err != nil {
		return nil, err
	}
	if v.GuildID == "" {
		return nil, nil
	}
	if v.UserID == "" {
		return nil, state.ErrMissingKey
	}
	if present(v.Member) {
		if _, err := p.st.Members(v.GuildID).Upsert(v.Member); err != nil {
			return nil, err
		}
	}

	voice := p.st.VoiceStates(v.GuildID)
	if v.ChannelID == "" {
		old, _ := voice.Remove(v.UserID)
		left, err := entity.NewVoiceState(v.GuildID, raw)
		if err != nil {
			return nil, err
		}
		left.Freeze()
		return []Event{event(events.VoiceStateUpdate, events.VoiceStateUpdatePayload{Old: old, New: left})}, nil
	}
	ch, err := voice.Upsert(raw)
	if err != nil {
		return nil, err
	}
	return []Event{event(events.VoiceStateUpdate, events.VoiceStateUpdatePayload{Old: ch.Old, New: ch.New})}, nil
}

func handleInviteCreate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	ch, err := p.st.Invites.Upsert(raw)
	if err != nil {
		return nil, err
	}
	return []Event{event(events.InviteCreate, events.InvitePayload{Invite: ch.New})}, nil
}

// handleInviteDelete reports the cached invite, or a frozen one built from
// the payload when it was never cached.
func handleInviteDelete(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var d struct {
		Code string `json:"code"`
	}
	if err := decodePayload(raw, &d); err != nil {
		return nil, err
	}
	inv, ok := p.st.Invites.Remove(d.Code)
	if !ok {
		var err error
		if inv, err = entity.NewInvite(raw); err != nil {
			return nil, err
		}
		inv.MarkDeleted()
		inv.Freeze()
	}
	return []Event{event(events.InviteDelete, events.InvitePayload{Invite: inv})}, nil
}
