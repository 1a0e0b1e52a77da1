package entity

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/discordgo"
)

// invitePayload covers both the REST invite object (nested guild/channel) and
// the gateway INVITE_CREATE shape (flat ids).
type invitePayload struct {
	discordgo.Invite
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
}

type Invite struct {
	lifecycle

	Code      string
	GuildID   string
	ChannelID string
	InviterID string
	CreatedAt time.Time
	MaxAge    int
	MaxUses   int
	Uses      int
	Temporary bool
}

func NewInvite(raw json.RawMessage) (*Invite, error) {
	i := &Invite{}
	if err := i.Patch(raw); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Invite) Key() string { return i.Code }
func (i *Invite) Kind() Kind  { return KindInvite }

func (i *Invite) Patch(raw json.RawMessage) error {
	if err := i.mutable(KindInvite); err != nil {
		return err
	}
	var p invitePayload
	f, err := decode(KindInvite, raw, &p)
	if err != nil {
		return err
	}
	if i.Code == "" && f.has("code") {
		i.Code = p.Code
	}
	switch {
	case p.GuildID != "":
		i.GuildID = p.GuildID
	case p.Guild != nil:
		i.GuildID = p.Guild.ID
	}
	switch {
	case p.ChannelID != "":
		i.ChannelID = p.ChannelID
	case p.Channel != nil:
		i.ChannelID = p.Channel.ID
	}
	if f.has("inviter") && p.Inviter != nil {
		i.InviterID = p.Inviter.ID
	}
	if f.has("created_at") {
		i.CreatedAt = p.CreatedAt
	}
	if f.has("max_age") {
		i.MaxAge = p.MaxAge
	}
	if f.has("max_uses") {
		i.MaxUses = p.MaxUses
	}
	if f.has("uses") {
		i.Uses = p.Uses
	}
	if f.has("temporary") {
		i.Temporary = p.Temporary
	}
	return nil
}

// ExpiresAt is zero for invites that never expire.
func (i *Invite) ExpiresAt() time.Time {
	if i.MaxAge <= 0 || i.CreatedAt.IsZero() {
		return time.Time{}
	}
	return i.CreatedAt.Add(time.Duration(i.MaxAge) * time.Second)
}

func (i *Invite) Clone() *Invite {
	c := *i
	c.lifecycle = lifecycle{}
	return &c
}
