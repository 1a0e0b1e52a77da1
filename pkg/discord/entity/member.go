package entity

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Member is a User's membership in one guild. It is keyed by the user id and
// scoped by the guild cache that holds it.
type Member struct {
	lifecycle

	GuildID                    string
	UserID                     string
	User                       *User
	Nick                       string
	Avatar                     string
	Roles                      []string
	JoinedAt                   time.Time
	PremiumSince               *time.Time
	CommunicationDisabledUntil *time.Time
	Deaf                       bool
	Mute                       bool
	Pending                    bool
}

// NewMember builds a Member for guildID. The embedded user object only sets
// UserID; the caller links the shared *User with AttachUser.
func NewMember(guildID string, raw json.RawMessage) (*Member, error) {
	m := &Member{GuildID: guildID}
	if err := m.Patch(raw); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Member) Key() string { return m.UserID }
func (m *Member) Kind() Kind  { return KindMember }

func (m *Member) Patch(raw json.RawMessage) error {
	if err := m.mutable(KindMember); err != nil {
		return err
	}
	var p discordgo.Member
	f, err := decode(KindMember, raw, &p)
	if err != nil {
		return err
	}
	if m.UserID == "" && p.User != nil {
		m.UserID = p.User.ID
	}
	if f.has("nick") {
		m.Nick = p.Nick
	}
	if f.has("avatar") {
		m.Avatar = p.Avatar
	}
	if f.has("roles") {
		m.Roles = cloneStrings(p.Roles)
		if m.Roles == nil {
			m.Roles = []string{}
		}
	}
	if f.has("joined_at") {
		m.JoinedAt = p.JoinedAt
	}
	if f.has("premium_since") {
		m.PremiumSince = cloneTime(p.PremiumSince)
	}
	if f.has("communication_disabled_until") {
		m.CommunicationDisabledUntil = cloneTime(p.CommunicationDisabledUntil)
	}
	if f.has("deaf") {
		m.Deaf = p.Deaf
	}
	if f.has("mute") {
		m.Mute = p.Mute
	}
	if f.has("pending") {
		m.Pending = p.Pending
	}
	return nil
}

// AttachUser links the globally cached user.
func (m *Member) AttachUser(u *User) {
	if u != nil && (m.UserID == "" || m.UserID == u.ID) {
		m.UserID = u.ID
		m.User = u
	}
}

// DisplayName prefers the guild nickname, then the global name, then the username.
func (m *Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User != nil {
		if m.User.GlobalName != "" {
			return m.User.GlobalName
		}
		return m.User.Username
	}
	return m.UserID
}

// Clone copies the member; the *User is shared with the users cache.
func (m *Member) Clone() *Member {
	c := *m
	c.lifecycle = lifecycle{}
	c.Roles = cloneStrings(m.Roles)
	c.PremiumSince = cloneTime(m.PremiumSince)
	c.CommunicationDisabledUntil = cloneTime(m.CommunicationDisabledUntil)
	return &c
}
