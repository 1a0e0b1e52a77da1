package entity

import (
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// Ban is keyed by the banned user's id inside one guild.
type Ban struct {
	lifecycle

	GuildID string
	UserID  string
	User    *User
	Reason  string
}

func NewBan(guildID string, raw json.RawMessage) (*Ban, error) {
	b := &Ban{GuildID: guildID}
	if err := b.Patch(raw); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Ban) Key() string { return b.UserID }
func (b *Ban) Kind() Kind  { return KindBan }

func (b *Ban) Patch(raw json.RawMessage) error {
	if err := b.mutable(KindBan); err != nil {
		return err
	}
	var p discordgo.GuildBan
	f, err := decode(KindBan, raw, &p)
	if err != nil {
		return err
	}
	if b.UserID == "" && p.User != nil {
		b.UserID = p.User.ID
	}
	if f.has("reason") {
		b.Reason = p.Reason
	}
	return nil
}

func (b *Ban) AttachUser(u *User) {
	if u != nil && (b.UserID == "" || b.UserID == u.ID) {
		b.UserID = u.ID
		b.User = u
	}
}

func (b *Ban) Clone() *Ban {
	c := *b
	c.lifecycle = lifecycle{}
	return &c
}
