package entity

import (
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

type Role struct {
	lifecycle

	ID           string
	GuildID      string
	Name         string
	Color        int
	Hoist        bool
	Position     int
	Permissions  int64
	Managed      bool
	Mentionable  bool
	Icon         string
	UnicodeEmoji string
}

// NewRole builds a Role owned by guildID.
func NewRole(guildID string, raw json.RawMessage) (*Role, error) {
	r := &Role{GuildID: guildID}
	if err := r.Patch(raw); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Role) Key() string { return r.ID }
func (r *Role) Kind() Kind  { return KindRole }

func (r *Role) Patch(raw json.RawMessage) error {
	if err := r.mutable(KindRole); err != nil {
		return err
	}
	var p discordgo.Role
	f, err := decode(KindRole, raw, &p)
	if err != nil {
		return err
	}
	if r.ID == "" && f.has("id") {
		r.ID = p.ID
	}
	if f.has("name") {
		r.Name = p.Name
	}
	if f.has("color") {
		r.Color = p.Color
	}
	if f.has("hoist") {
		r.Hoist = p.Hoist
	}
	if f.has("position") {
		r.Position = p.Position
	}
	if f.has("permissions") {
		r.Permissions = p.Permissions
	}
	if f.has("managed") {
		r.Managed = p.Managed
	}
	if f.has("mentionable") {
		r.Mentionable = p.Mentionable
	}
	if f.has("icon") {
		r.Icon = p.Icon
	}
	if f.has("unicode_emoji") {
		r.UnicodeEmoji = p.UnicodeEmoji
	}
	return nil
}

func (r *Role) Clone() *Role {
	c := *r
	c.lifecycle = lifecycle{}
	return &c
}
