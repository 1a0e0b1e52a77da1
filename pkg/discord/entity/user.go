package entity

import (
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// User is a global account, shared by every Member with the same id.
type User struct {
	lifecycle

	ID            string
	Username      string
	GlobalName    string
	Discriminator string
	Avatar        string
	Banner        string
	AccentColor   int
	Bot           bool
	System        bool
	PublicFlags   discordgo.UserFlags
}

// NewUser builds a User from a raw user object.
func NewUser(raw json.RawMessage) (*User, error) {
	u := &User{}
	if err := u.Patch(raw); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) Key() string { return u.ID }
func (u *User) Kind() Kind  { return KindUser }

func (u *User) Patch(raw json.RawMessage) error {
	if err := u.mutable(KindUser); err != nil {
		return err
	}
	var p discordgo.User
	f, err := decode(KindUser, raw, &p)
	if err != nil {
		return err
	}
	if u.ID == "" && f.has("id") {
		u.ID = p.ID
	}
	if f.has("username") {
		u.Username = p.Username
	}
	if f.has("global_name") {
		u.GlobalName = p.GlobalName
	}
	if f.has("discriminator") {
		u.Discriminator = p.Discriminator
	}
	if f.has("avatar") {
		u.Avatar = p.Avatar
	}
	if f.has("banner") {
		u.Banner = p.Banner
	}
	if f.has("accent_color") {
		u.AccentColor = p.AccentColor
	}
	if f.has("bot") {
		u.Bot = p.Bot
	}
	if f.has("system") {
		u.System = p.System
	}
	if f.has("public_flags") {
		u.PublicFlags = p.PublicFlags
	}
	return nil
}

// Clone returns an unfrozen copy.
func (u *User) Clone() *User {
	c := *u
	c.lifecycle = lifecycle{}
	return &c
}

// Equal compares the user-visible fields.
func (u *User) Equal(o *User) bool {
	if u == nil || o == nil {
		return u == o
	}
	return u.ID == o.ID &&
		u.Username == o.Username &&
		u.GlobalName == o.GlobalName &&
		u.Discriminator == o.Discriminator &&
		u.Avatar == o.Avatar &&
		u.Banner == o.Banner &&
		u.AccentColor == o.AccentColor &&
		u.Bot == o.Bot &&
		u.System == o.System &&
		u.PublicFlags == o.PublicFlags
}
