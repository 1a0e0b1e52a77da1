package entity

import (
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

type Presence struct {
	lifecycle

	UserID       string
	GuildID      string
	Status       discordgo.Status
	Activities   []discordgo.Activity
	ClientStatus discordgo.ClientStatus
}

// NewPresence builds a Presence; guildID is used when the payload omits guild_id.
func NewPresence(guildID string, raw json.RawMessage) (*Presence, error) {
	p := &Presence{GuildID: guildID, Status: discordgo.StatusOffline}
	if err := p.Patch(raw); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Presence) Key() string { return p.UserID }
func (p *Presence) Kind() Kind  { return KindPresence }

func (p *Presence) Patch(raw json.RawMessage) error {
	if err := p.mutable(KindPresence); err != nil {
		return err
	}
	var u discordgo.PresenceUpdate
	f, err := decode(KindPresence, raw, &u)
	if err != nil {
		return err
	}
	if p.UserID == "" && u.User != nil {
		p.UserID = u.User.ID
	}
	if f.has("guild_id") && u.GuildID != "" {
		p.GuildID = u.GuildID
	}
	if f.has("status") {
		p.Status = u.Status
	}
	if f.has("activities") {
		acts := make([]discordgo.Activity, 0, len(u.Activities))
		for _, a := range u.Activities {
			if a != nil {
				acts = append(acts, *a)
			}
		}
		p.Activities = acts
	}
	if f.has("client_status") {
		p.ClientStatus = u.ClientStatus
	}
	return nil
}

// Online reports whether the status is anything other than offline.
func (p *Presence) Online() bool {
	return p.Status != "" && p.Status != discordgo.StatusOffline
}

func (p *Presence) Clone() *Presence {
	c := *p
	c.lifecycle = lifecycle{}
	if p.Activities != nil {
		c.Activities = append([]discordgo.Activity(nil), p.Activities...)
	}
	return &c
}
