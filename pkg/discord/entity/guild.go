package entity

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Guild holds the guild's own fields. Members, roles, channels, presences and
// voice states live in their own caches scoped by the guild id.
type Guild struct {
	lifecycle

	ID                       string
	Name                     string
	Icon                     string
	Splash                   string
	Banner                   string
	Description              string
	OwnerID                  string
	AfkChannelID             string
	SystemChannelID          string
	PreferredLocale          string
	Features                 []discordgo.GuildFeature
	VerificationLevel        discordgo.VerificationLevel
	PremiumTier              discordgo.PremiumTier
	PremiumSubscriptionCount int
	MemberCount              int
	MaxMembers               int
	Large                    bool
	Unavailable              bool
	JoinedAt                 time.Time
}

// NewGuild builds a Guild from a raw guild object.
func NewGuild(raw json.RawMessage) (*Guild, error) {
	g := &Guild{}
	if err := g.Patch(raw); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Guild) Key() string { return g.ID }
func (g *Guild) Kind() Kind  { return KindGuild }

func (g *Guild) Patch(raw json.RawMessage) error {
	if err := g.mutable(KindGuild); err != nil {
		return err
	}
	var p discordgo.Guild
	f, err := decode(KindGuild, raw, &p)
	if err != nil {
		return err
	}
	if g.ID == "" && f.has("id") {
		g.ID = p.ID
	}
	if f.has("name") {
		g.Name = p.Name
	}
	if f.has("icon") {
		g.Icon = p.Icon
	}
	if f.has("splash") {
		g.Splash = p.Splash
	}
	if f.has("banner") {
		g.Banner = p.Banner
	}
	if f.has("description") {
		g.Description = p.Description
	}
	if f.has("owner_id") {
		g.OwnerID = p.OwnerID
	}
	if f.has("afk_channel_id") {
		g.AfkChannelID = p.AfkChannelID
	}
	if f.has("system_channel_id") {
		g.SystemChannelID = p.SystemChannelID
	}
	if f.has("preferred_locale") {
		g.PreferredLocale = p.PreferredLocale
	}
	if f.has("features") {
		g.Features = slices.Clone(p.Features)
	}
	if f.has("verification_level") {
		g.VerificationLevel = p.VerificationLevel
	}
	if f.has("premium_tier") {
		g.PremiumTier = p.PremiumTier
	}
	if f.has("premium_subscription_count") {
		g.PremiumSubscriptionCount = p.PremiumSubscriptionCount
	}
	if f.has("member_count") {
		g.MemberCount = p.MemberCount
	}
	if f.has("max_members") {
		g.MaxMembers = p.MaxMembers
	}
	if f.has("large") {
		g.Large = p.Large
	}
	// Absent "unavailable" on a full guild object means available.
	if f.has("unavailable") {
		g.Unavailable = p.Unavailable
	} else if f.has("name") {
		g.Unavailable = false
	}
	if f.has("joined_at") {
		g.JoinedAt = p.JoinedAt
	}
	return nil
}

// Clone returns an unfrozen copy.
func (g *Guild) Clone() *Guild {
	c := *g
	c.lifecycle = lifecycle{}
	c.Features = slices.Clone(g.Features)
	return &c
}

// AdjustMemberCount applies a member add (+1) or remove (-1) to MemberCount.
func (g *Guild) AdjustMemberCount(delta int) error {
	if err := g.mutable(KindGuild); err != nil {
		return err
	}
	g.MemberCount += delta
	if g.MemberCount < 0 {
		g.MemberCount = 0
	}
	return nil
}
