package entity

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ChannelVariant is the closed set of channel shapes derived from the type code.
type ChannelVariant string

const (
	VariantText      ChannelVariant = "text"
	VariantDM        ChannelVariant = "dm"
	VariantVoice     ChannelVariant = "voice"
	VariantGroupDM   ChannelVariant = "group_dm"
	VariantCategory  ChannelVariant = "category"
	VariantNews      ChannelVariant = "news"
	VariantThread    ChannelVariant = "thread"
	VariantStage     ChannelVariant = "stage"
	VariantDirectory ChannelVariant = "directory"
	VariantForum     ChannelVariant = "forum"
	VariantMedia     ChannelVariant = "media"
	VariantUnknown   ChannelVariant = "unknown"
)

const (
	channelTypeDirectory discordgo.ChannelType = 14
	channelTypeMedia     discordgo.ChannelType = 16
)

// ChannelVariantOf maps a channel type code to its variant.
func ChannelVariantOf(t discordgo.ChannelType) ChannelVariant {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return VariantText
	case discordgo.ChannelTypeDM:
		return VariantDM
	case discordgo.ChannelTypeGuildVoice:
		return VariantVoice
	case discordgo.ChannelTypeGroupDM:
		return VariantGroupDM
	case discordgo.ChannelTypeGuildCategory:
		return VariantCategory
	case discordgo.ChannelTypeGuildNews:
		return VariantNews
	case discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return VariantThread
	case discordgo.ChannelTypeGuildStageVoice:
		return VariantStage
	case channelTypeDirectory:
		return VariantDirectory
	case discordgo.ChannelTypeGuildForum:
		return VariantForum
	case channelTypeMedia:
		return VariantMedia
	default:
		return VariantUnknown
	}
}

// ThreadMetadata is copied out of the payload so clones never share it.
type ThreadMetadata struct {
	Archived            bool
	AutoArchiveDuration int
	ArchiveTimestamp    time.Time
	Locked              bool
	Invitable           bool
}

type Channel struct {
	lifecycle

	ID                   string
	GuildID              string
	Name                 string
	Topic                string
	ParentID             string
	OwnerID              string
	LastMessageID        string
	Type                 discordgo.ChannelType
	Variant              ChannelVariant
	Position             int
	NSFW                 bool
	Bitrate              int
	UserLimit            int
	RateLimitPerUser     int
	LastPinTimestamp     *time.Time
	RecipientIDs         []string
	PermissionOverwrites []discordgo.PermissionOverwrite
	Thread               *ThreadMetadata
}

// NewChannel builds a Channel. guildID is used when the payload omits guild_id,
// as channels embedded in GUILD_CREATE do.
func NewChannel(guildID string, raw json.RawMessage) (*Channel, error) {
	c := &Channel{GuildID: guildID, Variant: VariantUnknown}
	if err := c.Patch(raw); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Channel) Key() string { return c.ID }
func (c *Channel) Kind() Kind  { return KindChannel }

func (c *Channel) Patch(raw json.RawMessage) error {
	if err := c.mutable(KindChannel); err != nil {
		return err
	}
	var p discordgo.Channel
	f, err := decode(KindChannel, raw, &p)
	if err != nil {
		return err
	}
	if c.ID == "" && f.has("id") {
		c.ID = p.ID
	}
	if f.has("guild_id") && p.GuildID != "" {
		c.GuildID = p.GuildID
	}
	if f.has("type") {
		c.Type = p.Type
		c.Variant = ChannelVariantOf(p.Type)
	}
	if f.has("name") {
		c.Name = p.Name
	}
	if f.has("topic") {
		c.Topic = p.Topic
	}
	if f.has("parent_id") {
		c.ParentID = p.ParentID
	}
	if f.has("owner_id") {
		c.OwnerID = p.OwnerID
	}
	if f.has("last_message_id") {
		c.LastMessageID = p.LastMessageID
	}
	if f.has("position") {
		c.Position = p.Position
	}
	if f.has("nsfw") {
		c.NSFW = p.NSFW
	}
	if f.has("bitrate") {
		c.Bitrate = p.Bitrate
	}
	if f.has("user_limit") {
		c.UserLimit = p.UserLimit
	}
	if f.has("rate_limit_per_user") {
		c.RateLimitPerUser = p.RateLimitPerUser
	}
	if f.has("last_pin_timestamp") {
		c.LastPinTimestamp = cloneTime(p.LastPinTimestamp)
	}
	if f.has("recipients") {
		ids := make([]string, 0, len(p.Recipients))
		for _, u := range p.Recipients {
			if u != nil {
				ids = append(ids, u.ID)
			}
		}
		c.RecipientIDs = ids
	}
	if f.has("permission_overwrites") {
		ows := make([]discordgo.PermissionOverwrite, 0, len(p.PermissionOverwrites))
		for _, ow := range p.PermissionOverwrites {
			if ow != nil {
				ows = append(ows, *ow)
			}
		}
		c.PermissionOverwrites = ows
	}
	if f.null("thread_metadata") {
		c.Thread = nil
	} else if f.has("thread_metadata") && p.ThreadMetadata != nil {
		m := p.ThreadMetadata
		c.Thread = &ThreadMetadata{
			Archived:            m.Archived,
			AutoArchiveDuration: m.AutoArchiveDuration,
			ArchiveTimestamp:    m.ArchiveTimestamp,
			Locked:              m.Locked,
			Invitable:           m.Invitable,
		}
	}
	return nil
}

// SetLastPin records a CHANNEL_PINS_UPDATE timestamp; nil clears it.
func (c *Channel) SetLastPin(t *time.Time) error {
	if err := c.mutable(KindChannel); err != nil {
		return err
	}
	c.LastPinTimestamp = cloneTime(t)
	return nil
}

// SetLastMessage advances the last message pointer after MESSAGE_CREATE.
func (c *Channel) SetLastMessage(id string) error {
	if err := c.mutable(KindChannel); err != nil {
		return err
	}
	c.LastMessageID = id
	return nil
}

func (c *Channel) IsGuildBased() bool { return c.GuildID != "" }

func (c *Channel) IsThread() bool { return c.Variant == VariantThread }

// IsTextBased reports whether the channel can hold messages.
func (c *Channel) IsTextBased() bool {
	switch c.Variant {
	case VariantText, VariantDM, VariantGroupDM, VariantNews, VariantThread, VariantVoice, VariantStage:
		return true
	}
	return false
}

func (c *Channel) Clone() *Channel {
	n := *c
	n.lifecycle = lifecycle{}
	n.LastPinTimestamp = cloneTime(c.LastPinTimestamp)
	n.RecipientIDs = cloneStrings(c.RecipientIDs)
	if c.PermissionOverwrites != nil {
		n.PermissionOverwrites = append([]discordgo.PermissionOverwrite(nil), c.PermissionOverwrites...)
	}
	if c.Thread != nil {
		t := *c.Thread
		n.Thread = &t
	}
	return &n
}
