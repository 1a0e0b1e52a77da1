package entity

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/discordgo"
)

type Message struct {
	lifecycle

	ID              string
	ChannelID       string
	GuildID         string
	AuthorID        string
	Author          *User
	WebhookID       string
	Content         string
	PreviousContent string
	HasPrevious     bool
	CreatedAt       time.Time
	EditedAt        *time.Time
	Type            discordgo.MessageType
	Flags           discordgo.MessageFlags
	Pinned          bool
	TTS             bool
	MentionEveryone bool
	MentionIDs      []string
	MentionRoles    []string
	Embeds          []discordgo.MessageEmbed
	Attachments     []discordgo.MessageAttachment
}

func NewMessage(raw json.RawMessage) (*Message, error) {
	m := &Message{}
	if err := m.Patch(raw); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Message) Key() string { return m.ID }
func (m *Message) Kind() Kind  { return KindMessage }

// FreshAt anchors message sweeps on the last edit, else on creation.
func (m *Message) FreshAt() time.Time {
	if m.EditedAt != nil && !m.EditedAt.IsZero() {
		return *m.EditedAt
	}
	return m.CreatedAt
}

// Patch merges a message payload. PreviousContent only moves when the payload
// carries an edited_timestamp different from the current one.
func (m *Message) Patch(raw json.RawMessage) error {
	if err := m.mutable(KindMessage); err != nil {
		return err
	}
	var p discordgo.Message
	f, err := decode(KindMessage, raw, &p)
	if err != nil {
		return err
	}
	existing := m.ID != ""
	if m.ID == "" && f.has("id") {
		m.ID = p.ID
	}
	if f.has("channel_id") && p.ChannelID != "" {
		m.ChannelID = p.ChannelID
	}
	if f.has("guild_id") && p.GuildID != "" {
		m.GuildID = p.GuildID
	}
	if f.has("author") && p.Author != nil {
		m.AuthorID = p.Author.ID
	}
	if f.has("webhook_id") {
		m.WebhookID = p.WebhookID
	}

	edited := f.has("edited_timestamp") && !f.null("edited_timestamp") && p.EditedTimestamp != nil &&
		(m.EditedAt == nil || !m.EditedAt.Equal(*p.EditedTimestamp))
	if f.has("content") {
		if edited && existing {
			m.PreviousContent = m.Content
			m.HasPrevious = true
		}
		m.Content = p.Content
	}
	if f.has("edited_timestamp") {
		m.EditedAt = cloneTime(p.EditedTimestamp)
	}
	if f.has("timestamp") {
		m.CreatedAt = p.Timestamp
	}
	if f.has("type") {
		m.Type = p.Type
	}
	if f.has("flags") {
		m.Flags = p.Flags
	}
	if f.has("pinned") {
		m.Pinned = p.Pinned
	}
	if f.has("tts") {
		m.TTS = p.TTS
	}
	if f.has("mention_everyone") {
		m.MentionEveryone = p.MentionEveryone
	}
	if f.has("mentions") {
		ids := make([]string, 0, len(p.Mentions))
		for _, u := range p.Mentions {
			if u != nil {
				ids = append(ids, u.ID)
			}
		}
		m.MentionIDs = ids
	}
	if f.has("mention_roles") {
		m.MentionRoles = cloneStrings(p.MentionRoles)
	}
	if f.has("embeds") {
		embeds := make([]discordgo.MessageEmbed, 0, len(p.Embeds))
		for _, e := range p.Embeds {
			if e != nil {
				embeds = append(embeds, *e)
			}
		}
		m.Embeds = embeds
	}
	if f.has("attachments") {
		atts := make([]discordgo.MessageAttachment, 0, len(p.Attachments))
		for _, a := range p.Attachments {
			if a != nil {
				atts = append(atts, *a)
			}
		}
		m.Attachments = atts
	}
	return nil
}

// AttachAuthor links the globally cached author.
func (m *Message) AttachAuthor(u *User) {
	if u != nil && (m.AuthorID == "" || m.AuthorID == u.ID) {
		m.AuthorID = u.ID
		m.Author = u
	}
}

// SetPinned toggles the pin flag outside of a full patch.
func (m *Message) SetPinned(pinned bool) error {
	if err := m.mutable(KindMessage); err != nil {
		return err
	}
	m.Pinned = pinned
	return nil
}

func (m *Message) Clone() *Message {
	c := *m
	c.lifecycle = lifecycle{}
	c.EditedAt = cloneTime(m.EditedAt)
	c.MentionIDs = cloneStrings(m.MentionIDs)
	c.MentionRoles = cloneStrings(m.MentionRoles)
	if m.Embeds != nil {
		c.Embeds = append([]discordgo.MessageEmbed(nil), m.Embeds...)
	}
	if m.Attachments != nil {
		c.Attachments = append([]discordgo.MessageAttachment(nil), m.Attachments...)
	}
	return &c
}
