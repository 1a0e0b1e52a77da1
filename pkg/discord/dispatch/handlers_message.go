package dispatch

import (
	"encoding/json"

	"github.com/small-frappuccino/discordsync/pkg/discord/events"
	"github.com/small-frappuccino/discordsync/pkg/discord/state"
)

type messageHeader struct {
	ID        string          `json:"id"`
	ChannelID string          `json:"channel_id"`
	GuildID   string          `json:"guild_id"`
	WebhookID string          `json:"webhook_id"`
	Author    json.RawMessage `json:"author"`
	Member    json.RawMessage `json:"member"`
}

// handleMessageCreate caches the message, moves the channel's last message
// pointer and caches the author's member object when the payload has one.
func handleMessageCreate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var m messageHeader
	if err := decodePayload(raw, &m); err != nil {
		return nil, err
	}
	if m.ChannelID == "" {
		return nil, state.ErrMissingKey
	}
	ch, err := p.st.Messages(m.ChannelID).Upsert(raw)
	if err != nil {
		return nil, err
	}
	if c, ok := p.st.Channels.Get(m.ChannelID); ok {
		if err := c.SetLastMessage(ch.New.ID); err != nil {
			return nil, err
		}
	}
	if m.GuildID != "" && m.WebhookID == "" && present(m.Member) && present(m.Author) {
		memRaw, err := withField(m.Member, "user", m.Author)
		if err != nil {
			return nil, err
		}
		if _, err := p.st.Members(m.GuildID).Upsert(memRaw); err != nil {
			return nil, err
		}
	}
	return []Event{event(events.MessageCreate, events.MessagePayload{Message: ch.New})}, nil
}

func handleMessageUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var m messageHeader
	if err := decodePayload(raw, &m); err != nil {
		return nil, err
	}
	ch, err := p.st.Messages(m.ChannelID).Upsert(raw)
	if err != nil {
		return nil, err
	}
	return []Event{event(events.MessageUpdate, events.MessageUpdatePayload{Old: ch.Old, New: ch.New})}, nil
}

func handleMessageDelete(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var m messageHeader
	if err := decodePayload(raw, &m); err != nil {
		return nil, err
	}
	msg, ok := p.st.Messages(m.ChannelID).Remove(m.ID)
	if !ok {
		return nil, nil
	}
	return []Event{event(events.MessageDelete, events.MessagePayload{Message: msg})}, nil
}

func handleMessageDeleteBulk(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var m struct {
		IDs       []string `json:"ids"`
		ChannelID string   `json:"channel_id"`
		GuildID   string   `json:"guild_id"`
	}
	if err := decodePayload(raw, &m); err != nil {
		return nil, err
	}
	gone := p.st.Messages(m.ChannelID).RemoveMany(m.IDs)
	return []Event{event(events.MessageDeleteBulk, events.MessageDeleteBulkPayload{
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Messages:  gone,
		IDs:       m.IDs,
	})}, nil
}
