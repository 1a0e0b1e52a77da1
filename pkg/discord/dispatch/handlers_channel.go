package dispatch

import (
	"encoding/json"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/events"
)

type channelHeader struct {
	ID        string `json:"id"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

// handleChannelCreate only reports channels that were not cached already.
func handleChannelCreate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var c channelHeader
	if err := decodePayload(raw, &c); err != nil {
		return nil, err
	}
	ch, err := p.st.Channels.Upsert(c.GuildID, raw)
	if err != nil {
		return nil, err
	}
	if !ch.Created {
		return nil, nil
	}
	return []Event{event(events.ChannelCreate, events.ChannelPayload{Channel: ch.New})}, nil
}

func handleChannelUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	return channelUpdate(p, raw, events.ChannelUpdate)
}

func handleChannelDelete(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	return channelDelete(p, raw, events.ChannelDelete)
}

func handleThreadCreate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var c channelHeader
	if err := decodePayload(raw, &c); err != nil {
		return nil, err
	}
	ch, err := p.st.Channels.Upsert(c.GuildID, raw)
	if err != nil {
		return nil, err
	}
	return []Event{event(events.ThreadCreate, events.ChannelPayload{Channel: ch.New})}, nil
}

func handleThreadUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	return channelUpdate(p, raw, events.ThreadUpdate)
}

func handleThreadDelete(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	return channelDelete(p, raw, events.ThreadDelete)
}

func channelUpdate(p *Pipeline, raw json.RawMessage, name string) ([]Event, error) {
	var c channelHeader
	if err := decodePayload(raw, &c); err != nil {
		return nil, err
	}
	ch, err := p.st.Channels.Upsert(c.GuildID, raw)
	if err != nil {
		return nil, err
	}
	return []Event{event(name, events.ChannelUpdatePayload{Old: ch.Old, New: ch.New})}, nil
}

// channelDelete removes the channel and tombstones its cached messages.
func channelDelete(p *Pipeline, raw json.RawMessage, name string) ([]Event, error) {
	var c channelHeader
	if err := decodePayload(raw, &c); err != nil {
		return nil, err
	}
	gone, affected, ok := p.st.Channels.RemoveCascade(c.ID)
	if !ok {
		return nil, nil
	}
	return []Event{event(name, events.ChannelDeletePayload{Channel: gone, Messages: affected[entity.KindMessage]})}, nil
}

func handleChannelPins(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var c struct {
		channelHeader
		LastPin *time.Time `json:"last_pin_timestamp"`
	}
	if err := decodePayload(raw, &c); err != nil {
		return nil, err
	}
	ch, ok := p.st.Channels.Get(c.ChannelID)
	if !ok {
		return nil, nil
	}
	if err := ch.SetLastPin(c.LastPin); err != nil {
		return nil, err
	}
	return []Event{event(events.ChannelPinsUpdate, events.ChannelPinsPayload{ChannelID: c.ChannelID, GuildID: c.GuildID, LastPin: c.LastPin})}, nil
}

func handleWebhooksUpdate(p *Pipeline, raw json.RawMessage) ([]Event, error) {
	var c channelHeader
	if err := decodePayload(raw, &c); err != nil {
		return nil, err
	}
	return []Event{event(events.WebhooksUpdate, events.NoticePayload{GuildID: c.GuildID, ChannelID: c.ChannelID})}, nil
}
