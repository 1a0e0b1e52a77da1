package state

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
)

// ChannelManager holds every channel, guild-based or not, keyed by id.
type ChannelManager struct {
	manager[*entity.Channel]
}

// Upsert merges a channel object. guildID fills in a missing guild_id.
func (m *ChannelManager) Upsert(guildID string, raw json.RawMessage) (Change[*entity.Channel], error) {
	return m.upsert(raw, func(r json.RawMessage) (*entity.Channel, error) {
		return entity.NewChannel(guildID, r)
	})
}

// Remove deletes the channel and tombstones its cached messages.
func (m *ChannelManager) Remove(id string) (*entity.Channel, bool) {
	c, _, ok := m.RemoveCascade(id)
	return c, ok
}

// RemoveCascade is Remove that also reports how many dependents were affected.
func (m *ChannelManager) RemoveCascade(id string) (*entity.Channel, map[entity.Kind]int, bool) {
	c, ok := m.remove(id)
	affected := m.st.cascade(entity.KindChannel, id)
	return c, affected, ok
}

// InGuild lists the cached channels of a guild.
func (m *ChannelManager) InGuild(guildID string) []*entity.Channel {
	var out []*entity.Channel
	for _, c := range m.Values() {
		if c.GuildID == guildID {
			out = append(out, c)
		}
	}
	return out
}

// Threads lists cached threads whose parent is channelID.
func (m *ChannelManager) Threads(channelID string) []*entity.Channel {
	var out []*entity.Channel
	for _, c := range m.Values() {
		if c.IsThread() && c.ParentID == channelID {
			out = append(out, c)
		}
	}
	return out
}

func (m *ChannelManager) upsertChannel(raw json.RawMessage) (*entity.Channel, error) {
	ch, err := m.Upsert("", raw)
	return ch.New, err
}

// Fetch returns the cached channel unless force is set, else GET /channels/{id}.
func (m *ChannelManager) Fetch(ctx context.Context, id string, force bool) (*entity.Channel, error) {
	return m.fetchOne(ctx, id, force, "/channels/"+id, nil, m.upsertChannel)
}

// Create sends POST /guilds/{guild}/channels and caches the new channel.
func (m *ChannelManager) Create(ctx context.Context, guildID string, body any, reason string) (*entity.Channel, error) {
	resp, err := m.call(ctx, "create channel", http.MethodPost, "/guilds/"+guildID+"/channels", rest.Options{Body: body, Reason: reason})
	if err != nil {
		return nil, err
	}
	return m.writeBack(resp, func(raw json.RawMessage) (*entity.Channel, error) {
		ch, err := m.Upsert(guildID, raw)
		return ch.New, err
	})
}

// Edit sends PATCH /channels/{id} and merges the response.
func (m *ChannelManager) Edit(ctx context.Context, id string, body any, reason string) (*entity.Channel, error) {
	resp, err := m.call(ctx, "edit channel", http.MethodPatch, "/channels/"+id, rest.Options{Body: body, Reason: reason})
	if err != nil {
		return nil, err
	}
	return m.writeBack(resp, m.upsertChannel)
}

// Delete sends DELETE /channels/{id}. On success the channel is removed with
// the same cascade as CHANNEL_DELETE and the frozen channel is returned when
// it was cached.
func (m *ChannelManager) Delete(ctx context.Context, id string, reason string) (*entity.Channel, error) {
	if _, err := m.call(ctx, "delete channel", http.MethodDelete, "/channels/"+id, rest.Options{Reason: reason}); err != nil {
		return nil, err
	}
	var c *entity.Channel
	m.st.locked(func() { c, _ = m.Remove(id) })
	return c, nil
}
