package state

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
)

// MessageManager holds the cached messages of one channel.
type MessageManager struct {
	manager[*entity.Message]
}

func (m *MessageManager) ChannelID() string { return m.scope }

// Upsert merges a message and its author. Webhook authors are not cached as users.
func (m *MessageManager) Upsert(raw json.RawMessage) (Change[*entity.Message], error) {
	ch, err := m.upsert(raw, entity.NewMessage)
	if err != nil {
		return ch, err
	}
	if ch.New.WebhookID != "" {
		return ch, nil
	}
	if author := embedded(raw, "author"); author != nil {
		u, err := m.st.Users.upsertUser(author)
		if err != nil {
			return ch, err
		}
		ch.New.AttachAuthor(u)
	}
	return ch, nil
}

func (m *MessageManager) Remove(id string) (*entity.Message, bool) {
	return m.remove(id)
}

// RemoveMany removes every cached id and returns the frozen messages in
// request order; ids that were not cached are skipped.
func (m *MessageManager) RemoveMany(ids []string) []*entity.Message {
	out := make([]*entity.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := m.remove(id); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MessageManager) upsertMessage(raw json.RawMessage) (*entity.Message, error) {
	ch, err := m.Upsert(raw)
	return ch.New, err
}

// Fetch returns the cached message unless force is set, else
// GET /channels/{channel}/messages/{id}.
func (m *MessageManager) Fetch(ctx context.Context, id string, force bool) (*entity.Message, error) {
	return m.fetchOne(ctx, id, force, "/channels/"+m.scope+"/messages/"+id, nil, m.upsertMessage)
}

// Send sends POST /channels/{channel}/messages.
func (m *MessageManager) Send(ctx context.Context, body any) (*entity.Message, error) {
	resp, err := m.call(ctx, "send message", http.MethodPost, "/channels/"+m.scope+"/messages", rest.Options{Body: body})
	if err != nil {
		return nil, err
	}
	return m.writeBack(resp, m.upsertMessage)
}

// Edit sends PATCH /channels/{channel}/messages/{id}.
func (m *MessageManager) Edit(ctx context.Context, id string, body any) (*entity.Message, error) {
	resp, err := m.call(ctx, "edit message", http.MethodPatch, "/channels/"+m.scope+"/messages/"+id, rest.Options{Body: body})
	if err != nil {
		return nil, err
	}
	return m.writeBack(resp, m.upsertMessage)
}

// Delete sends DELETE /channels/{channel}/messages/{id} and removes the message.
func (m *MessageManager) Delete(ctx context.Context, id string, reason string) (*entity.Message, error) {
	if _, err := m.call(ctx, "delete message", http.MethodDelete, "/channels/"+m.scope+"/messages/"+id, rest.Options{Reason: reason}); err != nil {
		return nil, err
	}
	var msg *entity.Message
	m.st.locked(func() { msg, _ = m.Remove(id) })
	return msg, nil
}
