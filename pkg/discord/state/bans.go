package state

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
)

type BanManager struct {
	manager[*entity.Ban]
}

// Upsert merges a ban object and the user embedded in it.
func (m *BanManager) Upsert(raw json.RawMessage) (Change[*entity.Ban], error) {
	ch, err := m.upsert(raw, func(r json.RawMessage) (*entity.Ban, error) {
		return entity.NewBan(m.scope, r)
	})
	if err != nil {
		return ch, err
	}
	if user := embedded(raw, "user"); user != nil {
		u, err := m.st.Users.upsertUser(user)
		if err != nil {
			return ch, err
		}
		ch.New.AttachUser(u)
	}
	return ch, nil
}

func (m *BanManager) Remove(userID string) (*entity.Ban, bool) {
	return m.remove(userID)
}

func (m *BanManager) upsertBan(raw json.RawMessage) (*entity.Ban, error) {
	ch, err := m.Upsert(raw)
	return ch.New, err
}

// Fetch returns the cached ban unless force is set, else GET /guilds/{guild}/bans/{user}.
func (m *BanManager) Fetch(ctx context.Context, userID string, force bool) (*entity.Ban, error) {
	return m.fetchOne(ctx, userID, force, "/guilds/"+m.scope+"/bans/"+userID, nil, m.upsertBan)
}

// Create sends PUT /guilds/{guild}/bans/{user}. The endpoint returns no body,
// so the cached ban is built from the user id and reason.
func (m *BanManager) Create(ctx context.Context, userID string, deleteMessageSeconds int, reason string) (*entity.Ban, error) {
	body := map[string]any{"delete_message_seconds": deleteMessageSeconds}
	if _, err := m.call(ctx, "create ban", http.MethodPut, "/guilds/"+m.scope+"/bans/"+userID, rest.Options{Body: body, Reason: reason}); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(map[string]any{"user": map[string]string{"id": userID}, "reason": reason})
	if err != nil {
		return nil, fmt.Errorf("encode ban: %w", err)
	}
	return m.writeBack(raw, func(r json.RawMessage) (*entity.Ban, error) {
		ch, err := m.upsert(r, func(r json.RawMessage) (*entity.Ban, error) {
			return entity.NewBan(m.scope, r)
		})
		if err == nil {
			if u, ok := m.st.Users.Get(userID); ok {
				ch.New.AttachUser(u)
			}
		}
		return ch.New, err
	})
}

// Unban sends DELETE /guilds/{guild}/bans/{user} and drops the cached ban.
func (m *BanManager) Unban(ctx context.Context, userID string, reason string) (*entity.Ban, error) {
	if _, err := m.call(ctx, "remove ban", http.MethodDelete, "/guilds/"+m.scope+"/bans/"+userID, rest.Options{Reason: reason}); err != nil {
		return nil, err
	}
	var b *entity.Ban
	m.st.locked(func() { b, _ = m.Remove(userID) })
	return b, nil
}
