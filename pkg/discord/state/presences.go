package state

import (
	"encoding/json"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
)

type PresenceManager struct {
	manager[*entity.Presence]
}

func (m *PresenceManager) Upsert(raw json.RawMessage) (Change[*entity.Presence], error) {
	return m.upsert(raw, func(r json.RawMessage) (*entity.Presence, error) {
		return entity.NewPresence(m.scope, r)
	})
}

func (m *PresenceManager) Remove(userID string) (*entity.Presence, bool) {
	return m.remove(userID)
}
