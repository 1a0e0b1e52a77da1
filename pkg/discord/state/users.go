package state

import (
	"context"
	"encoding/json"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
)

type UserManager struct {
	manager[*entity.User]
}

// Upsert merges a user object.
func (m *UserManager) Upsert(raw json.RawMessage) (Change[*entity.User], error) {
	return m.upsert(raw, entity.NewUser)
}

func (m *UserManager) upsertUser(raw json.RawMessage) (*entity.User, error) {
	ch, err := m.Upsert(raw)
	return ch.New, err
}

// Fetch returns the cached user unless force is set, else GET /users/{id}.
func (m *UserManager) Fetch(ctx context.Context, id string, force bool) (*entity.User, error) {
	return m.fetchOne(ctx, id, force, "/users/"+id, nil, m.upsertUser)
}
