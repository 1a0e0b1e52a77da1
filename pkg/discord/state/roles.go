package state

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
)

type RoleManager struct {
	manager[*entity.Role]
}

func (m *RoleManager) Upsert(raw json.RawMessage) (Change[*entity.Role], error) {
	return m.upsert(raw, func(r json.RawMessage) (*entity.Role, error) {
		return entity.NewRole(m.scope, r)
	})
}

func (m *RoleManager) Remove(id string) (*entity.Role, bool) {
	return m.remove(id)
}

func (m *RoleManager) upsertRole(raw json.RawMessage) (*entity.Role, error) {
	ch, err := m.Upsert(raw)
	return ch.New, err
}

// FetchAll sends GET /guilds/{guild}/roles and makes the cache match it:
// listed roles are merged and cached roles missing from the list are removed.
func (m *RoleManager) FetchAll(ctx context.Context) ([]*entity.Role, error) {
	resp, err := m.call(ctx, "fetch roles", http.MethodGet, "/guilds/"+m.scope+"/roles", rest.Options{})
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(resp, &items); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}

	var (
		out  []*entity.Role
		uerr error
	)
	m.st.locked(func() {
		seen := make(map[string]bool, len(items))
		for _, item := range items {
			r, err := m.upsertRole(item)
			if err != nil {
				uerr = err
				return
			}
			seen[r.ID] = true
			out = append(out, r)
		}
		for _, r := range m.Values() {
			if !seen[r.ID] {
				m.Remove(r.ID)
			}
		}
	})
	return out, uerr
}

// Create sends POST /guilds/{guild}/roles.
func (m *RoleManager) Create(ctx context.Context, body any, reason string) (*entity.Role, error) {
	resp, err := m.call(ctx, "create role", http.MethodPost, "/guilds/"+m.scope+"/roles", rest.Options{Body: body, Reason: reason})
	if err != nil {
		return nil, err
	}
	return m.writeBack(resp, m.upsertRole)
}

// Edit sends PATCH /guilds/{guild}/roles/{role}.
func (m *RoleManager) Edit(ctx context.Context, id string, body any, reason string) (*entity.Role, error) {
	resp, err := m.call(ctx, "edit role", http.MethodPatch, "/guilds/"+m.scope+"/roles/"+id, rest.Options{Body: body, Reason: reason})
	if err != nil {
		return nil, err
	}
	return m.writeBack(resp, m.upsertRole)
}

// Delete sends DELETE /guilds/{guild}/roles/{role} and removes the role.
func (m *RoleManager) Delete(ctx context.Context, id string, reason string) (*entity.Role, error) {
	if _, err := m.call(ctx, "delete role", http.MethodDelete, "/guilds/"+m.scope+"/roles/"+id, rest.Options{Reason: reason}); err != nil {
		return nil, err
	}
	var r *entity.Role
	m.st.locked(func() { r, _ = m.Remove(id) })
	return r, nil
}
