package state

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
)

// InviteManager holds invites keyed by code.
type InviteManager struct {
	manager[*entity.Invite]
}

func (m *InviteManager) Upsert(raw json.RawMessage) (Change[*entity.Invite], error) {
	return m.upsert(raw, entity.NewInvite)
}

func (m *InviteManager) Remove(code string) (*entity.Invite, bool) {
	return m.remove(code)
}

func (m *InviteManager) upsertInvite(raw json.RawMessage) (*entity.Invite, error) {
	ch, err := m.Upsert(raw)
	return ch.New, err
}

// Fetch returns the cached invite unless force is set, else GET /invites/{code}.
func (m *InviteManager) Fetch(ctx context.Context, code string, force bool) (*entity.Invite, error) {
	return m.fetchOne(ctx, code, force, "/invites/"+url.PathEscape(code), nil, m.upsertInvite)
}

// Delete sends DELETE /invites/{code} and removes the invite.
func (m *InviteManager) Delete(ctx context.Context, code string, reason string) (*entity.Invite, error) {
	if _, err := m.call(ctx, "delete invite", http.MethodDelete, "/invites/"+url.PathEscape(code), rest.Options{Reason: reason}); err != nil {
		return nil, err
	}
	var inv *entity.Invite
	m.st.locked(func() { inv, _ = m.Remove(code) })
	return inv, nil
}
