package state

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
)

// MemberManager holds the members of one guild, keyed by user id.
type MemberManager struct {
	manager[*entity.Member]
}

func (m *MemberManager) GuildID() string { return m.scope }

// Upsert merges a member object and the user embedded in it.
func (m *MemberManager) Upsert(raw json.RawMessage) (Change[*entity.Member], error) {
	ch, err := m.upsert(raw, func(r json.RawMessage) (*entity.Member, error) {
		return entity.NewMember(m.scope, r)
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
	} else if u, ok := m.st.Users.Get(ch.New.UserID); ok {
		ch.New.AttachUser(u)
	}
	return ch, nil
}

// Ensure returns the cached member for the user in raw, creating it from the
// stub when absent. Existing members are returned untouched.
func (m *MemberManager) Ensure(raw json.RawMessage) (*entity.Member, bool, error) {
	fresh, err := entity.NewMember(m.scope, raw)
	if err != nil {
		return nil, false, err
	}
	if cur, ok := m.Get(fresh.UserID); ok {
		return cur, false, nil
	}
	ch, err := m.Upsert(raw)
	return ch.New, ch.Created, err
}

// Remove deletes a member; the global user is kept.
func (m *MemberManager) Remove(userID string) (*entity.Member, bool) {
	return m.remove(userID)
}

func (m *MemberManager) upsertMember(raw json.RawMessage) (*entity.Member, error) {
	ch, err := m.Upsert(raw)
	return ch.New, err
}

// Fetch returns the cached member unless force is set, else
// GET /guilds/{guild}/members/{user}.
func (m *MemberManager) Fetch(ctx context.Context, userID string, force bool) (*entity.Member, error) {
	return m.fetchOne(ctx, userID, force, "/guilds/"+m.scope+"/members/"+userID, nil, m.upsertMember)
}

// Edit sends PATCH /guilds/{guild}/members/{user} and merges the response.
func (m *MemberManager) Edit(ctx context.Context, userID string, body any, reason string) (*entity.Member, error) {
	resp, err := m.call(ctx, "edit member", http.MethodPatch, "/guilds/"+m.scope+"/members/"+userID, rest.Options{Body: body, Reason: reason})
	if err != nil {
		return nil, err
	}
	return m.writeBack(resp, m.upsertMember)
}

// Kick sends DELETE /guilds/{guild}/members/{user} and removes the member.
func (m *MemberManager) Kick(ctx context.Context, userID string, reason string) (*entity.Member, error) {
	if _, err := m.call(ctx, "kick member", http.MethodDelete, "/guilds/"+m.scope+"/members/"+userID, rest.Options{Reason: reason}); err != nil {
		return nil, err
	}
	var mem *entity.Member
	m.st.locked(func() { mem, _ = m.Remove(userID) })
	return mem, nil
}

// embedded returns the raw value of key when it is present and not null.
func embedded(raw json.RawMessage, key string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	v, ok := obj[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil
	}
	return v
}
