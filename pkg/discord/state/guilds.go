package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
)

type GuildManager struct {
	manager[*entity.Guild]
}

// Upsert merges a guild object. Nested collections (members, channels, ...)
// are not touched here; see ApplySnapshot.
func (m *GuildManager) Upsert(raw json.RawMessage) (Change[*entity.Guild], error) {
	return m.upsert(raw, entity.NewGuild)
}

// Remove deletes the guild and cascades to everything it owns.
func (m *GuildManager) Remove(id string) (*entity.Guild, bool) {
	g, _, ok := m.RemoveCascade(id)
	return g, ok
}

// RemoveCascade is Remove that also reports how many dependents were
// affected, per kind. The cascade runs even when the guild was not cached.
func (m *GuildManager) RemoveCascade(id string) (*entity.Guild, map[entity.Kind]int, bool) {
	g, ok := m.remove(id)
	affected := m.st.cascade(entity.KindGuild, id)
	return g, affected, ok
}

// MarkUnavailable flags a cached guild as unavailable and keeps its sub-caches.
func (m *GuildManager) MarkUnavailable(id string) (*entity.Guild, bool) {
	g, ok := m.Get(id)
	if !ok {
		return nil, false
	}
	if err := g.Patch(json.RawMessage(`{"unavailable":true}`)); err != nil {
		return nil, false
	}
	return g, true
}

// guildCollections are the nested arrays of a full guild object.
type guildCollections struct {
	Roles       []json.RawMessage `json:"roles"`
	Channels    []json.RawMessage `json:"channels"`
	Threads     []json.RawMessage `json:"threads"`
	Members     []json.RawMessage `json:"members"`
	Presences   []json.RawMessage `json:"presences"`
	VoiceStates []json.RawMessage `json:"voice_states"`
}

// ApplySnapshot merges a full guild object together with every nested
// collection it carries. A bad nested item is skipped and reported in the
// joined error; the rest of the snapshot is still applied.
func (m *GuildManager) ApplySnapshot(raw json.RawMessage) (Change[*entity.Guild], error) {
	ch, err := m.Upsert(raw)
	if err != nil {
		return ch, err
	}
	var nested guildCollections
	if err := json.Unmarshal(raw, &nested); err != nil {
		return ch, fmt.Errorf("decode guild collections: %w", err)
	}

	id := ch.New.ID
	var errs []error
	roles := m.st.Roles(id)
	for _, r := range nested.Roles {
		if _, err := roles.Upsert(r); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range append(nested.Channels, nested.Threads...) {
		if _, err := m.st.Channels.Upsert(id, c); err != nil {
			errs = append(errs, err)
		}
	}
	members := m.st.Members(id)
	for _, mem := range nested.Members {
		if _, err := members.Upsert(mem); err != nil {
			errs = append(errs, err)
		}
	}
	presences := m.st.Presences(id)
	for _, p := range nested.Presences {
		if _, err := presences.Upsert(p); err != nil {
			errs = append(errs, err)
		}
	}
	voice := m.st.VoiceStates(id)
	for _, v := range nested.VoiceStates {
		if _, err := voice.Upsert(v); err != nil {
			errs = append(errs, err)
		}
	}
	return ch, errors.Join(errs...)
}

// ApplyUpdate merges a guild update together with the roles it carries.
// Other nested collections are not part of an update and are left alone.
func (m *GuildManager) ApplyUpdate(raw json.RawMessage) (Change[*entity.Guild], error) {
	ch, err := m.Upsert(raw)
	if err != nil {
		return ch, err
	}
	var nested struct {
		Roles []json.RawMessage `json:"roles"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return ch, fmt.Errorf("decode guild roles: %w", err)
	}
	var errs []error
	roles := m.st.Roles(ch.New.ID)
	for _, r := range nested.Roles {
		if _, err := roles.Upsert(r); err != nil {
			errs = append(errs, err)
		}
	}
	return ch, errors.Join(errs...)
}

func (m *GuildManager) upsertGuild(raw json.RawMessage) (*entity.Guild, error) {
	ch, err := m.ApplySnapshot(raw)
	return ch.New, err
}

// Fetch returns the cached guild unless force is set, else GET /guilds/{id}.
func (m *GuildManager) Fetch(ctx context.Context, id string, force bool) (*entity.Guild, error) {
	return m.fetchOne(ctx, id, force, "/guilds/"+id, url.Values{"with_counts": {"true"}}, m.upsertGuild)
}

// Edit sends PATCH /guilds/{id} and merges the response.
func (m *GuildManager) Edit(ctx context.Context, id string, body any, reason string) (*entity.Guild, error) {
	resp, err := m.call(ctx, "edit guild", http.MethodPatch, "/guilds/"+id, rest.Options{Body: body, Reason: reason})
	if err != nil {
		return nil, err
	}
	return m.writeBack(resp, m.upsertGuild)
}

// ResetVolatile clears the member, presence and voice state caches of a guild
// so that a guild coming back from an outage is repopulated without stale entries.
func (m *GuildManager) ResetVolatile(id string) {
	m.st.Members(id).clear()
	m.st.Presences(id).clear()
	m.st.VoiceStates(id).clear()
}
