package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

func registerBuiltins(p *Pipeline) {
	for tag, h := range map[string]Handler{
		"READY":   handleReady,
		"RESUMED": handleResumed,

		"GUILD_CREATE":              handleGuildCreate,
		"GUILD_UPDATE":              handleGuildUpdate,
		"GUILD_DELETE":              handleGuildDelete,
		"GUILD_MEMBERS_CHUNK":       handleMembersChunk,
		"GUILD_MEMBER_ADD":          handleMemberAdd,
		"GUILD_MEMBER_UPDATE":       handleMemberUpdate,
		"GUILD_MEMBER_REMOVE":       handleMemberRemove,
		"GUILD_ROLE_CREATE":         handleRoleCreate,
		"GUILD_ROLE_UPDATE":         handleRoleUpdate,
		"GUILD_ROLE_DELETE":         handleRoleDelete,
		"GUILD_BAN_ADD":             handleBanAdd,
		"GUILD_BAN_REMOVE":          handleBanRemove,
		"GUILD_INTEGRATIONS_UPDATE": handleIntegrationsUpdate,

		"CHANNEL_CREATE":      handleChannelCreate,
		"CHANNEL_UPDATE":      handleChannelUpdate,
		"CHANNEL_DELETE":      handleChannelDelete,
		"CHANNEL_PINS_UPDATE": handleChannelPins,
		"THREAD_CREATE":       handleThreadCreate,
		"THREAD_UPDATE":       handleThreadUpdate,
		"THREAD_DELETE":       handleThreadDelete,

		"MESSAGE_CREATE":      handleMessageCreate,
		"MESSAGE_UPDATE":      handleMessageUpdate,
		"MESSAGE_DELETE":      handleMessageDelete,
		"MESSAGE_DELETE_BULK": handleMessageDeleteBulk,

		"PRESENCE_UPDATE":    handlePresenceUpdate,
		"TYPING_START":       handleTypingStart,
		"USER_UPDATE":        handleUserUpdate,
		"VOICE_STATE_UPDATE": handleVoiceStateUpdate,
		"INVITE_CREATE":      handleInviteCreate,
		"INVITE_DELETE":      handleInviteDelete,
		"WEBHOOKS_UPDATE":    handleWebhooksUpdate,
	} {
		p.handlers[tag] = h
	}
}

func event(name string, payload any) Event { return Event{Name: name, Payload: payload} }

func decodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// present reports whether a raw field was sent with a non-null value.
func present(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// withField returns a copy of the object raw with key set to v.
func withField(raw json.RawMessage, key string, v json.RawMessage) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if present(raw) {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
	}
	obj[key] = v
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type idOnly struct {
	ID string `json:"id"`
}

func userIDOf(raw json.RawMessage) string {
	var u idOnly
	if !present(raw) || json.Unmarshal(raw, &u) != nil {
		return ""
	}
	return u.ID
}
