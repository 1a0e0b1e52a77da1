package events

import (
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
)

// Change payloads carry a frozen Old snapshot and the live New entity. Old is
// nil when there was nothing cached to compare with.

type ReadyPayload struct {
	User      *entity.User
	SessionID string
	Guilds    int
}

type GuildPayload struct {
	Guild *entity.Guild
}

type GuildUpdatePayload struct {
	Old *entity.Guild
	New *entity.Guild
}

// GuildDeletePayload carries the frozen guild. Affected counts the dependents
// removed with it, per kind.
type GuildDeletePayload struct {
	Guild    *entity.Guild
	Affected map[entity.Kind]int
}

type GuildMembersChunkPayload struct {
	GuildID    string
	Members    []*entity.Member
	Presences  []*entity.Presence
	ChunkIndex int
	ChunkCount int
	Nonce      string
	NotFound   []string
}

type MemberPayload struct {
	Member *entity.Member
}

type MemberUpdatePayload struct {
	Old *entity.Member
	New *entity.Member
}

// MemberRemovePayload carries the frozen member, or only the user when the
// member was not cached.
type MemberRemovePayload struct {
	GuildID string
	Member  *entity.Member
	User    *entity.User
}

type RolePayload struct {
	Role *entity.Role
}

type RoleUpdatePayload struct {
	Old *entity.Role
	New *entity.Role
}

type BanPayload struct {
	Ban *entity.Ban
}

type ChannelPayload struct {
	Channel *entity.Channel
}

type ChannelUpdatePayload struct {
	Old *entity.Channel
	New *entity.Channel
}

// ChannelDeletePayload carries the frozen channel and how many cached
// messages were tombstoned with it.
type ChannelDeletePayload struct {
	Channel  *entity.Channel
	Messages int
}

type ChannelPinsPayload struct {
	ChannelID string
	GuildID   string
	LastPin   *time.Time
}

type MessagePayload struct {
	Message *entity.Message
}

type MessageUpdatePayload struct {
	Old *entity.Message
	New *entity.Message
}

type MessageDeleteBulkPayload struct {
	ChannelID string
	GuildID   string
	Messages  []*entity.Message
	// IDs lists every id in the event, cached or not.
	IDs []string
}

type PresenceUpdatePayload struct {
	Old *entity.Presence
	New *entity.Presence
}

type TypingPayload struct {
	ChannelID string
	GuildID   string
	UserID    string
	User      *entity.User
	Member    *entity.Member
	Timestamp time.Time
}

type UserUpdatePayload struct {
	Old *entity.User
	New *entity.User
}

type VoiceStateUpdatePayload struct {
	Old *entity.VoiceState
	New *entity.VoiceState
}

type InvitePayload struct {
	Invite *entity.Invite
}

// NoticePayload is used by events that only name what changed upstream
// (webhooks, integrations) without a cached entity.
type NoticePayload struct {
	GuildID   string
	ChannelID string
}

// DebugPayload is a diagnostic line from the pipeline.
type DebugPayload struct {
	Message string
	Tag     string
}

// ErrorPayload wraps a non-fatal failure.
type ErrorPayload struct {
	Err error
	Tag string
}
