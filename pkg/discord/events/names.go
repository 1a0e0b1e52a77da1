// Package events defines the client-facing event names, their payloads and
// the emitter that delivers them.
package events

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Names that do not come from a gateway tag.
const (
	Ready                = "ready"
	Debug                = "debug"
	Error                = "error"
	GuildAvailable       = "guildAvailable"
	GuildUnavailable     = "guildUnavailable"
	GuildMemberAvailable = "guildMemberAvailable"
	Raw                  = "raw"
)

// Names derived from gateway tags, listed for listeners.
var (
	Resumed                 = NameForTag("RESUMED")
	GuildCreate             = NameForTag("GUILD_CREATE")
	GuildUpdate             = NameForTag("GUILD_UPDATE")
	GuildDelete             = NameForTag("GUILD_DELETE")
	GuildMembersChunk       = NameForTag("GUILD_MEMBERS_CHUNK")
	GuildMemberAdd          = NameForTag("GUILD_MEMBER_ADD")
	GuildMemberUpdate       = NameForTag("GUILD_MEMBER_UPDATE")
	GuildMemberRemove       = NameForTag("GUILD_MEMBER_REMOVE")
	GuildRoleCreate         = NameForTag("GUILD_ROLE_CREATE")
	GuildRoleUpdate         = NameForTag("GUILD_ROLE_UPDATE")
	GuildRoleDelete         = NameForTag("GUILD_ROLE_DELETE")
	GuildBanAdd             = NameForTag("GUILD_BAN_ADD")
	GuildBanRemove          = NameForTag("GUILD_BAN_REMOVE")
	GuildIntegrationsUpdate = NameForTag("GUILD_INTEGRATIONS_UPDATE")
	ChannelCreate           = NameForTag("CHANNEL_CREATE")
	ChannelUpdate           = NameForTag("CHANNEL_UPDATE")
	ChannelDelete           = NameForTag("CHANNEL_DELETE")
	ChannelPinsUpdate       = NameForTag("CHANNEL_PINS_UPDATE")
	ThreadCreate            = NameForTag("THREAD_CREATE")
	ThreadUpdate            = NameForTag("THREAD_UPDATE")
	ThreadDelete            = NameForTag("THREAD_DELETE")
	MessageCreate           = NameForTag("MESSAGE_CREATE")
	MessageUpdate           = NameForTag("MESSAGE_UPDATE")
	MessageDelete           = NameForTag("MESSAGE_DELETE")
	MessageDeleteBulk       = NameForTag("MESSAGE_DELETE_BULK")
	PresenceUpdate          = NameForTag("PRESENCE_UPDATE")
	TypingStart             = NameForTag("TYPING_START")
	UserUpdate              = NameForTag("USER_UPDATE")
	VoiceStateUpdate        = NameForTag("VOICE_STATE_UPDATE")
	InviteCreate            = NameForTag("INVITE_CREATE")
	InviteDelete            = NameForTag("INVITE_DELETE")
	WebhooksUpdate          = NameForTag("WEBHOOKS_UPDATE")
)

// NameForTag turns a gateway tag into its camelCase event name:
// PRESENCE_UPDATE becomes presenceUpdate.
func NameForTag(tag string) string {
	parts := strings.Split(tag, "_")
	var b strings.Builder
	b.Grow(len(tag))
	first := true
	for _, p := range parts {
		if p == "" {
			continue
		}
		p = strings.ToLower(p)
		if first {
			b.WriteString(p)
			first = false
			continue
		}
		r, size := utf8.DecodeRuneInString(p)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(p[size:])
	}
	return b.String()
}
