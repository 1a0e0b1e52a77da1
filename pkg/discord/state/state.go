// Package state holds the entity managers: typed views over the cache
// directory that merge gateway payloads and write REST results back.
//
// Methods named Upsert*/Remove*/Apply* mutate cached entities and must be
// called with the directory state lock held (the dispatch pipeline does this).
// REST methods take the lock themselves, only for the write-back.
package state

import (
	"sync"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
)

// ChunkRequester sends gateway member requests. *discordgo.Session implements it.
type ChunkRequester interface {
	RequestGuildMembers(guildID, query string, limit int, nonce string, presences bool) error
}

// State is the root of every manager.
type State struct {
	dir    *cache.Directory
	rest   rest.Requester
	chunks ChunkRequester

	Users    *UserManager
	Guilds   *GuildManager
	Channels *ChannelManager
	Invites  *InviteManager

	mu         sync.Mutex
	self       *entity.User
	collectors map[string]*collector
}

// Option configures a State.
type Option func(*State)

// WithChunkRequester enables MemberManager.RequestAll.
func WithChunkRequester(c ChunkRequester) Option {
	return func(s *State) { s.chunks = c }
}

// New builds a State over dir. req may be nil for a read-only mirror; REST
// methods then fail with ErrNoRequester.
func New(dir *cache.Directory, req rest.Requester, opts ...Option) *State {
	s := &State{
		dir:        dir,
		rest:       req,
		collectors: make(map[string]*collector),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Users = &UserManager{manager: newManager[*entity.User](s, entity.KindUser, "")}
	s.Guilds = &GuildManager{manager: newManager[*entity.Guild](s, entity.KindGuild, "")}
	s.Channels = &ChannelManager{manager: newManager[*entity.Channel](s, entity.KindChannel, "")}
	s.Invites = &InviteManager{manager: newManager[*entity.Invite](s, entity.KindInvite, "")}
	return s
}

func (s *State) Directory() *cache.Directory { return s.dir }

// Self is the user the session is logged in as, set from READY.
func (s *State) Self() *entity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *State) SetSelf(u *entity.User) {
	s.mu.Lock()
	s.self = u
	s.mu.Unlock()
}

// Members returns the member manager of a guild.
func (s *State) Members(guildID string) *MemberManager {
	return &MemberManager{manager: newManager[*entity.Member](s, entity.KindMember, guildID)}
}

func (s *State) Roles(guildID string) *RoleManager {
	return &RoleManager{manager: newManager[*entity.Role](s, entity.KindRole, guildID)}
}

func (s *State) Presences(guildID string) *PresenceManager {
	return &PresenceManager{manager: newManager[*entity.Presence](s, entity.KindPresence, guildID)}
}

func (s *State) VoiceStates(guildID string) *VoiceStateManager {
	return &VoiceStateManager{manager: newManager[*entity.VoiceState](s, entity.KindVoiceState, guildID)}
}

func (s *State) Bans(guildID string) *BanManager {
	return &BanManager{manager: newManager[*entity.Ban](s, entity.KindBan, guildID)}
}

// Messages returns the message manager of a channel.
func (s *State) Messages(channelID string) *MessageManager {
	return &MessageManager{manager: newManager[*entity.Message](s, entity.KindMessage, channelID)}
}

// locked runs fn under the directory state lock.
func (s *State) locked(fn func()) {
	s.dir.Lock()
	defer s.dir.Unlock()
	fn()
}
