package gateway

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/discordsync/pkg/errutil"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// DefaultIntents covers every event the dispatch handlers understand.
const DefaultIntents = discordgo.IntentGuilds |
	discordgo.IntentGuildMembers |
	discordgo.IntentGuildModeration |
	discordgo.IntentGuildIntegrations |
	discordgo.IntentGuildWebhooks |
	discordgo.IntentGuildInvites |
	discordgo.IntentGuildVoiceStates |
	discordgo.IntentGuildPresences |
	discordgo.IntentGuildMessages |
	discordgo.IntentGuildMessageTyping |
	discordgo.IntentMessageContent

// Stubbed in tests.
var (
	newSession   = func(token string) (*discordgo.Session, error) { return discordgo.New("Bot " + token) }
	openSession  = func(s *discordgo.Session) error { return s.Open() }
	closeSession = func(s *discordgo.Session) error { return s.Close() }
)

// CreateSession builds a bot session with intents without connecting. A zero
// intents value means DefaultIntents.
func CreateSession(token string, intents discordgo.Intent) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is empty")
	}
	if intents == 0 {
		intents = DefaultIntents
	}

	var s *discordgo.Session
	if err := errutil.HandleDiscordError("create_session", func() error {
		var err error
		s, err = newSession(token)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	s.Identify.Intents = intents
	return s, nil
}

// OpenSession attaches b, so that READY is not missed, and opens the gateway
// connection. On failure b is detached and the session closed.
func OpenSession(s *discordgo.Session, b *Bridge) error {
	if b != nil {
		b.Attach(s)
	}
	log.DiscordLogger().Info("Connecting to Discord gateway", "intents", int(s.Identify.Intents))
	if err := errutil.HandleDiscordError("connect", func() error { return openSession(s) }); err != nil {
		if b != nil {
			b.Detach()
		}
		_ = closeSession(s)
		return fmt.Errorf("failed to connect to Discord: %w", err)
	}
	log.DiscordLogger().Info("Connected to Discord gateway")
	return nil
}

// NewSession is CreateSession followed by OpenSession.
func NewSession(token string, intents discordgo.Intent, b *Bridge) (*discordgo.Session, error) {
	s, err := CreateSession(token, intents)
	if err != nil {
		return nil, err
	}
	if err := OpenSession(s, b); err != nil {
		return nil, err
	}
	return s, nil
}

// CloseSession closes the gateway connection of s.
func CloseSession(s *discordgo.Session) error {
	if s == nil {
		return nil
	}
	return closeSession(s)
}
