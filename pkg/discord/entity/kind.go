package entity

import (
	"fmt"
	"strings"
)

// Kind names a category of cacheable entity.
type Kind string

const (
	KindGuild      Kind = "guild"
	KindChannel    Kind = "channel"
	KindMember     Kind = "member"
	KindUser       Kind = "user"
	KindRole       Kind = "role"
	KindPresence   Kind = "presence"
	KindVoiceState Kind = "voice_state"
	KindMessage    Kind = "message"
	KindBan        Kind = "ban"
	KindInvite     Kind = "invite"
)

// AllKinds lists every kind in a stable order.
func AllKinds() []Kind {
	return []Kind{
		KindGuild, KindChannel, KindMember, KindUser, KindRole,
		KindPresence, KindVoiceState, KindMessage, KindBan, KindInvite,
	}
}

// ParseKind accepts the canonical name, case-insensitively, with "-" or "_" separators.
func ParseKind(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, k := range AllKinds() {
		if string(k) == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}
