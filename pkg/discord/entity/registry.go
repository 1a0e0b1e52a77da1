package entity

import (
	"encoding/json"
	"fmt"
)

// New materializes an entity of kind from raw. scope is the owning guild id for
// guild-scoped kinds and is ignored by global ones.
func New(kind Kind, scope string, raw json.RawMessage) (Entity, error) {
	switch kind {
	case KindGuild:
		return checked(NewGuild(raw))
	case KindChannel:
		return checked(NewChannel(scope, raw))
	case KindMember:
		return checked(NewMember(scope, raw))
	case KindUser:
		return checked(NewUser(raw))
	case KindRole:
		return checked(NewRole(scope, raw))
	case KindPresence:
		return checked(NewPresence(scope, raw))
	case KindVoiceState:
		return checked(NewVoiceState(scope, raw))
	case KindMessage:
		return checked(NewMessage(raw))
	case KindBan:
		return checked(NewBan(scope, raw))
	case KindInvite:
		return checked(NewInvite(raw))
	default:
		return nil, fmt.Errorf("new entity: unknown kind %q", kind)
	}
}

// checked keeps a typed nil pointer out of the Entity interface on error.
func checked[T Entity](e T, err error) (Entity, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Snapshot returns a frozen copy of e, suitable as the old value of a change event.
func Snapshot(e Entity) Entity {
	var c Entity
	switch v := e.(type) {
	case *Guild:
		c = v.Clone()
	case *Channel:
		c = v.Clone()
	case *Member:
		c = v.Clone()
	case *User:
		c = v.Clone()
	case *Role:
		c = v.Clone()
	case *Presence:
		c = v.Clone()
	case *VoiceState:
		c = v.Clone()
	case *Message:
		c = v.Clone()
	case *Ban:
		c = v.Clone()
	case *Invite:
		c = v.Clone()
	default:
		return nil
	}
	c.Freeze()
	return c
}
