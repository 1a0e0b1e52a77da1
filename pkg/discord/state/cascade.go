package state

import (
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

type cascadeAction int

const (
	// purge drops the dependent cache without touching the entities.
	purge cascadeAction = iota
	// tombstone marks every dependent deleted, freezes it and evicts it.
	tombstone
)

func (a cascadeAction) String() string {
	if a == tombstone {
		return "tombstone"
	}
	return "purge"
}

// cascadeRule names a dependent kind. Scoped dependents live in a cache whose
// scope is the parent id; unscoped ones share the global cache and are matched
// by owner.
type cascadeRule struct {
	Kind   entity.Kind
	Action cascadeAction
	Scoped bool
}

var cascades = map[entity.Kind][]cascadeRule{
	entity.KindGuild: {
		{Kind: entity.KindChannel, Action: tombstone},
		{Kind: entity.KindInvite, Action: tombstone},
		{Kind: entity.KindMember, Action: purge, Scoped: true},
		{Kind: entity.KindRole, Action: purge, Scoped: true},
		{Kind: entity.KindVoiceState, Action: purge, Scoped: true},
		{Kind: entity.KindPresence, Action: purge, Scoped: true},
		{Kind: entity.KindBan, Action: purge, Scoped: true},
	},
	entity.KindChannel: {
		{Kind: entity.KindMessage, Action: tombstone, Scoped: true},
		{Kind: entity.KindInvite, Action: tombstone},
	},
}

// owner returns the parent id an unscoped entity belongs to for a parent kind.
func owner(parent entity.Kind, e entity.Entity) string {
	switch v := e.(type) {
	case *entity.Channel:
		if parent == entity.KindGuild {
			return v.GuildID
		}
	case *entity.Invite:
		if parent == entity.KindGuild {
			return v.GuildID
		}
		return v.ChannelID
	}
	return ""
}

// cascade applies the rules of kind to everything owned by parentID and
// returns the number of entities affected per dependent kind.
func (s *State) cascade(kind entity.Kind, parentID string) map[entity.Kind]int {
	out := make(map[entity.Kind]int)
	s.cascadeInto(kind, parentID, out)
	if len(out) > 0 {
		log.CacheLogger().Debug("Cascade applied", "kind", string(kind), "id", parentID, "affected", out)
	}
	return out
}

func (s *State) cascadeInto(kind entity.Kind, parentID string, out map[entity.Kind]int) {
	for _, rule := range cascades[kind] {
		if rule.Scoped {
			b, ok := s.dir.Lookup(rule.Kind, parentID)
			if !ok {
				continue
			}
			if rule.Action == tombstone {
				for _, e := range b.Values() {
					e.MarkDeleted()
					e.Freeze()
					out[rule.Kind]++
				}
			} else {
				out[rule.Kind] += b.Len()
			}
			s.dir.Drop(rule.Kind, parentID)
			continue
		}

		b, ok := s.dir.Lookup(rule.Kind, "")
		if !ok {
			continue
		}
		for _, e := range b.Values() {
			if owner(kind, e) != parentID {
				continue
			}
			if rule.Action == tombstone {
				e.MarkDeleted()
				b.Delete(e.Key())
				e.Freeze()
				s.cascadeInto(rule.Kind, e.Key(), out)
			} else {
				b.Delete(e.Key())
			}
			out[rule.Kind]++
		}
	}
}
