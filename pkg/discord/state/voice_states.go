package state

import (
	"encoding/json"

	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
)

type VoiceStateManager struct {
	manager[*entity.VoiceState]
}

func (m *VoiceStateManager) Upsert(raw json.RawMessage) (Change[*entity.VoiceState], error) {
	return m.upsert(raw, func(r json.RawMessage) (*entity.VoiceState, error) {
		return entity.NewVoiceState(m.scope, r)
	})
}

func (m *VoiceStateManager) Remove(userID string) (*entity.VoiceState, bool) {
	return m.remove(userID)
}

// InChannel lists the voice states connected to channelID.
func (m *VoiceStateManager) InChannel(channelID string) []*entity.VoiceState {
	var out []*entity.VoiceState
	for _, v := range m.Values() {
		if v.ChannelID == channelID {
			out = append(out, v)
		}
	}
	return out
}
