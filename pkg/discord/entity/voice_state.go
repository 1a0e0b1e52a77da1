package entity

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/discordgo"
)

type VoiceState struct {
	lifecycle

	UserID                  string
	GuildID                 string
	ChannelID               string
	SessionID               string
	Deaf                    bool
	Mute                    bool
	SelfDeaf                bool
	SelfMute                bool
	SelfStream              bool
	SelfVideo               bool
	Suppress                bool
	RequestToSpeakTimestamp *time.Time
}

func NewVoiceState(guildID string, raw json.RawMessage) (*VoiceState, error) {
	v := &VoiceState{GuildID: guildID}
	if err := v.Patch(raw); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *VoiceState) Key() string { return v.UserID }
func (v *VoiceState) Kind() Kind  { return KindVoiceState }

func (v *VoiceState) Patch(raw json.RawMessage) error {
	if err := v.mutable(KindVoiceState); err != nil {
		return err
	}
	var p discordgo.VoiceState
	f, err := decode(KindVoiceState, raw, &p)
	if err != nil {
		return err
	}
	if v.UserID == "" && f.has("user_id") {
		v.UserID = p.UserID
	}
	if f.has("guild_id") && p.GuildID != "" {
		v.GuildID = p.GuildID
	}
	if f.has("channel_id") {
		v.ChannelID = p.ChannelID
	}
	if f.has("session_id") {
		v.SessionID = p.SessionID
	}
	if f.has("deaf") {
		v.Deaf = p.Deaf
	}
	if f.has("mute") {
		v.Mute = p.Mute
	}
	if f.has("self_deaf") {
		v.SelfDeaf = p.SelfDeaf
	}
	if f.has("self_mute") {
		v.SelfMute = p.SelfMute
	}
	if f.has("self_stream") {
		v.SelfStream = p.SelfStream
	}
	if f.has("self_video") {
		v.SelfVideo = p.SelfVideo
	}
	if f.has("suppress") {
		v.Suppress = p.Suppress
	}
	if f.has("request_to_speak_timestamp") {
		v.RequestToSpeakTimestamp = cloneTime(p.RequestToSpeakTimestamp)
	}
	return nil
}

// Connected reports whether the user is in a voice channel.
func (v *VoiceState) Connected() bool { return v.ChannelID != "" }

func (v *VoiceState) Clone() *VoiceState {
	c := *v
	c.lifecycle = lifecycle{}
	c.RequestToSpeakTimestamp = cloneTime(v.RequestToSpeakTimestamp)
	return &c
}
