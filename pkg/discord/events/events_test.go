package events

import (
	"strings"
	"testing"
)

func TestNameForTag(t *testing.T) {
	tests := map[string]string{
		"PRESENCE_UPDATE":     "presenceUpdate",
		"READY":               "ready",
		"GUILD_MEMBERS_CHUNK": "guildMembersChunk",
		"MESSAGE_DELETE_BULK": "messageDeleteBulk",
		"":                    "",
	}
	for tag, want := range tests {
		if got := NameForTag(tag); got != want {
			t.Fatalf("NameForTag(%q) = %q, want %q", tag, got, want)
		}
	}
	if GuildCreate != "guildCreate" || VoiceStateUpdate != "voiceStateUpdate" {
		t.Fatalf("unexpected derived names %q %q", GuildCreate, VoiceStateUpdate)
	}
}

func TestEmitterOrderAndOff(t *testing.T) {
	em := NewEmitter()
	var got []string
	em.On("x", func(p any) { got = append(got, "a:"+p.(string)) })
	off := em.On("x", func(p any) { got = append(got, "b:"+p.(string)) })

	if n := em.Emit("x", "1"); n != 2 {
		t.Fatalf("expected 2 listeners, got %d", n)
	}
	off()
	off()
	em.Emit("x", "2")
	if strings.Join(got, ",") != "a:1,b:1,a:2" {
		t.Fatalf("unexpected delivery %v", got)
	}
	if em.ListenerCount("x") != 1 || em.Emit("none", nil) != 0 {
		t.Fatalf("unexpected listener counts")
	}
}

func TestEmitterReportsListenerPanics(t *testing.T) {
	em := NewEmitter()
	var reported []ErrorPayload
	em.On(Error, func(p any) { reported = append(reported, p.(ErrorPayload)) })
	after := false
	em.On(MessageCreate, func(any) { panic("listener bug") })
	em.On(MessageCreate, func(any) { after = true })

	em.Emit(MessageCreate, nil)
	if !after {
		t.Fatalf("a panicking listener stopped delivery")
	}
	if len(reported) != 1 || reported[0].Tag != MessageCreate || !strings.Contains(reported[0].Err.Error(), "listener bug") {
		t.Fatalf("unexpected error reports %+v", reported)
	}

	em.On(Error, func(any) { panic("error listener bug") })
	em.Emit(MessageCreate, nil)
	if len(reported) != 2 {
		t.Fatalf("expected one more report, got %d", len(reported))
	}
}
