package state

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
)

type call struct {
	Method string
	Path   string
	Opts   rest.Options
}

// fakeRequester answers by "METHOD path" and records every call.
type fakeRequester struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []call
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{responses: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeRequester) on(method, path, body string) { f.responses[method+" "+path] = body }

func (f *fakeRequester) fail(method, path string, status int) {
	f.errs[method+" "+path] = &rest.Error{Method: method, Path: path, Status: status, Err: errors.New(http.StatusText(status))}
}

func (f *fakeRequester) Request(ctx context.Context, method, path string, opts rest.Options) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: method, Path: path, Opts: opts})
	key := method + " " + path
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if body, ok := f.responses[key]; ok {
		return json.RawMessage(body), nil
	}
	return nil, nil
}

func (f *fakeRequester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestState(t *testing.T, req rest.Requester, opts ...Option) *State {
	t.Helper()
	dir, err := cache.NewDirectory(cache.DirectoryConfig{})
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	return New(dir, req, opts...)
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestUpsertKeepsIdentity(t *testing.T) {
	st := newTestState(t, nil)
	members := st.Members("g1")

	first, err := members.Upsert(raw(`{"user":{"id":"u1","username":"alice"},"nick":"a","roles":["r1"]}`))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !first.Created || first.Old != nil {
		t.Fatalf("expected creation without old value: %+v", first)
	}
	second, err := members.Upsert(raw(`{"user":{"id":"u1"},"nick":"b"}`))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.New != first.New {
		t.Fatalf("expected the same member reference")
	}
	if second.Old == nil || second.Old.Nick != "a" || !second.Old.Frozen() {
		t.Fatalf("expected frozen old snapshot with nick a, got %+v", second.Old)
	}
	if second.New.Nick != "b" || len(second.New.Roles) != 1 {
		t.Fatalf("unexpected patched member: %+v", second.New)
	}
	u, ok := st.Users.Get("u1")
	if !ok || second.New.User != u || u.Username != "alice" {
		t.Fatalf("expected member linked to the cached user")
	}
	if got, ok := members.Resolve(second.New); !ok || got != second.New {
		t.Fatalf("resolve by entity failed")
	}
	if members.ResolveID("u1") != "u1" || members.ResolveID(42) != "" {
		t.Fatalf("unexpected ResolveID results")
	}
}

func TestUpsertRejectsMissingKey(t *testing.T) {
	st := newTestState(t, nil)
	if _, err := st.Users.Upsert(raw(`{"username":"ghost"}`)); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestRemoveFreezesAndEvicts(t *testing.T) {
	st := newTestState(t, nil)
	ch, err := st.Roles("g1").Upsert(raw(`{"id":"r1","name":"mods"}`))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	removed, ok := st.Roles("g1").Remove("r1")
	if !ok || removed != ch.New {
		t.Fatalf("expected the cached role back")
	}
	if !removed.Deleted() || !removed.Frozen() {
		t.Fatalf("removed role must be deleted and frozen")
	}
	if err := removed.Patch(raw(`{"name":"x"}`)); !errors.Is(err, entity.ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	if _, ok := st.Roles("g1").Get("r1"); ok {
		t.Fatalf("role still cached")
	}
	if _, ok := st.Roles("g1").Remove("r1"); ok {
		t.Fatalf("second remove must report absence")
	}
}

func TestChannelRemoveTombstonesMessages(t *testing.T) {
	st := newTestState(t, nil)
	if _, err := st.Channels.Upsert("g1", raw(`{"id":"c1","type":0}`)); err != nil {
		t.Fatalf("channel: %v", err)
	}
	msgs := st.Messages("c1")
	var held []*entity.Message
	for _, id := range []string{"m1", "m2", "m3"} {
		ch, err := msgs.Upsert(raw(`{"id":"` + id + `","channel_id":"c1","content":"x","author":{"id":"u1"}}`))
		if err != nil {
			t.Fatalf("message: %v", err)
		}
		held = append(held, ch.New)
	}

	if _, ok := st.Channels.Remove("c1"); !ok {
		t.Fatalf("expected channel removal")
	}
	for _, m := range held {
		if !m.Deleted() || !m.Frozen() {
			t.Fatalf("message %s not tombstoned", m.ID)
		}
		if err := m.Patch(raw(`{"content":"y"}`)); err == nil {
			t.Fatalf("patch on tombstoned message succeeded")
		}
	}
	if st.Messages("c1").Len() != 0 {
		t.Fatalf("messages still cached")
	}
	if _, ok := st.Users.Get("u1"); !ok {
		t.Fatalf("authors must survive channel deletion")
	}
}

func TestGuildRemoveCascades(t *testing.T) {
	st := newTestState(t, nil)
	_, err := st.Guilds.ApplySnapshot(raw(`{
		"id":"g1","name":"Guild",
		"roles":[{"id":"r1","name":"everyone"}],
		"channels":[{"id":"c1","type":0},{"id":"c2","type":2}],
		"threads":[{"id":"t1","type":11,"parent_id":"c1"}],
		"members":[{"user":{"id":"u1"}},{"user":{"id":"u2"}}],
		"presences":[{"user":{"id":"u1"},"status":"online"}],
		"voice_states":[{"user_id":"u2","channel_id":"c2"}]
	}`))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := st.Channels.Upsert("", raw(`{"id":"dm1","type":1}`)); err != nil {
		t.Fatalf("dm: %v", err)
	}
	if _, err := st.Messages("c1").Upsert(raw(`{"id":"m1","channel_id":"c1"}`)); err != nil {
		t.Fatalf("message: %v", err)
	}
	if _, err := st.Invites.Upsert(raw(`{"code":"abc","guild_id":"g1","channel_id":"c1"}`)); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if n := len(st.Channels.InGuild("g1")); n != 3 {
		t.Fatalf("expected 3 guild channels, got %d", n)
	}
	if got := st.Channels.Threads("c1"); len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("unexpected threads %v", got)
	}
	c1, _ := st.Channels.Get("c1")
	m1, _ := st.Messages("c1").Get("m1")

	g, ok := st.Guilds.Remove("g1")
	if !ok || !g.Frozen() {
		t.Fatalf("expected frozen guild")
	}
	if len(st.Channels.InGuild("g1")) != 0 || st.Channels.Len() != 1 {
		t.Fatalf("guild channels not removed: %d left", st.Channels.Len())
	}
	if !c1.Deleted() || !m1.Deleted() {
		t.Fatalf("expected channel and message tombstones")
	}
	for _, n := range []int{st.Members("g1").Len(), st.Roles("g1").Len(), st.Presences("g1").Len(), st.VoiceStates("g1").Len(), st.Invites.Len()} {
		if n != 0 {
			t.Fatalf("guild-scoped cache not purged")
		}
	}
	if _, ok := st.Users.Get("u1"); !ok {
		t.Fatalf("users are global and must survive")
	}
}

func TestResetVolatileKeepsRolesAndChannels(t *testing.T) {
	st := newTestState(t, nil)
	_, err := st.Guilds.ApplySnapshot(raw(`{"id":"g1","name":"G","roles":[{"id":"r1"}],"channels":[{"id":"c1","type":0}],"members":[{"user":{"id":"u1"}}],"presences":[{"user":{"id":"u1"},"status":"idle"}]}`))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	st.Guilds.ResetVolatile("g1")
	if st.Members("g1").Len() != 0 || st.Presences("g1").Len() != 0 {
		t.Fatalf("volatile caches not cleared")
	}
	if st.Roles("g1").Len() != 1 || st.Channels.Len() != 1 {
		t.Fatalf("roles and channels must be kept")
	}
}

func TestApplyUpdateMergesRolesOnly(t *testing.T) {
	st := newTestState(t, nil)
	if _, err := st.Guilds.ApplySnapshot(raw(`{"id":"g1","name":"G","roles":[{"id":"r1","name":"old"}],"members":[{"user":{"id":"u1"}}]}`)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	ch, err := st.Guilds.ApplyUpdate(raw(`{"id":"g1","name":"H","roles":[{"id":"r1","name":"new"},{"id":"r2"}],"members":[{"user":{"id":"u2"}}]}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ch.Old == nil || ch.Old.Name != "G" || ch.New.Name != "H" {
		t.Fatalf("unexpected change: %+v -> %+v", ch.Old, ch.New)
	}
	if r, ok := st.Roles("g1").Get("r1"); !ok || r.Name != "new" {
		t.Fatalf("role r1 not merged")
	}
	if st.Roles("g1").Len() != 2 {
		t.Fatalf("expected 2 roles, got %d", st.Roles("g1").Len())
	}
	if _, ok := st.Members("g1").Get("u2"); ok {
		t.Fatalf("an update must not apply nested members")
	}
}

func TestFetchIsCacheFirst(t *testing.T) {
	req := newFakeRequester()
	req.on(http.MethodGet, "/users/u1", `{"id":"u1","username":"alice"}`)
	st := newTestState(t, req)

	u, err := st.Users.Fetch(context.Background(), "u1", false)
	if err != nil || u.Username != "alice" {
		t.Fatalf("fetch: %v %+v", err, u)
	}
	again, err := st.Users.Fetch(context.Background(), "u1", false)
	if err != nil || again != u || req.count() != 1 {
		t.Fatalf("expected cached user without a second call (calls=%d)", req.count())
	}
	req.on(http.MethodGet, "/users/u1", `{"id":"u1","username":"alicia"}`)
	forced, err := st.Users.Fetch(context.Background(), "u1", true)
	if err != nil || forced != u || u.Username != "alicia" || req.count() != 2 {
		t.Fatalf("forced fetch must patch the same user: %+v", forced)
	}
}

func TestRESTFailureLeavesCacheUntouched(t *testing.T) {
	req := newFakeRequester()
	req.fail(http.MethodPatch, "/channels/c1", http.StatusForbidden)
	req.fail(http.MethodGet, "/guilds/g404", http.StatusNotFound)
	st := newTestState(t, req)
	if _, err := st.Channels.Upsert("g1", raw(`{"id":"c1","type":0,"name":"general"}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := st.Channels.Edit(context.Background(), "c1", map[string]string{"name": "x"}, "nope"); rest.StatusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if c, _ := st.Channels.Get("c1"); c.Name != "general" {
		t.Fatalf("failed edit changed the cache: %q", c.Name)
	}
	if _, err := st.Guilds.Fetch(context.Background(), "g404", false); !rest.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if st.Guilds.Len() != 0 {
		t.Fatalf("failed fetch cached a guild")
	}
}

func TestRESTMutationsWriteBack(t *testing.T) {
	req := newFakeRequester()
	req.on(http.MethodPost, "/channels/c1/messages", `{"id":"m1","channel_id":"c1","content":"hi","author":{"id":"bot"},"timestamp":"2024-01-01T00:00:00Z"}`)
	req.on(http.MethodPatch, "/channels/c1/messages/m1", `{"id":"m1","channel_id":"c1","content":"hello","edited_timestamp":"2024-01-01T00:00:05Z"}`)
	req.on(http.MethodGet, "/guilds/g1/roles", `[{"id":"r1","name":"a"},{"id":"r3","name":"c"}]`)
	req.on(http.MethodPost, "/guilds/g1/channels", `{"id":"c9","type":0,"name":"new"}`)
	st := newTestState(t, req)
	ctx := context.Background()

	sent, err := st.Messages("c1").Send(ctx, map[string]string{"content": "hi"})
	if err != nil || sent.Author == nil || sent.Author.ID != "bot" {
		t.Fatalf("send: %v %+v", err, sent)
	}
	edited, err := st.Messages("c1").Edit(ctx, "m1", map[string]string{"content": "hello"})
	if err != nil || edited != sent || edited.PreviousContent != "hi" {
		t.Fatalf("edit: %v %+v", err, edited)
	}
	deleted, err := st.Messages("c1").Delete(ctx, "m1", "")
	if err != nil || deleted != sent || !sent.Deleted() {
		t.Fatalf("delete: %v", err)
	}

	st.Roles("g1").Upsert(raw(`{"id":"r2","name":"stale"}`))
	roles, err := st.Roles("g1").FetchAll(ctx)
	if err != nil || len(roles) != 2 {
		t.Fatalf("fetch roles: %v %d", err, len(roles))
	}
	if _, ok := st.Roles("g1").Get("r2"); ok {
		t.Fatalf("stale role should be removed after FetchAll")
	}

	created, err := st.Channels.Create(ctx, "g1", map[string]string{"name": "new"}, "setup")
	if err != nil || created.GuildID != "g1" {
		t.Fatalf("create channel: %v %+v", err, created)
	}

	ban, err := st.Bans("g1").Create(ctx, "u5", 60, "spam")
	if err != nil || ban.UserID != "u5" || ban.Reason != "spam" {
		t.Fatalf("ban: %v %+v", err, ban)
	}
	if _, err := st.Bans("g1").Unban(ctx, "u5", ""); err != nil || st.Bans("g1").Len() != 0 {
		t.Fatalf("unban: %v", err)
	}

	var reasons []string
	for _, c := range req.calls {
		if c.Opts.Reason != "" {
			reasons = append(reasons, c.Method+" "+c.Path+"="+c.Opts.Reason)
		}
	}
	if got := strings.Join(reasons, ","); got != "POST /guilds/g1/channels=setup,PUT /guilds/g1/bans/u5=spam" {
		t.Fatalf("unexpected audit reasons: %s", got)
	}
}

func TestNoRequester(t *testing.T) {
	st := newTestState(t, nil)
	if _, err := st.Users.Fetch(context.Background(), "u1", true); !errors.Is(err, ErrNoRequester) {
		t.Fatalf("expected ErrNoRequester, got %v", err)
	}
}

type fakeChunks struct {
	mu    sync.Mutex
	calls []string
	sent  chan string
}

func (f *fakeChunks) RequestGuildMembers(guildID, query string, limit int, nonce string, presences bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, guildID)
	f.mu.Unlock()
	f.sent <- nonce
	return nil
}

func TestRequestAllCollectsChunksByNonce(t *testing.T) {
	chunks := &fakeChunks{sent: make(chan string, 1)}
	st := newTestState(t, nil, WithChunkRequester(chunks))
	members := st.Members("g1")

	type result struct {
		members []*entity.Member
		err     error
	}
	done := make(chan result, 1)
	go func() {
		ms, err := members.RequestAll(context.Background(), MemberRequest{})
		done <- result{ms, err}
	}()

	nonce := <-chunks.sent
	deliver := func(index int, ids ...string) bool {
		var batch []*entity.Member
		st.Directory().Lock()
		defer st.Directory().Unlock()
		for _, id := range ids {
			ch, err := members.Upsert(raw(`{"user":{"id":"` + id + `"}}`))
			if err != nil {
				t.Errorf("upsert: %v", err)
			}
			batch = append(batch, ch.New)
		}
		return st.DeliverChunk(Chunk{GuildID: "g1", Nonce: nonce, Index: index, Count: 2}, batch)
	}

	if deliver(0, "u1", "u2") {
		t.Fatalf("request must not complete after the first of two chunks")
	}
	if st.DeliverChunk(Chunk{GuildID: "g1", Nonce: "other", Index: 1, Count: 2}, nil) {
		t.Fatalf("foreign nonce completed the request")
	}
	if !deliver(1, "u3") {
		t.Fatalf("expected completion on the last chunk")
	}

	select {
	case r := <-done:
		if r.err != nil || len(r.members) != 3 {
			t.Fatalf("unexpected result: %v %d", r.err, len(r.members))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RequestAll did not return")
	}
	if st.PendingRequests() != 0 {
		t.Fatalf("collector leaked")
	}
}

func TestRequestAllHonorsContext(t *testing.T) {
	chunks := &fakeChunks{sent: make(chan string, 1)}
	st := newTestState(t, nil, WithChunkRequester(chunks))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := st.Members("g1").RequestAll(ctx, MemberRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, err := newTestState(t, nil).Members("g1").RequestAll(ctx, MemberRequest{}); !errors.Is(err, ErrNoChunkRequester) {
		t.Fatalf("expected ErrNoChunkRequester, got %v", err)
	}
}
