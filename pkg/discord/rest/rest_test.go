package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func newTestRequester(t *testing.T, h http.HandlerFunc) *SessionRequester {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	prev := discordgo.EndpointAPI
	discordgo.EndpointAPI = srv.URL + "/"
	t.Cleanup(func() { discordgo.EndpointAPI = prev })

	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.MaxRestRetries = 0
	return NewSessionRequester(s)
}

func TestSessionRequesterSendsBodyQueryAndReason(t *testing.T) {
	var (
		gotMethod, gotPath, gotQuery, gotReason string
		gotBody                                 map[string]any
	)
	r := newTestRequester(t, func(w http.ResponseWriter, req *http.Request) {
		gotMethod = req.Method
		gotPath = req.URL.Path
		gotQuery = req.URL.RawQuery
		gotReason = req.Header.Get("X-Audit-Log-Reason")
		data, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","name":"general"}`))
	})

	body, err := r.Request(context.Background(), http.MethodPatch, "/channels/123", Options{
		Body:   map[string]any{"name": "general"},
		Query:  url.Values{"with_counts": {"true"}},
		Reason: "rename",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/channels/123" || gotQuery != "with_counts=true" {
		t.Fatalf("unexpected request %s %s?%s", gotMethod, gotPath, gotQuery)
	}
	if gotReason != "rename" {
		t.Fatalf("expected audit log reason, got %q", gotReason)
	}
	if gotBody["name"] != "general" {
		t.Fatalf("unexpected body %v", gotBody)
	}
	var out struct{ ID string }
	if err := json.Unmarshal(body, &out); err != nil || out.ID != "c1" {
		t.Fatalf("unexpected response %s (%v)", body, err)
	}
}

func TestSessionRequesterWrapsRESTErrors(t *testing.T) {
	r := newTestRequester(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Unknown Channel","code":10003}`))
	})

	_, err := r.Request(context.Background(), http.MethodGet, "/channels/404", Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("expected *rest.Error, got %T", err)
	}
	if re.Status != http.StatusNotFound || re.Code != 10003 || !IsNotFound(err) {
		t.Fatalf("unexpected error fields: %+v", re)
	}
}

func TestBucketForCollapsesMinorIDs(t *testing.T) {
	a := bucketFor(http.MethodGet, "channels/1/messages/2")
	b := bucketFor(http.MethodGet, "channels/1/messages/3")
	c := bucketFor(http.MethodGet, "channels/9/messages/3")
	if a != b {
		t.Fatalf("expected same bucket for different message ids: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("expected major parameter to split buckets")
	}
}

func TestRequesterFuncAndStatusOf(t *testing.T) {
	var f Requester = RequesterFunc(func(ctx context.Context, method, path string, opts Options) (json.RawMessage, error) {
		return nil, &Error{Method: method, Path: path, Status: http.StatusForbidden, Err: errors.New("missing access")}
	})
	_, err := f.Request(context.Background(), http.MethodGet, "/guilds/1", Options{})
	if StatusOf(err) != http.StatusForbidden || IsNotFound(err) {
		t.Fatalf("unexpected status for %v", err)
	}
	if StatusOf(errors.New("plain")) != 0 {
		t.Fatalf("expected 0 for non REST errors")
	}
}
