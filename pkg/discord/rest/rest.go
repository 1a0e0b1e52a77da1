// Package rest is the outbound HTTP contract the managers depend on, and its
// implementation on top of a discordgo session.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Options carries the optional parts of a request.
type Options struct {
	Body   any
	Query  url.Values
	Reason string
}

// Requester performs one REST call and returns the raw JSON body. Non-2xx
// responses are returned as *Error. Retries and rate limits are the
// implementation's concern.
type Requester interface {
	Request(ctx context.Context, method, path string, opts Options) (json.RawMessage, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, method, path string, opts Options) (json.RawMessage, error)

func (f RequesterFunc) Request(ctx context.Context, method, path string, opts Options) (json.RawMessage, error) {
	return f(ctx, method, path, opts)
}

// Error is a failed REST call.
type Error struct {
	Method string
	Path   string
	// Status is 0 when the request never got a response.
	Status int
	Code   int
	Err    error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.Path, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Status
	}
	var de *discordgo.RESTError
	if errors.As(err, &de) && de.Response != nil {
		return de.Response.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// SessionRequester sends requests through a discordgo session, which owns
// authentication and rate limit buckets.
type SessionRequester struct {
	session *discordgo.Session
}

func NewSessionRequester(s *discordgo.Session) *SessionRequester {
	return &SessionRequester{session: s}
}

func (r *SessionRequester) Request(ctx context.Context, method, path string, opts Options) (json.RawMessage, error) {
	if r == nil || r.session == nil {
		return nil, &Error{Method: method, Path: path, Err: errors.New("no session")}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	clean := strings.TrimPrefix(path, "/")
	endpoint := discordgo.EndpointAPI + clean
	if len(opts.Query) > 0 {
		endpoint += "?" + opts.Query.Encode()
	}

	reqOpts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if opts.Reason != "" {
		reqOpts = append(reqOpts, discordgo.WithAuditLogReason(opts.Reason))
	}

	body, err := r.session.RequestWithBucketID(method, endpoint, opts.Body, bucketFor(method, clean), reqOpts...)
	if err != nil {
		out := &Error{Method: method, Path: path, Err: err}
		var de *discordgo.RESTError
		if errors.As(err, &de) {
			if de.Response != nil {
				out.Status = de.Response.StatusCode
			}
			if de.Message != nil {
				out.Code = de.Message.Code
			}
		}
		return nil, out
	}
	if len(body) == 0 {
		return nil, nil
	}
	return json.RawMessage(body), nil
}

// bucketFor keys rate limits on the route with its major parameter kept and
// the trailing ids collapsed, like discordgo's own endpoint helpers.
func bucketFor(method, path string) string {
	parts := strings.Split(path, "/")
	for i := 2; i < len(parts); i++ {
		if isSnowflake(parts[i]) {
			parts[i] = ":id"
		}
	}
	return method + " " + discordgo.EndpointAPI + strings.Join(parts, "/")
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
