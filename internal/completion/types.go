// Package completion is the gateway to an external chat-completion API.
// A call either yields non-empty text or fails; callers treat failure as an
// absent result for that model.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ModelID identifies a backing text-completion model, e.g. "openai/gpt-4-turbo".
type ModelID string

// Short returns the part of the id after the last "/".
func (m ModelID) Short() string {
	s := string(m)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// String implements fmt.Stringer.
func (m ModelID) String() string { return string(m) }

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat-completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage is shorthand for a single user-authored message list.
func UserMessage(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}

// Result is the normalized outcome of one completion call. An empty Content
// means the call failed or returned no text.
type Result struct {
	Model   ModelID `json:"model"`
	Content string  `json:"content,omitempty"`
}

// OK reports whether the call produced text.
func (r Result) OK() bool { return r.Content != "" }

// Completer invokes one model. Implementations return a non-empty string or
// an error; they never return ("", nil).
type Completer interface {
	Complete(ctx context.Context, model ModelID, messages []Message) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, model ModelID, messages []Message) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, model ModelID, messages []Message) (string, error) {
	return f(ctx, model, messages)
}

var (
	// ErrEmptyContent is returned when the provider answered 2xx without text.
	ErrEmptyContent = errors.New("completion: empty content")
	// ErrRateLimited matches a StatusError with status 429.
	ErrRateLimited = errors.New("completion: rate limited")
	// ErrNoAPIKey is returned when the client has no credentials configured.
	ErrNoAPIKey = errors.New("completion: no API key configured")
)

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	Model      ModelID
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion: %s: HTTP %d: %s", e.Model, e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrRateLimited) match 429 responses.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return nil
}
