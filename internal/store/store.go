// Package store persists conversations and the council results attached to
// them.
package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/redwing-381/mirmer.ai/internal/council"
)

// ErrNotFound is returned for unknown conversation ids, including ids owned
// by a different user.
var ErrNotFound = errors.New("store: conversation not found")

// DefaultTitle is the title of a conversation before its first query.
const DefaultTitle = "New Conversation"

// Message is one turn of a conversation. User turns carry Content; assistant
// turns carry the three council stages and their metadata.
type Message struct {
	Role     string                 `json:"role"`
	Content  string                 `json:"content,omitempty"`
	Stage1   []council.Stage1Result `json:"stage1,omitempty"`
	Stage2   []council.Stage2Result `json:"stage2,omitempty"`
	Stage3   *council.Synthesis     `json:"stage3,omitempty"`
	Metadata *council.Metadata      `json:"metadata,omitempty"`
}

// Conversation is a user's thread of queries and council answers.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

// Summary is the list view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
}

// Store is a get/save-by-id conversation backend.
// Implementations: KuzuStore (persistent, cgo), MemStore.
type Store interface {
	io.Closer

	// InitSchema prepares the backend. It is safe to call more than once.
	InitSchema(ctx context.Context) error

	Get(ctx context.Context, id string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
	Delete(ctx context.Context, id string) error

	// List returns the user's conversations, newest first.
	List(ctx context.Context, userID string) ([]Summary, error)
}

func summarize(c *Conversation) Summary {
	return Summary{
		ID:           c.ID,
		CreatedAt:    c.CreatedAt,
		Title:        c.Title,
		MessageCount: len(c.Messages),
	}
}

func cloneConversation(c *Conversation) *Conversation {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return &out
}
