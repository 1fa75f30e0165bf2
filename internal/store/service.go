package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redwing-381/mirmer.ai/internal/council"
)

// titleWords is the number of query words kept in an automatic title.
const titleWords = 8

// Service scopes a Store to user ids and implements the conversation
// operations of the transport layer.
type Service struct {
	store Store
	now   func() time.Time
	newID func() string

	mu sync.Mutex // serializes read-modify-write cycles
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces time.Now for creation timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithIDFunc replaces uuid.NewString for conversation ids.
func WithIDFunc(fn func() string) ServiceOption {
	return func(s *Service) { s.newID = fn }
}

// NewService wraps st.
func NewService(st Store, opts ...ServiceOption) *Service {
	s := &Service{store: st, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts an empty conversation for userID.
func (s *Service) Create(ctx context.Context, userID string) (*Conversation, error) {
	c := &Conversation{
		ID:        s.newID(),
		UserID:    userID,
		CreatedAt: s.now().UTC(),
		Title:     DefaultTitle,
		Messages:  []Message{},
	}
	if err := s.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	return c, nil
}

// Get returns the conversation if userID owns it, ErrNotFound otherwise.
func (s *Service) Get(ctx context.Context, userID, id string) (*Conversation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns userID's conversations, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Summary, error) {
	return s.store.List(ctx, userID)
}

// Delete removes the conversation if userID owns it.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// AddUserMessage appends a user turn.
func (s *Service) AddUserMessage(ctx context.Context, userID, id, content string) error {
	return s.update(ctx, userID, id, func(c *Conversation) {
		c.Messages = append(c.Messages, Message{Role: "user", Content: content})
	})
}

// AddAssistantMessage appends the council's answer as an assistant turn.
func (s *Service) AddAssistantMessage(ctx context.Context, userID, id string, res *council.Result) error {
	stage3 := res.Stage3
	meta := res.Metadata()
	return s.update(ctx, userID, id, func(c *Conversation) {
		c.Messages = append(c.Messages, Message{
			Role:     "assistant",
			Stage1:   res.Stage1,
			Stage2:   res.Stage2.Rankings,
			Stage3:   &stage3,
			Metadata: &meta,
		})
	})
}

// UpdateTitle renames the conversation.
func (s *Service) UpdateTitle(ctx context.Context, userID, id, title string) error {
	return s.update(ctx, userID, id, func(c *Conversation) {
		c.Title = title
	})
}

func (s *Service) update(ctx context.Context, userID, id string, fn func(*Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	fn(c)
	if err := s.store.Save(ctx, c); err != nil {
		return fmt.Errorf("store: save conversation %s: %w", id, err)
	}
	return nil
}

// TitleFromQuery builds a title from the first eight words of query,
// suffixed with "..." when words were dropped.
func TitleFromQuery(query string) string {
	words := strings.Fields(query)
	if len(words) <= titleWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWords], " ") + "..."
}
