//go:build cgo

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements Store on KuzuDB. Each conversation is a node whose
// messages are kept as a JSON document. It requires CGO because the
// go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	mu   sync.Mutex // serializes statements on the single connection
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore backed by a file-based KuzuDB at
// dbPath. KuzuDB creates the leaf directory itself.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	db, err := kuzu.OpenDatabase(path, kuzu.DefaultSystemConfig())
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

const conversationDDL = `CREATE NODE TABLE IF NOT EXISTS Conversation(
	id STRING,
	user_id STRING,
	title STRING,
	created_at INT64,
	messages STRING,
	PRIMARY KEY(id)
)`

// InitSchema creates the Conversation node table if it does not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.conn.Query(conversationDDL)
	if err != nil {
		return fmt.Errorf("kuzu: init schema: %w", err)
	}
	res.Close()
	return nil
}

// ---------- Write operations ----------

// Save upserts conv.
func (s *KuzuStore) Save(_ context.Context, conv *Conversation) error {
	msgs := conv.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("kuzu: encode messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(`MERGE (c:Conversation {id: $id})
		ON CREATE SET c.user_id = $user, c.title = $title, c.created_at = $created, c.messages = $messages
		ON MATCH SET c.user_id = $user, c.title = $title, c.created_at = $created, c.messages = $messages`,
		map[string]any{
			"id":       conv.ID,
			"user":     conv.UserID,
			"title":    conv.Title,
			"created":  conv.CreatedAt.UnixNano(),
			"messages": string(data),
		},
	)
}

// Delete removes a conversation.
func (s *KuzuStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.query("MATCH (c:Conversation) WHERE c.id = $id RETURN c.id", map[string]any{"id": id})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return s.exec("MATCH (c:Conversation) WHERE c.id = $id DELETE c", map[string]any{"id": id})
}

// ---------- Read operations ----------

const conversationColumns = "c.id, c.user_id, c.title, c.created_at, c.messages"

// Get returns the conversation with the given id.
func (s *KuzuStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.query("MATCH (c:Conversation) WHERE c.id = $id RETURN "+conversationColumns,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rowToConversation(rows[0])
}

// List returns the user's conversations, newest first.
func (s *KuzuStore) List(_ context.Context, userID string) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.query("MATCH (c:Conversation) WHERE c.user_id = $user RETURN "+conversationColumns,
		map[string]any{"user": userID})
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		c, err := rowToConversation(row)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(c))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ---------- Helpers ----------

func rowToConversation(row []any) (*Conversation, error) {
	if len(row) < 5 {
		return nil, fmt.Errorf("kuzu: conversation row has %d columns", len(row))
	}
	c := &Conversation{
		ID:        toString(row[0]),
		UserID:    toString(row[1]),
		Title:     toString(row[2]),
		CreatedAt: time.Unix(0, toInt64(row[3])).UTC(),
	}
	if err := json.Unmarshal([]byte(toString(row[4])), &c.Messages); err != nil {
		return nil, fmt.Errorf("kuzu: decode messages of %s: %w", c.ID, err)
	}
	return c, nil
}

// exec runs a parameterized Cypher statement that returns no rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return nil, fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
