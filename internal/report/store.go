// Package report provides PostgreSQL-backed storage for moderation events.
// Each event captures who acted against whom, the room context, and the last
// few room messages at the time of the action (for later review). Recording
// is best-effort: a database failure is logged by the caller and never fails
// the moderation action itself.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Moderation event actions, matching the CHECK constraint on the
// moderation_events table.
const (
	ActionKick    = "kick"
	ActionBan     = "ban"
	ActionWordBan = "word_ban" // automatic ban for a denylisted username or room name
)

var validActions = map[string]bool{
	ActionKick:    true,
	ActionBan:     true,
	ActionWordBan: true,
}

// Store manages moderation events in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Event represents a single moderation event to be persisted.
type Event struct {
	Action       string
	ActorUser    string // empty for automatic actions
	TargetUser   string
	TargetAddr   string
	Room         string
	Reason       string
	Messages     []MessageEntry // recent room history at the time of the action
}

// MessageEntry is one message in the conversation snapshot attached to an event.
type MessageEntry struct {
	User string `json:"user"`
	Text string `json:"text"`
	Time string `json:"time"`
}

// NewStore creates a new moderation event store backed by the given database
// handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a moderation event into PostgreSQL. Messages are marshalled
// to JSONB. The action is validated against the allowed set before insertion.
func (s *Store) Create(ctx context.Context, event *Event) error {
	if !validActions[event.Action] {
		return fmt.Errorf("report: invalid action %q", event.Action)
	}

	var messagesJSON []byte
	if len(event.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(event.Messages)
		if err != nil {
			return fmt.Errorf("report: marshal messages: %w", err)
		}
	}

	const query = `
		INSERT INTO moderation_events (action, actor_username, target_username, target_addr, room, reason, messages)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		event.Action,
		event.ActorUser,
		event.TargetUser,
		event.TargetAddr,
		event.Room,
		event.Reason,
		messagesJSON,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of moderation events against an address
// within the given time window. Useful when reviewing repeat offenders.
func (s *Store) CountRecent(ctx context.Context, targetAddr string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_events
		WHERE target_addr = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, targetAddr, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
