package store

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// StoreExchange inserts both turns of one exchange into sender's open
// conversation, opening one if needed. Per the ownership contract, storage
// failure here must never fail the reply — callers should log and continue,
// which is why this returns an error rather than panicking but every caller
// in the pipeline treats it as best-effort.
func (s *Store) StoreExchange(sender, channel, userText, assistantText string) error {
	convID, err := s.openConversationID(sender)
	if err != nil {
		return err
	}
	// Conversation may have been opened without a channel (BuildContext's
	// agent/session fast paths skip it); backfill it here if still empty.
	if _, err := s.db.Exec(`UPDATE conversations SET channel = ? WHERE id = ? AND channel = ''`, channel, convID); err != nil {
		slog.Warn("store: backfill conversation channel failed", "error", err)
	}

	now := time.Now().UTC().Unix()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, timestamp, sender) VALUES (?, ?, 'user', ?, ?, ?)`,
		uuid.NewString(), convID, userText, now, sender,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, timestamp, sender) VALUES (?, ?, 'assistant', ?, ?, ?)`,
		uuid.NewString(), convID, assistantText, now, sender,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// FindIdleConversations returns open conversations whose most recent
// message (or opening, if empty) is at least threshold old.
func (s *Store) FindIdleConversations(threshold time.Duration) ([]Conversation, error) {
	cutoff := time.Now().UTC().Add(-threshold).Unix()
	rows, err := s.db.Query(`
		SELECT c.id, c.sender, c.channel, c.state, c.started_at, c.closed_at, c.summary
		FROM conversations c
		WHERE c.state = 'active'
		  AND COALESCE((SELECT MAX(timestamp) FROM messages m WHERE m.conversation_id = c.id), c.started_at) <= ?
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row scanner) (Conversation, error) {
	var c Conversation
	var startedAt int64
	var closedAt *int64
	if err := row.Scan(&c.ID, &c.Sender, &c.Channel, &c.State, &startedAt, &closedAt, &c.Summary); err != nil {
		return Conversation{}, err
	}
	c.StartedAt = time.Unix(startedAt, 0).UTC()
	if closedAt != nil {
		t := time.Unix(*closedAt, 0).UTC()
		c.ClosedAt = &t
	}
	return c, nil
}

// CloseConversation marks a conversation closed with the given summary.
func (s *Store) CloseConversation(id, summary string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET state = 'closed', closed_at = ?, summary = ? WHERE id = ?`,
		time.Now().UTC().Unix(), summary, id,
	)
	return err
}
