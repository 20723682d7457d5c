package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/omegahq/gateway/internal/omegaerr"
	"github.com/omegahq/gateway/internal/promptctx"
)

// ContextParams names the knobs BuildContext applies so callers don't
// hardcode recall/history sizes inline.
type ContextParams struct {
	SystemPrompt      string
	HistoryLimit      int // max recent messages pulled from the open conversation
	RecallLimit       int // max FTS5-recalled prior user messages
	SummaryLimit      int // max closed-conversation summaries
	SessionID         string
	AgentName         string
}

// BuildContext assembles a promptctx.Context for sender from the open
// conversation, FTS5 recall, facts, and recent summaries. Recall failures
// degrade silently to "no recall" rather than failing the whole call —
// only genuine history/fact read failures propagate.
func (s *Store) BuildContext(sender, currentMessage string, params ContextParams) (promptctx.Context, error) {
	in := promptctx.Input{
		SystemPrompt:   params.SystemPrompt,
		CurrentMessage: currentMessage,
		CurrentTime:    time.Now().UTC(),
		SenderID:       sender,
		SessionID:      params.SessionID,
		AgentName:      params.AgentName,
	}

	if params.AgentName != "" || params.SessionID != "" {
		// Agent mode and live-session mode never touch history/facts/recall —
		// skip the reads entirely rather than build them and discard them.
		return promptctx.Build(in), nil
	}

	convID, err := s.openConversationID(sender)
	if err != nil {
		return promptctx.Context{}, omegaerr.Wrap(omegaerr.Memory, "resolve open conversation", err)
	}

	history, err := s.recentHistory(convID, limitOr(params.HistoryLimit, 20))
	if err != nil {
		return promptctx.Context{}, omegaerr.Wrap(omegaerr.Memory, "load recent history", err)
	}
	in.History = history

	facts, err := s.loadFacts(sender)
	if err != nil {
		return promptctx.Context{}, omegaerr.Wrap(omegaerr.Memory, "load facts", err)
	}
	in.Facts = facts

	summaries, err := s.recentSummaries(sender, limitOr(params.SummaryLimit, 3))
	if err != nil {
		return promptctx.Context{}, omegaerr.Wrap(omegaerr.Memory, "load summaries", err)
	}
	in.RecentSummaries = summaries

	recall, err := s.recallMessages(sender, convID, currentMessage, limitOr(params.RecallLimit, 5))
	if err != nil {
		slog.Warn("store: FTS5 recall failed, degrading to no recall", "sender", sender, "error", err)
	} else {
		in.Recall = recall
	}

	return promptctx.Build(in), nil
}

func limitOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// openConversationID returns the id of sender's open conversation, creating
// one if none exists.
func (s *Store) openConversationID(sender string) (string, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM conversations WHERE sender = ? AND state = 'active' ORDER BY started_at DESC LIMIT 1`,
		sender,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	id = uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO conversations (id, sender, channel, state, started_at) VALUES (?, ?, '', 'active', ?)`,
		id, sender, time.Now().UTC().Unix(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) recentHistory(conversationID string, limit int) ([]promptctx.HistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT role, content FROM messages WHERE conversation_id = ? ORDER BY timestamp DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reversed []promptctx.HistoryEntry
	for rows.Next() {
		var h promptctx.HistoryEntry
		if err := rows.Scan(&h.Role, &h.Content); err != nil {
			return nil, err
		}
		reversed = append(reversed, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	history := make([]promptctx.HistoryEntry, len(reversed))
	for i, h := range reversed {
		history[len(reversed)-1-i] = h
	}
	return history, nil
}

func (s *Store) loadFacts(sender string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM facts WHERE sender = ?`, sender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facts := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		facts[k] = v
	}
	return facts, rows.Err()
}

func (s *Store) recentSummaries(sender string, limit int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT summary FROM conversations WHERE sender = ? AND state = 'closed' AND summary != '' ORDER BY closed_at DESC LIMIT ?`,
		sender, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// recallMessages returns up to limit prior user messages from sender, ranked
// by BM25, excluding the current conversation — FTS5 queries always filter
// by sender first; this is the security invariant that keeps recall from
// ever crossing between users.
func (s *Store) recallMessages(sender, excludeConversationID, query string, limit int) ([]string, error) {
	if query == "" {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT m.content FROM messages_fts
		 JOIN messages m ON m.rowid = messages_fts.rowid
		 WHERE messages_fts MATCH ?
		   AND m.sender = ?
		   AND m.conversation_id != ?
		 ORDER BY bm25(messages_fts)
		 LIMIT ?`,
		ftsQuery(query), sender, excludeConversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fts5 recall query: %w", err)
	}
	defer rows.Close()

	var recalled []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		recalled = append(recalled, content)
	}
	return recalled, rows.Err()
}

// ftsQuery turns free text into a safe FTS5 MATCH expression by quoting it
// as a single phrase, avoiding FTS5 query-syntax injection from user text.
func ftsQuery(text string) string {
	return fmt.Sprintf("%q", text)
}
