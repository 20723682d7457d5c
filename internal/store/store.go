// Package store is the gateway's SQLite-backed memory store: conversations,
// messages with FTS5 recall, facts, scheduled tasks, audit log, and the
// outcome/lesson reward-learning rows. The store owns the database
// connection pool exclusively; every mutation in the gateway goes through
// one of its methods.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/omegahq/gateway/internal/omegaerr"
	"github.com/omegahq/gateway/internal/store/migrate"
)

// Conversation is a thread scoped by (sender, channel, activity window).
type Conversation struct {
	ID        string
	Sender    string
	Channel   string
	State     string // "active" or "closed"
	StartedAt time.Time
	ClosedAt  *time.Time
	Summary   string
}

// Message is one stored user/assistant turn.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Timestamp      time.Time
	Sender         string
}

// ScheduledTask mirrors the ScheduledTask entity from the data model.
type ScheduledTask struct {
	ID          string
	Channel     string
	Sender      string
	ReplyTarget string
	Description string
	DueAt       time.Time
	Repeat      string // "", "once", "daily", "weekly", "monthly", "weekdays"
	Status      string // "pending", "delivered", "cancelled", "failed"
	CreatedAt   time.Time
	DeliveredAt *time.Time
	TaskType    string // "reminder" or "action"
	RetryCount  int
	LastError   string
	Project     string
}

// AuditEntry is an append-only audit log row.
type AuditEntry struct {
	Timestamp    time.Time
	Channel      string
	Sender       string
	Input        string
	Output       string
	Provider     string
	Model        string
	ProcessingMS int64
	Status       string // "ok", "denied", "error"
}

// Outcome is one reward-based learning observation.
type Outcome struct {
	Sender  string
	Domain  string
	Project string
	Reward  float64
	Details string
}

// Lesson is a distilled, upserted lesson unique on (sender, domain, project).
type Lesson struct {
	Sender  string
	Domain  string
	Project string
	Lesson  string
}

// systemFactKeys are reserved for the system and are rejected from user-fact
// writes made through SetFact; only SetSystemFact may write them.
var systemFactKeys = map[string]bool{
	"pending_build_request": true,
	"pending_discovery":     true,
	"active_project":        true,
	"active_session_id":     true,
	"preferred_language":    true,
	"self_heal_state":       true,
}

// IsSystemFactKey reports whether key is reserved for system writes.
func IsSystemFactKey(key string) bool {
	return systemFactKeys[key]
}

// Store wraps the SQLite connection pool and implements every memory-store
// operation from the data model.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path, enables
// WAL journal mode, and applies pending migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, omegaerr.Wrap(omegaerr.Memory, "open sqlite database", err)
	}
	// SQLite allows only one writer; a single shared connection avoids
	// SQLITE_BUSY under this gateway's single-pipeline-writer model.
	db.SetMaxOpenConns(1)

	if err := migrate.Run(db); err != nil {
		db.Close()
		return nil, omegaerr.Wrap(omegaerr.Memory, "apply migrations", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for callers (migrate CLI, doctor diagnostics)
// that need direct access outside the Store's own operations.
func (s *Store) DB() *sql.DB {
	return s.db
}
