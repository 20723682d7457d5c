package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ErrSystemFactKey is returned when a caller outside the system attempts to
// write a reserved fact key through SetFact.
var ErrSystemFactKey = fmt.Errorf("key is reserved for system facts")

// SetFact upserts a user-writable fact, rejecting reserved system keys.
func (s *Store) SetFact(sender, key, value string) error {
	if IsSystemFactKey(key) {
		return ErrSystemFactKey
	}
	return s.setFactUnchecked(sender, key, value)
}

// SetSystemFact upserts a reserved fact key; only the gateway's own
// components (pipeline, discovery, scheduler) may call this.
func (s *Store) SetSystemFact(sender, key, value string) error {
	return s.setFactUnchecked(sender, key, value)
}

func (s *Store) setFactUnchecked(sender, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO facts (sender, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(sender, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sender, key, value, time.Now().UTC().Unix(),
	)
	return err
}

// GetFact returns a fact value and whether it was present.
func (s *Store) GetFact(sender, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM facts WHERE sender = ? AND key = ?`, sender, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// DeleteFact removes a fact, including system-reserved ones (used by the
// discovery TTL/cancellation paths to clear pending_discovery, and by /forget).
func (s *Store) DeleteFact(sender, key string) error {
	_, err := s.db.Exec(`DELETE FROM facts WHERE sender = ? AND key = ?`, sender, key)
	return err
}

// ListFacts returns every user-visible (non-system) fact for sender, for
// the /facts command.
func (s *Store) ListFacts(sender string) (map[string]string, error) {
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
		if IsSystemFactKey(k) {
			continue
		}
		facts[k] = v
	}
	return facts, rows.Err()
}
