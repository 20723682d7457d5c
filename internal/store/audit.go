package store

import (
	"time"

	"github.com/google/uuid"
)

// AppendAudit writes one append-only audit row. Callers treat failures as
// best-effort: log and swallow, per the pipeline's stage-10 contract.
func (s *Store) AppendAudit(e AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, timestamp, channel, sender, input, output, provider, model, processing_ms, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), e.Timestamp.Unix(), e.Channel, e.Sender, e.Input, e.Output, e.Provider, e.Model, e.ProcessingMS, e.Status,
	)
	return err
}
