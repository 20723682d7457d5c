package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	taskStatusPending   = "pending"
	taskStatusDelivered = "delivered"
	taskStatusCancelled = "cancelled"
	taskStatusFailed    = "failed"

	maxActionRetries  = 3
	actionRetryDelay  = 2 * time.Minute
)

// CreateTask inserts a new scheduled task and returns its id.
func (s *Store) CreateTask(t ScheduledTask) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = taskStatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO scheduled_tasks
		 (id, channel, sender, reply_target, description, due_at, repeat, status, created_at, task_type, retry_count, last_error, project)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?)`,
		t.ID, t.Channel, t.Sender, t.ReplyTarget, t.Description, t.DueAt.UTC().Unix(), t.Repeat, t.Status,
		t.CreatedAt.UTC().Unix(), t.TaskType, t.Project,
	)
	return t.ID, err
}

// GetDueTasks returns every pending task whose due_at has passed.
func (s *Store) GetDueTasks(now time.Time) ([]ScheduledTask, error) {
	rows, err := s.db.Query(
		`SELECT id, channel, sender, reply_target, description, due_at, repeat, status, created_at, delivered_at, task_type, retry_count, last_error, project
		 FROM scheduled_tasks WHERE status = ? AND due_at <= ? ORDER BY due_at ASC`,
		taskStatusPending, now.UTC().Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row scanner) (ScheduledTask, error) {
	var t ScheduledTask
	var dueAt, createdAt int64
	var deliveredAt *int64
	if err := row.Scan(&t.ID, &t.Channel, &t.Sender, &t.ReplyTarget, &t.Description, &dueAt, &t.Repeat,
		&t.Status, &createdAt, &deliveredAt, &t.TaskType, &t.RetryCount, &t.LastError, &t.Project); err != nil {
		return ScheduledTask{}, err
	}
	t.DueAt = time.Unix(dueAt, 0).UTC()
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	if deliveredAt != nil {
		d := time.Unix(*deliveredAt, 0).UTC()
		t.DeliveredAt = &d
	}
	return t, nil
}

// CompleteTask advances due_at by the task's recurrence rule, or marks it
// delivered when one-shot. Recurrence follows spec's "weekdays" rule:
// Friday advances to Monday, never landing on a weekend (P6).
func (s *Store) CompleteTask(id string) error {
	var dueAt int64
	var repeat string
	if err := s.db.QueryRow(`SELECT due_at, repeat FROM scheduled_tasks WHERE id = ?`, id).Scan(&dueAt, &repeat); err != nil {
		return err
	}

	next, recurring := advanceDueAt(time.Unix(dueAt, 0).UTC(), repeat)
	if !recurring {
		now := time.Now().UTC().Unix()
		_, err := s.db.Exec(`UPDATE scheduled_tasks SET status = ?, delivered_at = ? WHERE id = ?`, taskStatusDelivered, now, id)
		return err
	}

	_, err := s.db.Exec(`UPDATE scheduled_tasks SET due_at = ?, status = ? WHERE id = ?`, next.Unix(), taskStatusPending, id)
	return err
}

// advanceDueAt returns the next due time and whether the task recurs.
func advanceDueAt(due time.Time, repeat string) (time.Time, bool) {
	switch repeat {
	case "daily":
		return due.AddDate(0, 0, 1), true
	case "weekly":
		return due.AddDate(0, 0, 7), true
	case "monthly":
		return due.AddDate(0, 1, 0), true
	case "weekdays":
		next := due.AddDate(0, 0, 1)
		switch next.Weekday() {
		case time.Saturday:
			next = next.AddDate(0, 0, 2)
		case time.Sunday:
			next = next.AddDate(0, 0, 1)
		}
		return next, true
	default:
		return due, false
	}
}

// FailTask increments retry_count and pushes due_at forward by a fixed
// backoff while under the retry cap; beyond it, the task becomes permanently
// failed.
func (s *Store) FailTask(id, errMsg string) error {
	var retryCount int
	if err := s.db.QueryRow(`SELECT retry_count FROM scheduled_tasks WHERE id = ?`, id).Scan(&retryCount); err != nil {
		return err
	}

	// retryCount here is the count *before* this failure, so comparing against
	// the cap before incrementing lets a task fail maxActionRetries times
	// (the retries) on top of its initial attempt before going terminal.
	if retryCount >= maxActionRetries {
		_, err := s.db.Exec(`UPDATE scheduled_tasks SET status = ?, retry_count = ?, last_error = ? WHERE id = ?`,
			taskStatusFailed, retryCount+1, errMsg, id)
		return err
	}

	retryCount++
	nextDue := time.Now().UTC().Add(actionRetryDelay).Unix()
	_, err := s.db.Exec(`UPDATE scheduled_tasks SET retry_count = ?, last_error = ?, due_at = ? WHERE id = ?`,
		retryCount, errMsg, nextDue, id)
	return err
}

// CancelTask marks a pending task cancelled; used by /cancel.
func (s *Store) CancelTask(id string) error {
	res, err := s.db.Exec(`UPDATE scheduled_tasks SET status = ? WHERE id = ? AND status = ?`, taskStatusCancelled, id, taskStatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListTasks returns every pending task for sender, for the /tasks command.
func (s *Store) ListTasks(sender string) ([]ScheduledTask, error) {
	rows, err := s.db.Query(
		`SELECT id, channel, sender, reply_target, description, due_at, repeat, status, created_at, delivered_at, task_type, retry_count, last_error, project
		 FROM scheduled_tasks WHERE sender = ? AND status = ? ORDER BY due_at ASC`,
		sender, taskStatusPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
