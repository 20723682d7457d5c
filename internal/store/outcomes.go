package store

import (
	"time"

	"github.com/google/uuid"
)

// RecordOutcome appends one reward observation.
func (s *Store) RecordOutcome(o Outcome) error {
	_, err := s.db.Exec(
		`INSERT INTO outcomes (id, sender, domain, project, reward, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), o.Sender, o.Domain, o.Project, o.Reward, o.Details, time.Now().UTC().Unix(),
	)
	return err
}

// UpsertLesson writes or replaces the lesson unique on (sender, domain,
// project); an empty project denotes the general, non-project scope.
func (s *Store) UpsertLesson(l Lesson) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.Exec(
		`INSERT INTO lessons (sender, domain, project, lesson, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sender, domain, project) DO UPDATE SET lesson = excluded.lesson, updated_at = excluded.updated_at`,
		l.Sender, l.Domain, l.Project, l.Lesson, now, now,
	)
	return err
}

// LessonsFor returns every lesson recorded for sender in domain, general
// scope (empty project) first.
func (s *Store) LessonsFor(sender, domain string) ([]Lesson, error) {
	rows, err := s.db.Query(
		`SELECT sender, domain, project, lesson FROM lessons WHERE sender = ? AND domain = ? ORDER BY project = '' DESC, updated_at DESC`,
		sender, domain,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []Lesson
	for rows.Next() {
		var l Lesson
		if err := rows.Scan(&l.Sender, &l.Domain, &l.Project, &l.Lesson); err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}
