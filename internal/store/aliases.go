package store

import "time"

// LinkAlias records that aliasSender on aliasChannel is the same person as
// primarySender, for cross-channel identity (e.g. linking a Telegram and a
// WhatsApp account so facts and history are shared).
func (s *Store) LinkAlias(primarySender, aliasSender, aliasChannel string) error {
	_, err := s.db.Exec(
		`INSERT INTO user_aliases (primary_sender, alias_sender, alias_channel, linked_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(alias_sender, alias_channel) DO UPDATE SET primary_sender = excluded.primary_sender`,
		primarySender, aliasSender, aliasChannel, time.Now().UTC().Unix(),
	)
	return err
}

// ResolvePrimarySender returns the primary sender id for an alias, or the
// alias itself if it isn't linked to anything.
func (s *Store) ResolvePrimarySender(aliasSender, aliasChannel string) (string, error) {
	var primary string
	err := s.db.QueryRow(
		`SELECT primary_sender FROM user_aliases WHERE alias_sender = ? AND alias_channel = ?`,
		aliasSender, aliasChannel,
	).Scan(&primary)
	if err != nil {
		return aliasSender, nil
	}
	return primary, nil
}
