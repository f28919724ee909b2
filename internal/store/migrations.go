package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Settings table - runtime settings that survive a restart
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Events table - journal of every stable event a session emitted
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL CHECK(kind IN ('hand_status', 'gesture', 'reset')),
			hand TEXT NOT NULL DEFAULT '',
			orientation TEXT NOT NULL DEFAULT '',
			fingers TEXT NOT NULL DEFAULT '[]',
			gesture TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
