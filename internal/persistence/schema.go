package persistence

import "context"

// initSchema creates the snapshot tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		tags TEXT,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		result TEXT,
		error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		started_at DATETIME,
		completed_at DATETIME,
		snapshotted_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS research (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		report TEXT,
		error TEXT,
		created_at DATETIME,
		completed_at DATETIME,
		snapshotted_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_research_task_id ON research(task_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}
