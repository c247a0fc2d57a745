package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deepscout/deepscout/internal/research"
	"github.com/deepscout/deepscout/internal/scheduler"
)

// TaskSnapshot is the persisted shape of a terminal task.
type TaskSnapshot struct {
	ID          string
	Name        string
	Description string
	Tags        []string
	Status      string
	Priority    string
	Result      string // JSON-encoded task result
	Error       string
	RetryCount  int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// SaveTask upserts a snapshot of the task. Results are JSON-encoded;
// unencodable results are stored as their Go string form.
func (s *Store) SaveTask(ctx context.Context, t *scheduler.Task) error {
	var resultStr string
	if t.Result != nil {
		if data, err := json.Marshal(t.Result); err == nil {
			resultStr = string(data)
		} else {
			resultStr = fmt.Sprintf("%v", t.Result)
		}
	}
	var errStr string
	if t.Err != nil {
		errStr = t.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, description, tags, status, priority, result, error, retry_count, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			retry_count = excluded.retry_count,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			snapshotted_at = CURRENT_TIMESTAMP
	`, t.ID, t.Name, t.Description, strings.Join(t.Tags, ","), t.Status.String(), t.Priority.String(),
		resultStr, errStr, t.RetryCount, t.CreatedAt, nullableTime(t.StartedAt), nullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("upserting task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads one task snapshot.
func (s *Store) GetTask(ctx context.Context, id string) (*TaskSnapshot, error) {
	snap := &TaskSnapshot{}
	var tags string
	var startedAt, completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, tags, status, priority, result, error, retry_count, created_at, started_at, completed_at
		FROM tasks WHERE id = ?
	`, id).Scan(&snap.ID, &snap.Name, &snap.Description, &tags, &snap.Status, &snap.Priority,
		&snap.Result, &snap.Error, &snap.RetryCount, &snap.CreatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task snapshot not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying task snapshot: %w", err)
	}

	if tags != "" {
		snap.Tags = strings.Split(tags, ",")
	}
	if startedAt.Valid {
		snap.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		snap.CompletedAt = &completedAt.Time
	}
	return snap, nil
}

// ListTasks returns all task snapshots, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]*TaskSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks ORDER BY snapshotted_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing task snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*TaskSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// ResearchSnapshot is the persisted shape of a finished research run.
type ResearchSnapshot struct {
	ID          string
	TaskID      string
	Topic       string
	Mode        string
	Status      string
	Report      *research.Report
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// SaveResearch upserts a snapshot of a research record; the report is stored
// as JSON.
func (s *Store) SaveResearch(ctx context.Context, rec *research.Record) error {
	var reportStr string
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("encoding report for research %s: %w", rec.ResearchID, err)
		}
		reportStr = string(data)
	}
	var errStr string
	if rec.Err != nil {
		errStr = rec.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO research (id, task_id, topic, mode, status, report, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			report = excluded.report,
			error = excluded.error,
			completed_at = excluded.completed_at,
			snapshotted_at = CURRENT_TIMESTAMP
	`, rec.ResearchID, rec.TaskID, rec.Topic, rec.Mode.String(), rec.Status.String(),
		reportStr, errStr, rec.CreatedAt, nullableTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("upserting research %s: %w", rec.ResearchID, err)
	}
	return nil
}

// GetResearch loads one research snapshot.
func (s *Store) GetResearch(ctx context.Context, id string) (*ResearchSnapshot, error) {
	snap := &ResearchSnapshot{}
	var reportStr string
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, topic, mode, status, report, error, created_at, completed_at
		FROM research WHERE id = ?
	`, id).Scan(&snap.ID, &snap.TaskID, &snap.Topic, &snap.Mode, &snap.Status,
		&reportStr, &snap.Error, &snap.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("research snapshot not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying research snapshot: %w", err)
	}

	if reportStr != "" {
		var report research.Report
		if err := json.Unmarshal([]byte(reportStr), &report); err != nil {
			return nil, fmt.Errorf("decoding report for research %s: %w", id, err)
		}
		snap.Report = &report
	}
	if completedAt.Valid {
		snap.CompletedAt = &completedAt.Time
	}
	return snap, nil
}

// ListResearch returns all research snapshots, newest first.
func (s *Store) ListResearch(ctx context.Context) ([]*ResearchSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM research ORDER BY snapshotted_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing research snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning research id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*ResearchSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.GetResearch(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
