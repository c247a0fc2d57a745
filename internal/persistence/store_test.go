package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/deepscout/deepscout/internal/research"
	"github.com/deepscout/deepscout/internal/scheduler"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute).Round(time.Second)
	completed := time.Now().Round(time.Second)
	task := &scheduler.Task{
		ID:          "t1",
		Name:        "indexing",
		Description: "rebuild the index",
		Tags:        []string{"maintenance", "io"},
		Priority:    scheduler.PriorityHigh,
		Status:      scheduler.StatusCompleted,
		Result:      map[string]any{"rows": 42},
		RetryCount:  1,
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &completed,
	}

	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	snap, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if snap.Name != "indexing" || snap.Status != "completed" || snap.Priority != "high" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Tags) != 2 || snap.Tags[0] != "maintenance" {
		t.Errorf("tags = %v", snap.Tags)
	}
	if snap.Result == "" {
		t.Error("result not persisted")
	}
	if snap.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", snap.RetryCount)
	}
	if snap.StartedAt == nil || snap.CompletedAt == nil {
		t.Error("timestamps not persisted")
	}
}

func TestSaveTaskUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &scheduler.Task{ID: "t1", Name: "run", Status: scheduler.StatusRunning, CreatedAt: time.Now()}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	task.Status = scheduler.StatusFailed
	task.Err = errors.New("disk full")
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("second SaveTask() error = %v", err)
	}

	snap, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if snap.Status != "failed" {
		t.Errorf("status = %q, want failed", snap.Status)
	}
	if snap.Error != "disk full" {
		t.Errorf("error = %q, want disk full", snap.Error)
	}

	all, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListTasks() returned %d rows, want 1 after upsert", len(all))
	}
}

func TestGetTaskNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetTask(context.Background(), "ghost"); err == nil {
		t.Error("GetTask() on missing id should fail")
	}
}

func TestSaveAndGetResearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	completed := time.Now().Round(time.Second)
	rec := &research.Record{
		ResearchID: "r1",
		TaskID:     "t1",
		Topic:      "storage engines",
		Mode:       research.ModeGraph,
		Status:     scheduler.StatusCompleted,
		Result: &research.Report{
			Topic:   "storage engines",
			Summary: "findings",
			Sections: []research.Section{
				{Title: "LSM trees", Content: "text"},
			},
			Sources: []string{"https://example.com"},
		},
		CreatedAt:   completed.Add(-time.Minute),
		CompletedAt: &completed,
	}

	if err := store.SaveResearch(ctx, rec); err != nil {
		t.Fatalf("SaveResearch() error = %v", err)
	}

	snap, err := store.GetResearch(ctx, "r1")
	if err != nil {
		t.Fatalf("GetResearch() error = %v", err)
	}
	if snap.Topic != "storage engines" || snap.Mode != "graph" || snap.Status != "completed" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Report == nil {
		t.Fatal("report not persisted")
	}
	if snap.Report.Summary != "findings" || len(snap.Report.Sections) != 1 {
		t.Errorf("report = %+v", snap.Report)
	}
	if snap.CompletedAt == nil {
		t.Error("completion timestamp not persisted")
	}
}

func TestListResearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		rec := &research.Record{
			ResearchID: id,
			TaskID:     "t-" + id,
			Topic:      "topic " + id,
			Status:     scheduler.StatusFailed,
			Err:        errors.New("provider outage"),
			CreatedAt:  time.Now(),
		}
		if err := store.SaveResearch(ctx, rec); err != nil {
			t.Fatalf("SaveResearch(%s) error = %v", id, err)
		}
	}

	all, err := store.ListResearch(ctx)
	if err != nil {
		t.Fatalf("ListResearch() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListResearch() returned %d rows, want 2", len(all))
	}
	for _, snap := range all {
		if snap.Error != "provider outage" {
			t.Errorf("error = %q, want provider outage", snap.Error)
		}
		if snap.Report != nil {
			t.Error("failed run should have no report")
		}
	}
}
