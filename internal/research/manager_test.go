package research

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepscout/deepscout/internal/events"
	"github.com/deepscout/deepscout/internal/llm"
	"github.com/deepscout/deepscout/internal/scheduler"
)

type researchEnv struct {
	tasks  *scheduler.TaskManager
	rm     *Manager
	search *fakeSearcher
	client *fakeClient
}

func newResearchEnv(t *testing.T, maxResearch int) *researchEnv {
	t.Helper()

	tasks := scheduler.New(scheduler.Config{
		MaxConcurrentTasks: 8,
		DefaultRetryDelay:  time.Millisecond,
	}, nil, nil)

	search := &fakeSearcher{results: someResults}
	client := &fakeClient{}
	rm := NewManager(ManagerConfig{MaxConcurrentResearch: maxResearch}, tasks, testToolkit(search, client), nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rm.Shutdown(ctx)
		tasks.Shutdown(ctx)
	})
	return &researchEnv{tasks: tasks, rm: rm, search: search, client: client}
}

func TestCreateValidatesTopic(t *testing.T) {
	env := newResearchEnv(t, 2)
	if _, err := env.rm.Create(CreateParams{Topic: ""}); err == nil {
		t.Error("Create() with empty topic should fail")
	}
}

func TestExecuteAndWaitProducesReport(t *testing.T) {
	env := newResearchEnv(t, 2)

	id, err := env.rm.Create(CreateParams{
		Topic:  "go concurrency",
		Mode:   ModeLinear,
		Config: Config{SectionCount: 2},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if st, err := env.rm.Status(id); err != nil || st.Terminal() {
		t.Fatalf("fresh run status = %v, %v", st, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := env.rm.ExecuteAndWait(ctx, id)
	if err != nil {
		t.Fatalf("ExecuteAndWait() error = %v", err)
	}
	if report == nil || report.Topic != "go concurrency" {
		t.Fatalf("report = %+v, want topic go concurrency", report)
	}

	// The record must have moved to the completed set.
	if _, ok := env.rm.Active()[id]; ok {
		t.Error("record still in the active set after completion")
	}
	rec, ok := env.rm.Completed()[id]
	if !ok {
		t.Fatal("record missing from the completed set")
	}
	if rec.Status != scheduler.StatusCompleted {
		t.Errorf("record status = %v, want completed", rec.Status)
	}
	if rec.CompletedAt == nil {
		t.Error("record has no completion timestamp")
	}

	got, err := env.rm.Result(id)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if got == nil || got.Topic != "go concurrency" {
		t.Errorf("Result() = %+v", got)
	}

	// Executing a finished run is a no-op, like re-executing a terminal task.
	if err := env.rm.Execute(id); err != nil {
		t.Errorf("Execute() after completion = %v, want nil", err)
	}
}

func TestResearchNotFound(t *testing.T) {
	env := newResearchEnv(t, 2)

	if _, err := env.rm.Status("ghost"); !errors.Is(err, ErrResearchNotFound) {
		t.Errorf("Status() error = %v, want ErrResearchNotFound", err)
	}
	if err := env.rm.Execute("ghost"); !errors.Is(err, ErrResearchNotFound) {
		t.Errorf("Execute() error = %v, want ErrResearchNotFound", err)
	}
	if _, err := env.rm.Cancel("ghost"); !errors.Is(err, ErrResearchNotFound) {
		t.Errorf("Cancel() error = %v, want ErrResearchNotFound", err)
	}
}

func TestResearchConcurrencyCeiling(t *testing.T) {
	env := newResearchEnv(t, 1)

	// Make every search slow enough for runs to overlap if the gate leaks.
	var active, peak int32
	slow := &gatedSearcher{
		inner: env.search,
		hook: func() {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		},
	}
	env.rm.tk = NewToolkit(slow, env.client, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := env.rm.Create(CreateParams{Topic: "bounded", Mode: ModeLinear, Config: Config{SectionCount: 1}})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := env.rm.Execute(id); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range ids {
		if _, err := env.rm.ExecuteAndWait(ctx, id); err != nil {
			t.Fatalf("ExecuteAndWait(%s) error = %v", id, err)
		}
	}

	if p := atomic.LoadInt32(&peak); p > 1 {
		t.Errorf("peak research concurrency = %d, want 1", p)
	}
}

// gatedSearcher wraps a searcher with a hook for concurrency observation.
type gatedSearcher struct {
	inner llm.Searcher
	hook  func()
}

func (g *gatedSearcher) Search(ctx context.Context, query string, limit int) ([]llm.SearchResult, error) {
	g.hook()
	return g.inner.Search(ctx, query, limit)
}

func TestCancelActiveResearch(t *testing.T) {
	env := newResearchEnv(t, 2)

	started := make(chan struct{}, 1)
	env.rm.tk = NewToolkit(&blockingSearcher{started: started}, env.client, nil)

	id, err := env.rm.Create(CreateParams{Topic: "doomed", Mode: ModeLinear})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := env.rm.Execute(id); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("research never started searching")
	}

	cancelled, err := env.rm.Cancel(id)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !cancelled {
		t.Error("Cancel() = false, want true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := env.rm.ExecuteAndWait(ctx, id); !errors.Is(err, scheduler.ErrTaskCancelled) {
		t.Errorf("ExecuteAndWait() error = %v, want ErrTaskCancelled", err)
	}

	st, err := env.rm.Status(id)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st != scheduler.StatusCancelled {
		t.Errorf("status = %v, want cancelled", st)
	}

	// Cancelling a finished run reports false.
	cancelled, err = env.rm.Cancel(id)
	if err != nil || cancelled {
		t.Errorf("second Cancel() = %v, %v, want false, nil", cancelled, err)
	}
}

// blockingSearcher signals the first call and then blocks until ctx ends.
type blockingSearcher struct {
	started chan struct{}
}

func (b *blockingSearcher) Search(ctx context.Context, query string, limit int) ([]llm.SearchResult, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBookkeepingSurvivesEventFlood(t *testing.T) {
	env := newResearchEnv(t, 1)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	env.rm.tk = NewToolkit(&holdSearcher{started: started, release: release}, env.client, nil)

	id, err := env.rm.Create(CreateParams{Topic: "flooded", Mode: ModeLinear, Config: Config{SectionCount: 1}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := env.rm.Execute(id); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("research never started searching")
	}

	// Saturate the task topic with events for unknown tasks so subscriber
	// buffers overflow and later events get dropped. Permit release and
	// record movement must not depend on the dropped events.
	stopFlood := make(chan struct{})
	var flood sync.WaitGroup
	bus := env.tasks.Bus()
	for i := 0; i < 4; i++ {
		flood.Add(1)
		go func() {
			defer flood.Done()
			for {
				select {
				case <-stopFlood:
					return
				default:
					bus.Publish(events.TopicTask, events.TaskCompletedEvent{ID: "noise", Timestamp: time.Now()})
				}
			}
		}()
	}

	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := env.rm.ExecuteAndWait(ctx, id); err != nil {
		t.Fatalf("ExecuteAndWait() error = %v", err)
	}
	close(stopFlood)
	flood.Wait()

	if _, ok := env.rm.Completed()[id]; !ok {
		t.Fatal("record missing from the completed set")
	}

	// The single permit must be free again for the next run.
	next, err := env.rm.Create(CreateParams{Topic: "after the flood", Mode: ModeLinear, Config: Config{SectionCount: 1}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := env.rm.ExecuteAndWait(ctx, next); err != nil {
		t.Fatalf("ExecuteAndWait(next) error = %v", err)
	}
}

// holdSearcher signals the first call, blocks until released, then passes
// results through on every call.
type holdSearcher struct {
	started chan struct{}
	release chan struct{}
}

func (h *holdSearcher) Search(ctx context.Context, query string, limit int) ([]llm.SearchResult, error) {
	select {
	case h.started <- struct{}{}:
	default:
	}
	select {
	case <-h.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return someResults, nil
}

func TestContinuousResearch(t *testing.T) {
	env := newResearchEnv(t, 2)

	first, err := env.rm.Create(CreateParams{Topic: "origins", Mode: ModeGraph, Config: Config{Depth: 1}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// A follow-up on an unfinished run is rejected.
	if _, err := env.rm.ContinuousResearch(first, "next steps"); err == nil {
		t.Error("ContinuousResearch() on unfinished run should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := env.rm.ExecuteAndWait(ctx, first); err != nil {
		t.Fatalf("ExecuteAndWait(first) error = %v", err)
	}

	second, err := env.rm.ContinuousResearch(first, "next steps")
	if err != nil {
		t.Fatalf("ContinuousResearch() error = %v", err)
	}

	rec, err := env.rm.Get(second)
	if err != nil {
		t.Fatalf("Get(second) error = %v", err)
	}
	if rec.Topic != "next steps" {
		t.Errorf("topic = %q, want next steps", rec.Topic)
	}
	if rec.Mode != ModeGraph {
		t.Errorf("mode = %v, want the previous run's mode", rec.Mode)
	}
	if rec.Config.Depth != 1 {
		t.Errorf("config depth = %d, want the previous run's config", rec.Config.Depth)
	}

	report, err := env.rm.ExecuteAndWait(ctx, second)
	if err != nil {
		t.Fatalf("ExecuteAndWait(second) error = %v", err)
	}
	if report == nil || report.Topic != "next steps" {
		t.Errorf("report = %+v", report)
	}
}

func TestResearchMetrics(t *testing.T) {
	env := newResearchEnv(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done, err := env.rm.Create(CreateParams{Topic: "finished", Mode: ModeLinear, Config: Config{SectionCount: 1}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := env.rm.ExecuteAndWait(ctx, done); err != nil {
		t.Fatalf("ExecuteAndWait() error = %v", err)
	}

	idle, err := env.rm.Create(CreateParams{Topic: "idle", Mode: ModeLinear})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_ = idle

	snap := env.rm.MetricsSnapshot()
	if snap.Completed != 1 {
		t.Errorf("completed = %d, want 1", snap.Completed)
	}
	if snap.Active != 1 {
		t.Errorf("active = %d, want 1", snap.Active)
	}

	all := env.rm.All()
	if len(all) != 2 {
		t.Errorf("All() returned %d records, want 2", len(all))
	}
}

func TestRecordsAreCopies(t *testing.T) {
	env := newResearchEnv(t, 2)

	id, err := env.rm.Create(CreateParams{Topic: "immutable", Mode: ModeLinear})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec, err := env.rm.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	rec.Topic = "mutated"
	rec.Status = scheduler.StatusFailed

	fresh, _ := env.rm.Get(id)
	if fresh.Topic != "immutable" || fresh.Status == scheduler.StatusFailed {
		t.Error("mutating a returned record leaked into the manager")
	}
}
