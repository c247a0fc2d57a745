package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/deepscout/deepscout/internal/events"
	"github.com/deepscout/deepscout/internal/scheduler"
)

// ErrResearchNotFound is returned by operations on unknown research ids.
var ErrResearchNotFound = errors.New("research not found")

// ManagerConfig configures the research coordinator.
type ManagerConfig struct {
	// MaxConcurrentResearch caps simultaneously running research tasks,
	// independently of (and typically below) the task manager's general
	// ceiling. A research task holds one permit from each, so effective
	// research concurrency is the smaller of the two. Default 2.
	MaxConcurrentResearch int
}

// CreateParams describes one research task.
type CreateParams struct {
	Topic    string
	Mode     Mode
	Config   Config
	Priority scheduler.Priority
	Tags     []string
	Metadata map[string]string
	Prior    *Report // Seeds continuous research; nil for a fresh run
}

// Manager wraps research workflows as scheduler tasks and tracks them in
// active/completed record maps. It enforces its own research-specific
// concurrency gate by acquiring a permit before dispatching the backing
// task. Records move between maps when the backing task's done channel
// closes, with the task manager's lifecycle events as a secondary mirror.
type Manager struct {
	tasks  *scheduler.TaskManager
	tk     *Toolkit
	bus    *events.Bus
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu         sync.RWMutex
	active     map[string]*Record
	completed  map[string]*Record
	byTask     map[string]string        // backing task id -> research id
	permits    map[string]bool          // research ids currently holding a permit
	dispatched map[string]bool          // research ids with a dispatch in flight
	doneByID   map[string]chan struct{} // closed once the record reaches the completed set

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a research manager and starts watching the task
// manager's lifecycle events.
func NewManager(cfg ManagerConfig, tasks *scheduler.TaskManager, tk *Toolkit, logger *slog.Logger) *Manager {
	if cfg.MaxConcurrentResearch <= 0 {
		cfg.MaxConcurrentResearch = 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, stop := context.WithCancel(context.Background())
	m := &Manager{
		tasks:      tasks,
		tk:         tk,
		bus:        tasks.Bus(),
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentResearch)),
		active:     make(map[string]*Record),
		completed:  make(map[string]*Record),
		byTask:     make(map[string]string),
		permits:    make(map[string]bool),
		dispatched: make(map[string]bool),
		doneByID:   make(map[string]chan struct{}),
		runCtx:     runCtx,
		stop:       stop,
	}

	sub := m.bus.Subscribe(events.TopicTask, 256)
	m.wg.Add(1)
	go m.watch(sub)
	return m
}

// Create wraps the chosen workflow strategy as a task, registers it, and
// records the run in the active set. The task is not dispatched until
// Execute is called.
func (m *Manager) Create(params CreateParams) (string, error) {
	if params.Topic == "" {
		return "", errors.New("research topic must not be empty")
	}

	strategy := strategyFor(params.Mode)
	researchID := uuid.NewString()
	req := Request{Topic: params.Topic, Prior: params.Prior, Config: params.Config}

	work := func(ctx context.Context) (any, error) {
		return strategy(ctx, req, m.tk)
	}

	taskID, err := m.tasks.Register(scheduler.TaskSpec{
		Name:     "research: " + params.Topic,
		Tags:     append(append([]string(nil), params.Tags...), "research"),
		Metadata: params.Metadata,
		Work:     work,
		Priority: params.Priority,
		Executor: scheduler.ExecutorConcurrent,
	})
	if err != nil {
		return "", fmt.Errorf("registering research task: %w", err)
	}

	now := time.Now()
	rec := &Record{
		ResearchID: researchID,
		TaskID:     taskID,
		Topic:      params.Topic,
		Mode:       params.Mode,
		Config:     params.Config,
		Status:     scheduler.StatusPending,
		CreatedAt:  now,
	}

	m.mu.Lock()
	m.active[researchID] = rec
	m.byTask[taskID] = researchID
	m.doneByID[researchID] = make(chan struct{})
	m.mu.Unlock()

	// Bookkeeping for this run (permit release, record movement) must not
	// depend on bus delivery, which drops events for slow subscribers.
	m.wg.Add(1)
	go m.awaitTerminal(taskID)

	m.bus.Publish(events.TopicResearch, events.ResearchEvent{
		Type:       events.EventTypeResearchCreated,
		ResearchID: researchID,
		TaskID:     taskID,
		Topic:      params.Topic,
		Timestamp:  now,
	})
	m.logger.Info("research created", "research_id", researchID, "topic", params.Topic, "mode", params.Mode.String())
	return researchID, nil
}

// Execute dispatches the research run once a research permit is free and
// returns immediately. The permit is held until the backing task is
// terminal, so at most MaxConcurrentResearch runs are in flight. Repeated
// calls for the same run are no-ops.
func (m *Manager) Execute(id string) error {
	m.mu.Lock()
	rec, ok := m.active[id]
	if !ok {
		_, terminal := m.completed[id]
		m.mu.Unlock()
		if terminal {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrResearchNotFound, id)
	}
	if m.dispatched[id] {
		m.mu.Unlock()
		return nil
	}
	m.dispatched[id] = true
	taskID := rec.TaskID
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if err := m.sem.Acquire(m.runCtx, 1); err != nil {
			return
		}

		m.mu.Lock()
		if _, stillActive := m.active[id]; !stillActive {
			// Terminal before dispatch (e.g. cancelled while gated).
			m.mu.Unlock()
			m.sem.Release(1)
			return
		}
		m.permits[id] = true
		m.mu.Unlock()

		if err := m.tasks.Execute(taskID); err != nil {
			m.logger.Error("dispatching research task", "research_id", id, "error", err)
			m.mu.Lock()
			delete(m.dispatched, id)
			if m.permits[id] {
				delete(m.permits, id)
				m.sem.Release(1)
			}
			m.mu.Unlock()
		}
	}()
	return nil
}

// ExecuteAndWait dispatches the run and blocks until it is terminal,
// returning the report on success and the recorded error otherwise.
func (m *Manager) ExecuteAndWait(ctx context.Context, id string) (*Report, error) {
	m.mu.RLock()
	_, isActive := m.active[id]
	done, known := m.doneByID[id]
	m.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrResearchNotFound, id)
	}

	if isActive {
		if err := m.Execute(id); err != nil && !errors.Is(err, ErrResearchNotFound) {
			return nil, err
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.Result(id)
}

// Cancel cancels an active research run. Completed runs return false.
func (m *Manager) Cancel(id string) (bool, error) {
	m.mu.RLock()
	rec, active := m.active[id]
	_, done := m.completed[id]
	m.mu.RUnlock()

	if active {
		return m.tasks.Cancel(rec.TaskID)
	}
	if done {
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrResearchNotFound, id)
}

// Status returns the record's current status, mirrored from the backing
// task.
func (m *Manager) Status(id string) (scheduler.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.active[id]; ok {
		return rec.Status, nil
	}
	if rec, ok := m.completed[id]; ok {
		return rec.Status, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrResearchNotFound, id)
}

// Get returns a copy of the record.
func (m *Manager) Get(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.active[id]; ok {
		return rec.clone(), nil
	}
	if rec, ok := m.completed[id]; ok {
		return rec.clone(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrResearchNotFound, id)
}

// Result returns the report of a completed run. A failed or cancelled run
// yields its recorded error; a still-active run yields nil, nil.
func (m *Manager) Result(id string) (*Report, error) {
	rec, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case scheduler.StatusCompleted:
		return rec.Result, nil
	case scheduler.StatusFailed, scheduler.StatusCancelled:
		return nil, rec.Err
	}
	return nil, nil
}

// All returns copies of every record, active and completed.
func (m *Manager) All() map[string]*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*Record, len(m.active)+len(m.completed))
	for id, rec := range m.active {
		out[id] = rec.clone()
	}
	for id, rec := range m.completed {
		out[id] = rec.clone()
	}
	return out
}

// Active returns copies of records whose backing task is not yet terminal.
func (m *Manager) Active() map[string]*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*Record, len(m.active))
	for id, rec := range m.active {
		out[id] = rec.clone()
	}
	return out
}

// Completed returns copies of terminal records.
func (m *Manager) Completed() map[string]*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*Record, len(m.completed))
	for id, rec := range m.completed {
		out[id] = rec.clone()
	}
	return out
}

// ContinuousResearch creates a new run on a new topic seeded with the report
// of a previously completed run.
func (m *Manager) ContinuousResearch(previousID, topic string) (string, error) {
	prior, err := m.Result(previousID)
	if err != nil {
		return "", fmt.Errorf("loading previous research %q: %w", previousID, err)
	}
	if prior == nil {
		return "", fmt.Errorf("previous research %q has no result yet", previousID)
	}

	m.mu.RLock()
	prev := m.completed[previousID]
	m.mu.RUnlock()

	mode := ModeLinear
	var cfg Config
	if prev != nil {
		mode = prev.Mode
		cfg = prev.Config
	}
	return m.Create(CreateParams{
		Topic:  topic,
		Mode:   mode,
		Config: cfg,
		Prior:  prior,
	})
}

// Metrics summarizes research-level state.
type Metrics struct {
	Active    int
	Completed int
	Failed    int
	Cancelled int
	InFlight  int // Runs currently holding a research permit
}

// MetricsSnapshot computes a point-in-time metrics view.
func (m *Manager) MetricsSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Metrics{
		Active:   len(m.active),
		InFlight: len(m.permits),
	}
	for _, rec := range m.completed {
		switch rec.Status {
		case scheduler.StatusFailed:
			snap.Failed++
		case scheduler.StatusCancelled:
			snap.Cancelled++
		default:
			snap.Completed++
		}
	}
	return snap
}

// Shutdown stops the event watcher and waits for in-flight dispatch
// goroutines.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitTerminal blocks on the backing task's done channel and applies the
// terminal transition directly. It is the authoritative path for permit
// release and record movement; the event watcher is a best-effort mirror.
func (m *Manager) awaitTerminal(taskID string) {
	defer m.wg.Done()
	if _, err := m.tasks.WaitFor(m.runCtx, taskID); err != nil {
		return
	}
	m.onTerminal(taskID)
}

// watch consumes task lifecycle events and mirrors status into records.
// Terminal transitions are idempotent with awaitTerminal, whichever side
// observes them first.
func (m *Manager) watch(sub <-chan events.Event) {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case events.TaskStartedEvent:
				m.onStarted(e.ID)
			case events.TaskCompletedEvent:
				m.onTerminal(e.ID)
			case events.TaskFailedEvent:
				m.onTerminal(e.ID)
			case events.TaskCancelledEvent:
				m.onTerminal(e.ID)
			}
		case <-m.runCtx.Done():
			return
		}
	}
}

func (m *Manager) onStarted(taskID string) {
	m.mu.Lock()
	researchID, ok := m.byTask[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec, ok := m.active[researchID]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.Status = scheduler.StatusRunning
	topic := rec.Topic
	m.mu.Unlock()

	m.bus.Publish(events.TopicResearch, events.ResearchEvent{
		Type:       events.EventTypeResearchStarted,
		ResearchID: researchID,
		TaskID:     taskID,
		Topic:      topic,
		Timestamp:  time.Now(),
	})
}

func (m *Manager) onTerminal(taskID string) {
	m.mu.Lock()
	researchID, ok := m.byTask[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec, ok := m.active[researchID]
	if !ok {
		m.mu.Unlock()
		return
	}

	task, err := m.tasks.GetTask(taskID)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("loading terminal research task", "task_id", taskID, "error", err)
		return
	}

	rec.Status = task.Status
	rec.Err = task.Err
	if task.Status == scheduler.StatusCompleted {
		if report, ok := task.Result.(*Report); ok {
			rec.Result = report
		}
	}
	now := time.Now()
	rec.CompletedAt = &now

	delete(m.active, researchID)
	m.completed[researchID] = rec
	delete(m.dispatched, researchID)
	if m.permits[researchID] {
		delete(m.permits, researchID)
		m.sem.Release(1)
	}
	if done, ok := m.doneByID[researchID]; ok {
		close(done)
	}
	topic := rec.Topic
	status := rec.Status
	m.mu.Unlock()

	eventType := events.EventTypeResearchCompleted
	switch status {
	case scheduler.StatusFailed:
		eventType = events.EventTypeResearchFailed
	case scheduler.StatusCancelled:
		eventType = events.EventTypeResearchCancelled
	}
	m.bus.Publish(events.TopicResearch, events.ResearchEvent{
		Type:       eventType,
		ResearchID: researchID,
		TaskID:     taskID,
		Topic:      topic,
		Timestamp:  now,
	})
	m.logger.Info("research finished", "research_id", researchID, "status", status.String())
}
