package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/deepscout/deepscout/internal/events"
)

// Config configures a TaskManager.
type Config struct {
	MaxConcurrentTasks int           // Global concurrency ceiling (default 10)
	WorkerPoolSize     int           // Workers backing the worker-pool strategy (default 4)
	DefaultMaxRetries  int           // Applied when a spec leaves MaxRetries zero
	DefaultRetryDelay  time.Duration // Applied when a spec leaves RetryDelay zero
	DefaultTimeout     time.Duration // Applied when a spec leaves Timeout zero; 0 means none
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 10,
		WorkerPoolSize:     4,
		DefaultMaxRetries:  3,
		DefaultRetryDelay:  time.Second,
	}
}

// TaskManager owns the task registry and drives execution: it validates
// dependencies at registration, re-evaluates readiness whenever a task
// completes, grants concurrency slots by priority then FIFO, dispatches to
// the executor strategy configured per task, and applies the retry, timeout,
// and cancellation policy. All registry mutation is serialized through one
// lock; callers only ever receive copies of tasks.
type TaskManager struct {
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.RWMutex
	graph     *depGraph
	queue     *dispatchQueue
	seq       int
	cancels   map[string]context.CancelFunc
	done      map[string]chan struct{}
	running   int
	durations []time.Duration

	sem       *semaphore.Weighted
	executors map[ExecutorType]Executor
	notify    chan struct{}
	runCtx    context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a TaskManager and starts its dispatcher. A nil bus gets an
// internal one (reachable via Bus); a nil logger falls back to slog.Default.
func New(cfg Config, bus *events.Bus, logger *slog.Logger) *TaskManager {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 10
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, stop := context.WithCancel(context.Background())
	m := &TaskManager{
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
		graph:   newDepGraph(),
		queue:   newDispatchQueue(),
		cancels: make(map[string]context.CancelFunc),
		done:    make(map[string]chan struct{}),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
		executors: map[ExecutorType]Executor{
			ExecutorSequential: SequentialExecutor{},
			ExecutorConcurrent: ConcurrentExecutor{},
			ExecutorWorkerPool: NewWorkerPoolExecutor(cfg.WorkerPoolSize),
		},
		notify: make(chan struct{}, 1),
		runCtx: runCtx,
		stop:   stop,
	}

	m.wg.Add(1)
	go m.dispatch()
	return m
}

// Bus returns the event bus the manager publishes lifecycle events on.
func (m *TaskManager) Bus() *events.Bus { return m.bus }

// Register validates and registers a single task, returning its id.
func (m *TaskManager) Register(spec TaskSpec) (string, error) {
	ids, err := m.RegisterBatch([]TaskSpec{spec})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// RegisterBatch registers several tasks atomically. Dependencies may
// reference ids already in the registry or ids of other tasks in the batch.
// Unknown dependencies and cycles are rejected synchronously and leave the
// registry untouched.
func (m *TaskManager) RegisterBatch(specs []TaskSpec) ([]string, error) {
	if m.runCtx.Err() != nil {
		return nil, ErrManagerClosed
	}

	batch := make([]*Task, 0, len(specs))
	for i := range specs {
		t, err := m.newTask(specs[i])
		if err != nil {
			return nil, err
		}
		batch = append(batch, t)
	}

	var created []events.Event
	m.mu.Lock()
	if err := m.graph.validate(batch); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	ids := make([]string, 0, len(batch))
	for _, t := range batch {
		t.seq = m.seq
		m.seq++
		m.graph.add(t)
		if m.graph.depsSatisfied(t) {
			t.Status = StatusPending
		} else {
			t.Status = StatusWaiting
		}
		m.done[t.ID] = make(chan struct{})
		ids = append(ids, t.ID)
		created = append(created, events.TaskCreatedEvent{ID: t.ID, Name: t.Name, Timestamp: t.CreatedAt})
	}
	m.mu.Unlock()

	for _, ev := range created {
		m.bus.Publish(events.TopicTask, ev)
	}
	return ids, nil
}

// newTask builds a Task from a spec, filling manager defaults. A negative
// MaxRetries disables retries explicitly.
func (m *TaskManager) newTask(spec TaskSpec) (*Task, error) {
	if spec.Work == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoWork, spec.Name)
	}

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	retries := spec.MaxRetries
	switch {
	case retries == 0:
		retries = m.cfg.DefaultMaxRetries
	case retries < 0:
		retries = 0
	}
	delay := spec.RetryDelay
	if delay == 0 {
		delay = m.cfg.DefaultRetryDelay
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = m.cfg.DefaultTimeout
	}

	return &Task{
		ID:          id,
		Name:        spec.Name,
		Description: spec.Description,
		Tags:        append([]string(nil), spec.Tags...),
		Metadata:    copyMetadata(spec.Metadata),
		Priority:    spec.Priority,
		DependsOn:   append([]string(nil), spec.DependsOn...),
		MaxRetries:  retries,
		RetryDelay:  delay,
		Timeout:     timeout,
		Executor:    spec.Executor,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
		work:        spec.Work,
	}, nil
}

func copyMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	cp := make(map[string]string, len(md))
	for k, v := range md {
		cp[k] = v
	}
	return cp
}

// Execute requests execution of a registered task and returns immediately.
// A task with unmet dependencies stays WAITING and is promoted automatically
// when its last dependency completes. Calling Execute on a terminal or
// already-scheduled task is a no-op.
func (m *TaskManager) Execute(id string) error {
	if m.runCtx.Err() != nil {
		return ErrManagerClosed
	}

	m.mu.Lock()
	t, ok := m.graph.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() || t.scheduled {
		m.mu.Unlock()
		return nil
	}
	t.scheduled = true
	ready := t.Status == StatusPending
	if ready {
		m.queue.push(t)
	}
	m.mu.Unlock()

	if ready {
		m.wake()
	}
	return nil
}

// WaitFor blocks until the task reaches a terminal state (or ctx ends) and
// returns a snapshot of it.
func (m *TaskManager) WaitFor(ctx context.Context, id string) (*Task, error) {
	m.mu.RLock()
	done, ok := m.done[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.GetTask(id)
}

// ExecuteAndWait dispatches the task and blocks until it is terminal.
func (m *TaskManager) ExecuteAndWait(ctx context.Context, id string) (*Task, error) {
	if err := m.Execute(id); err != nil {
		return nil, err
	}
	return m.WaitFor(ctx, id)
}

// Cancel cancels a pending, waiting, or running task. Running work is asked
// to stop cooperatively through its context. Returns false when the task is
// already terminal. Cancelling never cascades: dependents of a cancelled task
// stay blocked until the caller acts on them.
func (m *TaskManager) Cancel(id string) (bool, error) {
	m.mu.Lock()
	t, ok := m.graph.tasks[id]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() {
		m.mu.Unlock()
		return false, nil
	}
	if t.Status == StatusRunning {
		cancel := m.cancels[id]
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true, nil
	}

	// Pending or waiting: terminal immediately.
	now := time.Now()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	t.Err = ErrTaskCancelled
	if done, ok := m.done[id]; ok {
		close(done)
	}
	m.mu.Unlock()

	m.bus.Publish(events.TopicTask, events.TaskCancelledEvent{ID: t.ID, Name: t.Name, Timestamp: now})
	m.logger.Info("task cancelled", "task_id", id)
	return true, nil
}

// Shutdown stops the dispatcher, cancels running tasks, and waits for
// everything to drain or ctx to end.
func (m *TaskManager) Shutdown(ctx context.Context) error {
	m.stop()
	m.wake()

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	if pool, ok := m.executors[ExecutorWorkerPool].(*WorkerPoolExecutor); ok {
		pool.Close()
	}
	return nil
}

// dispatch grants concurrency slots to queued tasks, best priority first.
// It acquires a slot before picking a task so that the highest-priority task
// at grant time wins the slot.
func (m *TaskManager) dispatch() {
	defer m.wg.Done()
	for {
		if err := m.sem.Acquire(m.runCtx, 1); err != nil {
			return
		}
		t := m.nextQueued()
		if t == nil {
			m.sem.Release(1)
			return
		}
		m.wg.Add(1)
		go m.runTask(t)
	}
}

// nextQueued pops the best queued task, waiting for one if the queue is
// empty. Returns nil on shutdown. Tasks cancelled while queued are skipped.
func (m *TaskManager) nextQueued() *Task {
	for {
		m.mu.Lock()
		for {
			t := m.queue.pop()
			if t == nil {
				break
			}
			if t.Status.Terminal() {
				continue
			}
			m.mu.Unlock()
			return t
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-m.runCtx.Done():
			return nil
		}
	}
}

func (m *TaskManager) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// runTask drives one task from RUNNING to a terminal state, applying the
// per-attempt timeout and the exponential retry schedule.
func (m *TaskManager) runTask(t *Task) {
	defer m.wg.Done()
	defer m.sem.Release(1)

	m.mu.Lock()
	if t.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	t.Status = StatusRunning
	t.StartedAt = &now
	m.running++
	taskCtx, cancel := context.WithCancel(m.runCtx)
	m.cancels[t.ID] = cancel
	exec := m.executors[t.Executor]
	work := t.work
	m.mu.Unlock()

	m.bus.Publish(events.TopicTask, events.TaskStartedEvent{ID: t.ID, Name: t.Name, Timestamp: now})
	m.logger.Debug("task started", "task_id", t.ID, "name", t.Name, "executor", t.Executor.String())

	// Backoff schedule: delay, 2*delay, 4*delay, ... with no jitter, so the
	// wait before retry n is RetryDelay * 2^(n-1).
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.RetryDelay
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0
	policy.MaxInterval = time.Hour
	policy.MaxElapsedTime = 0
	policy.Reset()

	report := func(fraction float64, message string) {
		_ = m.UpdateProgress(t.ID, fraction, message)
	}

	for {
		attemptCtx := taskCtx
		cancelAttempt := func() {}
		if t.Timeout > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(taskCtx, t.Timeout)
		}
		result, err := exec.Run(withProgress(attemptCtx, report), work)
		cancelAttempt()

		if err == nil {
			m.finish(t, StatusCompleted, result, nil)
			return
		}

		// Caller cancellation (or shutdown) wins over everything else and is
		// never retried.
		if taskCtx.Err() != nil {
			m.finish(t, StatusCancelled, nil, ErrTaskCancelled)
			return
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTaskTimeout, t.Timeout)
		}

		m.mu.Lock()
		if t.RetryCount >= t.MaxRetries {
			m.mu.Unlock()
			m.finish(t, StatusFailed, nil, err)
			return
		}
		t.RetryCount++
		attempt := t.RetryCount
		m.mu.Unlock()

		wait := policy.NextBackOff()
		m.logger.Debug("retrying task", "task_id", t.ID, "attempt", attempt, "backoff", wait, "error", err)
		select {
		case <-taskCtx.Done():
			m.finish(t, StatusCancelled, nil, ErrTaskCancelled)
			return
		case <-time.After(wait):
		}
	}
}

// finish records a terminal state, releases bookkeeping, promotes dependents
// of a completed task, and publishes the matching lifecycle event.
func (m *TaskManager) finish(t *Task, status Status, result any, err error) {
	m.mu.Lock()
	if t.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	if t.Status == StatusRunning {
		m.running--
	}
	t.Status = status
	t.CompletedAt = &now
	switch status {
	case StatusCompleted:
		t.Result = result
		t.Progress = 1.0
		m.durations = append(m.durations, t.Duration())
	default:
		t.Err = err
	}
	if cancel, ok := m.cancels[t.ID]; ok {
		delete(m.cancels, t.ID)
		defer cancel()
	}
	if done, ok := m.done[t.ID]; ok {
		close(done)
	}

	promoted := false
	if status == StatusCompleted {
		for _, depID := range m.graph.dependents[t.ID] {
			d, ok := m.graph.tasks[depID]
			if !ok || d.Status != StatusWaiting {
				continue
			}
			if m.graph.depsSatisfied(d) {
				d.Status = StatusPending
				if d.scheduled {
					m.queue.push(d)
					promoted = true
				}
			}
		}
	}
	m.mu.Unlock()

	if promoted {
		m.wake()
	}

	switch status {
	case StatusCompleted:
		m.bus.Publish(events.TopicTask, events.TaskCompletedEvent{ID: t.ID, Name: t.Name, Duration: now.Sub(*t.StartedAt), Timestamp: now})
		m.logger.Info("task completed", "task_id", t.ID, "duration", now.Sub(*t.StartedAt))
	case StatusFailed:
		m.bus.Publish(events.TopicTask, events.TaskFailedEvent{ID: t.ID, Name: t.Name, Err: err, Retries: t.RetryCount, Timestamp: now})
		m.logger.Warn("task failed", "task_id", t.ID, "retries", t.RetryCount, "error", err)
	case StatusCancelled:
		m.bus.Publish(events.TopicTask, events.TaskCancelledEvent{ID: t.ID, Name: t.Name, Timestamp: now})
		m.logger.Info("task cancelled", "task_id", t.ID)
	}
}

// GetTask returns a copy of the task.
func (m *TaskManager) GetTask(id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.graph.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	return t.clone(), nil
}

// Status returns the task's current status.
func (m *TaskManager) Status(id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.graph.tasks[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	return t.Status, nil
}

// ResultOf returns the task's result. A failed or cancelled task yields its
// recorded error; a task that is not yet terminal yields nil, nil.
func (m *TaskManager) ResultOf(id string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.graph.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	if t.Status == StatusFailed || t.Status == StatusCancelled {
		return nil, t.Err
	}
	return t.Result, nil
}

// ErrorOf returns the task's recorded error, nil if it has none.
func (m *TaskManager) ErrorOf(id string) (error, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.graph.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	return t.Err, nil
}

// Tasks returns copies of every registered task.
func (m *TaskManager) Tasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Task, 0, len(m.graph.tasks))
	for _, t := range m.graph.tasks {
		out = append(out, t.clone())
	}
	return out
}

// TasksByStatus returns copies of every task in the given status.
func (m *TaskManager) TasksByStatus(status Status) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Task
	for _, t := range m.graph.tasks {
		if t.Status == status {
			out = append(out, t.clone())
		}
	}
	return out
}

// UpdateProgress records progress for a task and publishes a progress event.
func (m *TaskManager) UpdateProgress(id string, fraction float64, message string) error {
	if fraction < 0 || fraction > 1 {
		return ErrInvalidProgress
	}

	m.mu.Lock()
	t, ok := m.graph.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	t.Progress = fraction
	t.ProgressMessage = message
	m.mu.Unlock()

	m.bus.Publish(events.TopicTask, events.TaskProgressEvent{ID: id, Fraction: fraction, Message: message, Timestamp: time.Now()})
	return nil
}

// Progress returns the task's progress fraction and message.
func (m *TaskManager) Progress(id string) (float64, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.graph.tasks[id]
	if !ok {
		return 0, "", fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	return t.Progress, t.ProgressMessage, nil
}
