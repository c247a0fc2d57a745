package scheduler

import (
	"context"
	"time"
)

// Status represents the current state of a task.
type Status int

const (
	StatusPending   Status = iota // Registered, ready once a slot frees up
	StatusWaiting                 // Has unmet dependencies
	StatusRunning                 // Currently executing (includes retry waits)
	StatusCompleted               // Finished successfully
	StatusFailed                  // Finished with error after retries exhausted
	StatusCancelled               // Cancelled by caller or timeout policy
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusWaiting:
		return "waiting"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the status is final. Terminal tasks never
// transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority orders tasks contending for a free concurrency slot.
// It is only a tie-break between simultaneously eligible tasks; there is
// no preemption.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// ExecutorType selects the execution strategy for a task.
type ExecutorType int

const (
	ExecutorConcurrent ExecutorType = iota // Goroutine per task, for I/O-bound work (default)
	ExecutorSequential                     // Inline on the dispatching goroutine, deterministic
	ExecutorWorkerPool                     // Bounded pre-started pool, for CPU-bound work
)

// String returns the lowercase name of the executor type.
func (e ExecutorType) String() string {
	switch e {
	case ExecutorConcurrent:
		return "concurrent"
	case ExecutorSequential:
		return "sequential"
	case ExecutorWorkerPool:
		return "worker_pool"
	}
	return "unknown"
}

// WorkFunc is the deferred computation a task wraps. The scheduler treats it
// as opaque: it returns a result or an error, and is expected to observe ctx
// at blocking points so cancellation and timeouts can take effect.
type WorkFunc func(ctx context.Context) (any, error)

// TaskSpec describes a task to register. Zero-value retry/timeout fields fall
// back to the manager's configured defaults.
type TaskSpec struct {
	ID          string // Optional caller-supplied id; assigned if empty
	Name        string
	Description string
	Tags        []string
	Metadata    map[string]string
	Work        WorkFunc
	Priority    Priority
	DependsOn   []string // Task ids that must complete before this task runs
	MaxRetries  int
	RetryDelay  time.Duration // Base delay, doubled on each retry
	Timeout     time.Duration // Wall-clock limit per attempt, 0 means none
	Executor    ExecutorType
}

// Task is one schedulable unit of work plus its scheduling metadata.
// The manager owns all Task records; query methods return copies, so callers
// never observe a half-updated task.
type Task struct {
	ID          string
	Name        string
	Description string
	Tags        []string
	Metadata    map[string]string

	Priority   Priority
	DependsOn  []string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	Executor   ExecutorType

	Status     Status
	Result     any
	Err        error
	RetryCount int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Progress        float64
	ProgressMessage string

	work      WorkFunc
	seq       int  // Registration order, FIFO tie-break within a priority
	scheduled bool // Execution has been requested
}

// Duration returns how long the task ran, or how long it has been running.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.CompletedAt == nil {
		return time.Since(*t.StartedAt)
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// clone returns a copy safe to hand to callers. The work func and result are
// shared; everything the manager mutates is copied.
func (t *Task) clone() *Task {
	cp := *t
	if t.Tags != nil {
		cp.Tags = append([]string(nil), t.Tags...)
	}
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

// progressFunc reports progress for the currently running task.
type progressFunc func(fraction float64, message string)

type progressKey struct{}

// withProgress injects a progress reporter into the context handed to a
// task's work.
func withProgress(ctx context.Context, fn progressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress lets running work publish its own progress. It is a no-op
// outside a task context, so work functions can call it unconditionally.
func ReportProgress(ctx context.Context, fraction float64, message string) {
	if fn, ok := ctx.Value(progressKey{}).(progressFunc); ok {
		fn(fraction, message)
	}
}
