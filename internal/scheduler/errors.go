package scheduler

import "errors"

var (
	// ErrUnknownDependency is returned at registration when a task depends on
	// an id that is neither registered nor part of the same batch.
	ErrUnknownDependency = errors.New("dependency references unknown task")

	// ErrDependencyCycle is returned at registration when adding the task
	// would make the dependency graph cyclic.
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrDuplicateTask is returned when a caller-supplied id is already
	// registered.
	ErrDuplicateTask = errors.New("task id already registered")

	// ErrTaskNotFound is returned by operations on ids the registry does not
	// know.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNoWork is returned at registration when the spec carries no work
	// function.
	ErrNoWork = errors.New("task has no work function")

	// ErrTaskTimeout marks an attempt that exceeded the task's wall-clock
	// timeout. Timeouts are retried under the same policy as work errors.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrTaskCancelled marks a task cancelled by the caller. Cancellation is
	// terminal and never retried.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrManagerClosed is returned when the manager has been shut down.
	ErrManagerClosed = errors.New("task manager is shut down")

	// ErrInvalidProgress is returned when a progress update is outside [0,1].
	ErrInvalidProgress = errors.New("progress must be between 0 and 1")
)
