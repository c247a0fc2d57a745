package events

import "time"

// Event is the base interface for all lifecycle events.
type Event interface {
	EventType() string
	SubjectID() string
	When() time.Time
}

// Topic constants.
const (
	TopicTask     = "task"
	TopicResearch = "research"
)

// Event type constants.
const (
	EventTypeTaskCreated   = "task.created"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeTaskProgress  = "task.progress"

	EventTypeResearchCreated   = "research.created"
	EventTypeResearchStarted   = "research.started"
	EventTypeResearchCompleted = "research.completed"
	EventTypeResearchFailed    = "research.failed"
	EventTypeResearchCancelled = "research.cancelled"
)

// TaskCreatedEvent is published when a task is registered.
type TaskCreatedEvent struct {
	ID        string
	Name      string
	Timestamp time.Time
}

func (e TaskCreatedEvent) EventType() string { return EventTypeTaskCreated }
func (e TaskCreatedEvent) SubjectID() string { return e.ID }
func (e TaskCreatedEvent) When() time.Time   { return e.Timestamp }

// TaskStartedEvent is published when a task begins execution.
type TaskStartedEvent struct {
	ID        string
	Name      string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) SubjectID() string { return e.ID }
func (e TaskStartedEvent) When() time.Time   { return e.Timestamp }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Name      string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) SubjectID() string { return e.ID }
func (e TaskCompletedEvent) When() time.Time   { return e.Timestamp }

// TaskFailedEvent is published when a task fails with its retries exhausted.
type TaskFailedEvent struct {
	ID        string
	Name      string
	Err       error
	Retries   int
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) SubjectID() string { return e.ID }
func (e TaskFailedEvent) When() time.Time   { return e.Timestamp }

// TaskCancelledEvent is published when a task is cancelled.
type TaskCancelledEvent struct {
	ID        string
	Name      string
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) SubjectID() string { return e.ID }
func (e TaskCancelledEvent) When() time.Time   { return e.Timestamp }

// TaskProgressEvent is published when running work reports progress.
type TaskProgressEvent struct {
	ID        string
	Fraction  float64
	Message   string
	Timestamp time.Time
}

func (e TaskProgressEvent) EventType() string { return EventTypeTaskProgress }
func (e TaskProgressEvent) SubjectID() string { return e.ID }
func (e TaskProgressEvent) When() time.Time   { return e.Timestamp }

// ResearchEvent covers the research lifecycle. One struct serves all five
// research event types; Type distinguishes them.
type ResearchEvent struct {
	Type       string
	ResearchID string
	TaskID     string
	Topic      string
	Timestamp  time.Time
}

func (e ResearchEvent) EventType() string { return e.Type }
func (e ResearchEvent) SubjectID() string { return e.ResearchID }
func (e ResearchEvent) When() time.Time   { return e.Timestamp }
