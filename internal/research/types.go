// Package research coordinates research workflows on top of the task
// scheduler: each research run is wrapped as a task, gated by a separate,
// research-specific concurrency ceiling, and tracked in active/completed
// record maps driven by task lifecycle events.
package research

import (
	"fmt"
	"strings"
	"time"

	"github.com/deepscout/deepscout/internal/scheduler"
)

// Mode selects the workflow strategy for a research run.
type Mode int

const (
	ModeLinear     Mode = iota // Search, outline, synthesize section by section
	ModeGraph                  // Iterative deepening with follow-up queries
	ModeMultiAgent             // Parallel sub-topic researchers, merged report
)

// String returns the lowercase name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLinear:
		return "linear"
	case ModeGraph:
		return "graph"
	case ModeMultiAgent:
		return "multi_agent"
	}
	return "unknown"
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear":
		return ModeLinear, nil
	case "graph":
		return ModeGraph, nil
	case "multi_agent", "multiagent", "multi-agent":
		return ModeMultiAgent, nil
	}
	return 0, fmt.Errorf("unknown research mode %q", s)
}

// Config tunes a workflow run. Zero values fall back to sensible defaults
// inside the strategies.
type Config struct {
	SectionCount  int // Report sections for the linear strategy (default 3)
	Depth         int // Deepening rounds for the graph strategy (default 2)
	SubAgents     int // Concurrent sub-researchers for multi-agent (default 3)
	SearchResults int // Results requested per search call (default 5)
}

// Section is one titled portion of a report.
type Section struct {
	Title   string
	Content string
	Sources []string
}

// Report is the structured output of a research workflow.
type Report struct {
	Topic       string
	Summary     string
	Sections    []Section
	Sources     []string
	Metadata    map[string]string
	GeneratedAt time.Time
}

// Record tracks one research run and mirrors its backing task's status.
// Records live in the manager's active set until the backing task reaches a
// terminal state, then move to the completed set exactly once.
type Record struct {
	ResearchID string
	TaskID     string
	Topic      string
	Mode       Mode
	Config     Config
	Status     scheduler.Status
	Result     *Report
	Err        error

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// clone returns a copy safe to hand to callers. The report pointer is shared;
// reports are never mutated after the workflow returns them.
func (r *Record) clone() *Record {
	cp := *r
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}
