package persistence

import (
	"context"
	"log/slog"

	"github.com/deepscout/deepscout/internal/events"
	"github.com/deepscout/deepscout/internal/research"
	"github.com/deepscout/deepscout/internal/scheduler"
)

// Recorder watches the event bus and snapshots terminal tasks and finished
// research runs into the store. Snapshots are best-effort: write failures are
// logged and the scheduler is never slowed or blocked.
type Recorder struct {
	store    *Store
	tasks    *scheduler.TaskManager
	research *research.Manager
	bus      *events.Bus
	logger   *slog.Logger
	done     chan struct{}
}

// NewRecorder creates a recorder over the given store. The research manager
// may be nil when only task snapshots are wanted.
func NewRecorder(store *Store, tasks *scheduler.TaskManager, rm *research.Manager, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:    store,
		tasks:    tasks,
		research: rm,
		bus:      tasks.Bus(),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start subscribes to the bus and records until ctx ends or the bus closes.
func (r *Recorder) Start(ctx context.Context) {
	sub := r.bus.SubscribeAll(256)
	go func() {
		defer close(r.done)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				r.record(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Done is closed when the recorder loop exits.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) record(ctx context.Context, ev events.Event) {
	switch ev.EventType() {
	case events.EventTypeTaskCompleted, events.EventTypeTaskFailed, events.EventTypeTaskCancelled:
		t, err := r.tasks.GetTask(ev.SubjectID())
		if err != nil {
			r.logger.Warn("snapshot lookup failed", "task_id", ev.SubjectID(), "error", err)
			return
		}
		if err := r.store.SaveTask(ctx, t); err != nil {
			r.logger.Warn("task snapshot failed", "task_id", t.ID, "error", err)
		}
	case events.EventTypeResearchCompleted, events.EventTypeResearchFailed, events.EventTypeResearchCancelled:
		if r.research == nil {
			return
		}
		rec, err := r.research.Get(ev.SubjectID())
		if err != nil {
			r.logger.Warn("snapshot lookup failed", "research_id", ev.SubjectID(), "error", err)
			return
		}
		if err := r.store.SaveResearch(ctx, rec); err != nil {
			r.logger.Warn("research snapshot failed", "research_id", rec.ResearchID, "error", err)
		}
	}
}
