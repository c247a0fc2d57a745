package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to the event type to form the NATS subject,
// e.g. "deepscout.events.task.completed".
const SubjectPrefix = "deepscout.events."

// envelope is the wire form of a forwarded event.
type envelope struct {
	Type      string `json:"type"`
	SubjectID string `json:"subject_id"`
	Timestamp string `json:"timestamp"`
	Payload   Event  `json:"payload"`
}

// Forwarder republishes bus events onto NATS subjects so external dashboards
// can observe the scheduler without linking against it. Delivery is
// fire-and-forget both ways: a slow forwarder misses bus events, and NATS
// publish errors are logged, never surfaced to the scheduler.
type Forwarder struct {
	nc     *nats.Conn
	bus    *Bus
	logger *slog.Logger
	done   chan struct{}
}

// NewForwarder creates a forwarder over an established NATS connection.
func NewForwarder(nc *nats.Conn, bus *Bus, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		nc:     nc,
		bus:    bus,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start subscribes to all bus topics and forwards until ctx ends or the bus
// closes.
func (f *Forwarder) Start(ctx context.Context) {
	sub := f.bus.SubscribeAll(256)
	go func() {
		defer close(f.done)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				f.forward(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Done is closed when the forwarder loop exits.
func (f *Forwarder) Done() <-chan struct{} { return f.done }

func (f *Forwarder) forward(ev Event) {
	data, err := json.Marshal(envelope{
		Type:      ev.EventType(),
		SubjectID: ev.SubjectID(),
		Timestamp: ev.When().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload:   ev,
	})
	if err != nil {
		f.logger.Error("marshaling event", "type", ev.EventType(), "error", err)
		return
	}
	if err := f.nc.Publish(SubjectPrefix+ev.EventType(), data); err != nil {
		f.logger.Error("forwarding event", "type", ev.EventType(), "error", err)
	}
}
