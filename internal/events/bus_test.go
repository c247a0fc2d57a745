package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(TopicTask, 4)
	bus.Publish(TopicTask, TaskCreatedEvent{ID: "t1", Timestamp: time.Now()})

	select {
	case ev := <-sub:
		if ev.EventType() != EventTypeTaskCreated {
			t.Errorf("event type = %q, want %q", ev.EventType(), EventTypeTaskCreated)
		}
		if ev.SubjectID() != "t1" {
			t.Errorf("subject = %q, want t1", ev.SubjectID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskSub := bus.Subscribe(TopicTask, 4)
	researchSub := bus.Subscribe(TopicResearch, 4)

	bus.Publish(TopicResearch, ResearchEvent{Type: EventTypeResearchCreated, ResearchID: "r1", Timestamp: time.Now()})

	select {
	case ev := <-researchSub:
		if ev.SubjectID() != "r1" {
			t.Errorf("subject = %q, want r1", ev.SubjectID())
		}
	case <-time.After(time.Second):
		t.Fatal("research subscriber got nothing")
	}

	select {
	case ev := <-taskSub:
		t.Errorf("task subscriber received %q, want nothing", ev.EventType())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(4)
	bus.Publish(TopicTask, TaskStartedEvent{ID: "t1", Timestamp: time.Now()})
	bus.Publish(TopicResearch, ResearchEvent{Type: EventTypeResearchStarted, ResearchID: "r1", Timestamp: time.Now()})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			got[ev.EventType()] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if !got[EventTypeTaskStarted] || !got[EventTypeResearchStarted] {
		t.Errorf("received %v, want both task and research events", got)
	}
}

func TestBusFullBufferDropsEvent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(TopicTask, 1)
	bus.Publish(TopicTask, TaskCreatedEvent{ID: "kept", Timestamp: time.Now()})
	bus.Publish(TopicTask, TaskCreatedEvent{ID: "dropped", Timestamp: time.Now()})

	ev := <-sub
	if ev.SubjectID() != "kept" {
		t.Errorf("subject = %q, want kept", ev.SubjectID())
	}
	select {
	case ev := <-sub:
		t.Errorf("received %q, want drop", ev.SubjectID())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(TopicTask, 4)

	bus.Close()
	bus.Close() // idempotent

	if _, ok := <-sub; ok {
		t.Error("subscriber channel still open after Close")
	}

	// Publishing and subscribing after close must not panic.
	bus.Publish(TopicTask, TaskCreatedEvent{ID: "late", Timestamp: time.Now()})
	late := bus.Subscribe(TopicTask, 4)
	if _, ok := <-late; ok {
		t.Error("late subscriber channel should be closed")
	}
}
