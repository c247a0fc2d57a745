package scheduler

import "testing"

// TestQueuePriorityOrder verifies that higher-priority tasks pop first.
func TestQueuePriorityOrder(t *testing.T) {
	q := newDispatchQueue()
	q.push(&Task{ID: "low", Priority: PriorityLow, seq: 0})
	q.push(&Task{ID: "critical", Priority: PriorityCritical, seq: 1})
	q.push(&Task{ID: "normal", Priority: PriorityNormal, seq: 2})
	q.push(&Task{ID: "high", Priority: PriorityHigh, seq: 3})

	want := []string{"critical", "high", "normal", "low"}
	for i, id := range want {
		got := q.pop()
		if got == nil {
			t.Fatalf("pop() %d = nil, want %q", i, id)
		}
		if got.ID != id {
			t.Errorf("pop() %d = %q, want %q", i, got.ID, id)
		}
	}
	if q.pop() != nil {
		t.Error("pop() on empty queue should return nil")
	}
}

// TestQueueFIFOWithinPriority verifies registration-order tie-breaking.
func TestQueueFIFOWithinPriority(t *testing.T) {
	q := newDispatchQueue()
	q.push(&Task{ID: "third", Priority: PriorityNormal, seq: 12})
	q.push(&Task{ID: "first", Priority: PriorityNormal, seq: 3})
	q.push(&Task{ID: "second", Priority: PriorityNormal, seq: 7})

	want := []string{"first", "second", "third"}
	for i, id := range want {
		got := q.pop()
		if got.ID != id {
			t.Errorf("pop() %d = %q, want %q", i, got.ID, id)
		}
	}
}

// TestQueueMixed verifies priority beats insertion order.
func TestQueueMixed(t *testing.T) {
	q := newDispatchQueue()
	q.push(&Task{ID: "old-low", Priority: PriorityLow, seq: 0})
	q.push(&Task{ID: "new-high", Priority: PriorityHigh, seq: 99})

	if got := q.pop(); got.ID != "new-high" {
		t.Errorf("pop() = %q, want new-high", got.ID)
	}
	if got := q.pop(); got.ID != "old-low" {
		t.Errorf("pop() = %q, want old-low", got.ID)
	}
	if q.len() != 0 {
		t.Errorf("len() = %d, want 0", q.len())
	}
}
