package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("job.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindJobCreated, Payload: "j1"})

	select {
	case evt := <-ch:
		if evt.Kind != KindJobCreated {
			t.Errorf("got kind %q, want %s", evt.Kind, KindJobCreated)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Publish must stamp events")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("job.progress", 10)
	defer unsub()

	b.Publish(Event{Kind: KindJobCreated})
	b.Publish(Event{Kind: KindJobProgress, Payload: JobProgress{JobID: "j1", Messages: 3}})

	select {
	case evt := <-ch:
		if evt.Kind != KindJobProgress {
			t.Errorf("got kind %q, want %s", evt.Kind, KindJobProgress)
		}
		p, ok := evt.Payload.(JobProgress)
		if !ok {
			t.Fatalf("payload type = %T, want JobProgress", evt.Payload)
		}
		if p.Messages != 3 {
			t.Errorf("Messages = %d, want 3", p.Messages)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the created event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("job.", 10)
	unsub()

	b.Publish(Event{Kind: KindJobStatusChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("job.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "job.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "job.two"})

	evt := <-ch
	if evt.Kind != "job.one" {
		t.Errorf("got %q, want job.one", evt.Kind)
	}
}
