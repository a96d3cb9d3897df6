package events

import (
	"testing"
	"time"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	a := b.Subscribe(4)
	c := b.Subscribe(4)

	b.Publish(Event{Type: TaskSubmitted, TaskID: "t1"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != TaskSubmitted || ev.TaskID != "t1" {
				t.Errorf("got %+v, want task_submitted for t1", ev)
			}
			if ev.Timestamp.IsZero() {
				t.Error("Publish did not stamp the event")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := NewBus()
	b.Subscribe(1) // nobody drains this

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: SubtaskProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if b.Dropped() != 99 {
		t.Errorf("Dropped() = %d, want 99", b.Dropped())
	}
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(1)
	b.Close()
	b.Close() // idempotent

	if _, open := <-ch; open {
		t.Error("subscriber channel not closed")
	}
	b.Publish(Event{Type: TaskSubmitted}) // no panic after close
}
