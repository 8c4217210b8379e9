package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []Message
	failures int
}

func (r *recordingNotifier) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("transient failure")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingNotifier) delivered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// newTestDispatcher builds a dispatcher with a short retry backoff so the
// failure tests run fast.
func newTestDispatcher(n Notifier) *Dispatcher {
	d := &Dispatcher{
		notifier:    n,
		queue:       make(chan Message, 64),
		maxAttempts: 3,
		backoff:     time.Millisecond,
		sendTimeout: time.Second,
		stop:        make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func TestDispatcherDelivers(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(n)
	d.Enqueue(Message{Destination: "a@example.com", Subject: "hi"})
	d.Close()

	if n.delivered() != 1 {
		t.Fatalf("delivered = %d", n.delivered())
	}
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	n := &recordingNotifier{failures: 2}
	d := newTestDispatcher(n)
	d.Enqueue(Message{Destination: "a@example.com", Subject: "hi"})
	d.Close()

	if n.delivered() != 1 {
		t.Fatalf("delivered = %d after retries", n.delivered())
	}
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	n := &recordingNotifier{failures: 10}
	d := newTestDispatcher(n)
	d.Enqueue(Message{Destination: "a@example.com", Subject: "hi"})
	d.Close()

	if n.delivered() != 0 {
		t.Fatalf("delivered = %d, want 0", n.delivered())
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(n)
	for i := 0; i < 20; i++ {
		d.Enqueue(Message{Destination: "a@example.com"})
	}
	d.Close()

	if n.delivered() != 20 {
		t.Fatalf("delivered = %d, want 20", n.delivered())
	}
}
