// Package notify delivers one-time codes to users. Delivery is best-effort
// and asynchronous: the core commits its state transition first, then hands
// the message to a dispatcher that retries out-of-band.
package notify

import (
	"context"
	"sync"
	"time"

	"sentra.org/internal/obs"
)

// Message is an outbound notification.
type Message struct {
	Destination string
	Subject     string
	Body        string
}

// Notifier sends a single message. Implementations may fail transiently;
// the dispatcher owns retries.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the structured log. Stands in for a real
// email/SMS provider in dev and tests.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	obs.Info("notification", map[string]any{
		"destination": msg.Destination,
		"subject":     msg.Subject,
	})
	return nil
}

// Dispatcher queues messages and delivers them with bounded retries.
// Enqueue never blocks the caller and never reports failure upstream.
type Dispatcher struct {
	notifier    Notifier
	queue       chan Message
	maxAttempts int
	backoff     time.Duration
	sendTimeout time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewDispatcher starts a dispatcher with a single delivery worker.
func NewDispatcher(n Notifier) *Dispatcher {
	d := &Dispatcher{
		notifier:    n,
		queue:       make(chan Message, 1024),
		maxAttempts: 3,
		backoff:     2 * time.Second,
		sendTimeout: 5 * time.Second,
		stop:        make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue hands a message to the delivery worker. Drops with a log entry if
// the queue is full rather than blocking a committed core transition.
func (d *Dispatcher) Enqueue(msg Message) {
	select {
	case d.queue <- msg:
	default:
		obs.Error("notification queue full, dropping", map[string]any{
			"destination": msg.Destination,
			"subject":     msg.Subject,
		})
	}
}

// Close stops the worker after draining in-flight deliveries.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(msg)
		case <-d.stop:
			for {
				select {
				case msg := <-d.queue:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := d.notifier.Send(ctx, msg)
		cancel()
		if err == nil {
			return
		}
		obs.Warn("notification delivery failed", map[string]any{
			"destination": msg.Destination,
			"attempt":     attempt,
			"error":       err.Error(),
		})
		if attempt < d.maxAttempts {
			select {
			case <-time.After(d.backoff * time.Duration(attempt)):
			case <-d.stop:
			}
		}
	}
	obs.Error("notification dropped after retries", map[string]any{
		"destination": msg.Destination,
		"subject":     msg.Subject,
	})
}
