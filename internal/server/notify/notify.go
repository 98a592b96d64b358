// Package notify dispatches fire-and-forget side effects after downloads and
// deliveries: analytics events, owner webhooks, sender emails. Every sink
// failure is logged and swallowed; a recipient who already got their bytes
// must never see an error because a notification failed.
package notify

import (
	"context"
	"sync"
	"time"

	"driftsend/internal/logging"
)

// Event describes something notifiable that happened to a transfer.
type Event struct {
	Type        string    `json:"type"`
	PublicID    string    `json:"public_id"`
	Title       string    `json:"title"`
	FileCount   int       `json:"file_count"`
	TotalBytes  int64     `json:"total_bytes"`
	SenderEmail string    `json:"-"`
	WebhookURL  string    `json:"-"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	EventTransferCreated    = "transfer.created"
	EventTransferDownloaded = "transfer.downloaded"
	EventTransferDeleted    = "transfer.deleted"
)

// Sink delivers one event to one destination.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Dispatcher fans an event out to all sinks asynchronously.
type Dispatcher struct {
	sinks   []Sink
	log     logging.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(log logging.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log, timeout: timeout}
}

// Dispatch sends the event to every sink in the background and returns
// immediately. The spawned work detaches from the request context so the
// response finishing does not cancel delivery.
func (d *Dispatcher) Dispatch(e Event) {
	for _, s := range d.sinks {
		d.wg.Add(1)
		go func(s Sink) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := s.Send(ctx, e); err != nil {
				d.log.Warn(ctx, "notification sink failed",
					"type", e.Type, "public_id", e.PublicID, "error", err)
			}
		}(s)
	}
}

// Wait blocks until in-flight notifications finish. Used on shutdown and in
// tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
