// Package audit writes the interaction log in the background so that slow
// or failing writes never delay a reply.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/store"
)

// maxContent bounds the stored content of one interaction.
const maxContent = 2000

// Sink persists interactions.
type Sink interface {
	AppendInteraction(ctx context.Context, e *store.Interaction) error
}

// Recorder queues interactions for a single writer goroutine. When the
// queue is full new records are dropped and counted.
type Recorder struct {
	sink    Sink
	queue   chan store.Interaction
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts the writer goroutine.
func NewRecorder(sink Sink, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		sink:  sink,
		queue: make(chan store.Interaction, queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.AppendInteraction(ctx, &e); err != nil {
			L_warn("audit: failed to write interaction", "address", e.Address, "direction", e.Direction, "error", err)
		}
		cancel()
	}
}

// record enqueues e without blocking.
func (r *Recorder) record(e store.Interaction) {
	if len(e.Content) > maxContent {
		e.Content = e.Content[:maxContent]
	}
	defer func() {
		// enqueue after Close
		if recover() != nil {
			r.dropped.Add(1)
		}
	}()
	select {
	case r.queue <- e:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			L_warn("audit: queue full, dropping interactions", "dropped", n)
		}
	}
}

// Incoming records an inbound event.
func (r *Recorder) Incoming(in messaging.Inbound) {
	r.record(store.Interaction{
		Address:   in.Address.Key(),
		Channel:   string(in.Address.Kind),
		Direction: store.DirectionIncoming,
		Kind:      string(in.Kind),
		Content:   in.Content(),
		OK:        true,
		CreatedAt: time.Now(),
	})
}

// Outgoing records a send; it matches messaging.SendObserver.
func (r *Recorder) Outgoing(addr messaging.Address, msg messaging.Message, res messaging.Result) {
	content := messaging.Summary(msg)
	if !res.OK && res.Diagnostic != "" {
		content += "\n[error] " + res.Diagnostic
	}
	r.record(store.Interaction{
		Address:   addr.Key(),
		Channel:   string(addr.Kind),
		Direction: store.DirectionOutgoing,
		Kind:      messaging.KindOf(msg),
		Content:   content,
		OK:        res.OK,
		CreatedAt: time.Now(),
	})
}

// Dropped returns how many records were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting records and waits for the queue to drain.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	<-r.done
}
