package conversation

import (
	"context"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

// maxBacklog bounds the events waiting for one address.
const maxBacklog = 64

type queued struct {
	ctx context.Context
	in  messaging.Inbound
}

// Enqueue hands an event to the worker of its address and returns at once.
// Events of one address are handled one at a time in the order they were
// enqueued; a worker exists only while its address has pending events.
func (e *Engine) Enqueue(ctx context.Context, in messaging.Inbound) {
	if in.Address.IsZero() {
		L_debug("conversation: dropping event without address", "kind", in.Kind)
		return
	}
	key := in.Address.Key()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		L_debug("conversation: stopping, event dropped", "from", key)
		return
	}

	q, running := e.queues[key]
	if len(q) >= maxBacklog {
		L_warn("conversation: backlog full, event dropped", "from", key, "pending", len(q))
		return
	}
	e.queues[key] = append(q, queued{ctx: ctx, in: in})
	if !running {
		e.active.Add(1)
		go e.work(key)
	}
}

// work handles the events of key until its queue is empty.
func (e *Engine) work(key string) {
	defer e.active.Done()
	for {
		e.mu.Lock()
		q := e.queues[key]
		if len(q) == 0 {
			delete(e.queues, key)
			e.mu.Unlock()
			return
		}
		next := q[0]
		q[0] = queued{}
		e.queues[key] = q[1:]
		e.mu.Unlock()

		e.handle(next.ctx, next.in)
	}
}

// Backlog returns the number of addresses with events queued or running.
func (e *Engine) Backlog() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queues)
}
