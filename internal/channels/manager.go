// Package channels owns the lifecycle of the chat channels and wires each
// running channel into the message router.
package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roelfdiedericks/reportbot/internal/channels/types"
	"github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

// ManagedChannel is re-exported from types for convenience
type ManagedChannel = types.ManagedChannel

// ChannelStatus is re-exported from types for convenience
type ChannelStatus = types.ChannelStatus

// InboundHandler is re-exported from types for convenience
type InboundHandler = types.InboundHandler

// Factory builds a channel that reports its inbound events to handler.
type Factory func(handler InboundHandler) (ManagedChannel, error)

const (
	defaultRetryBackoff = 5 * time.Second
	defaultMaxBackoff   = 5 * time.Minute
)

// Manager owns the lifecycle of all communication channels
type Manager struct {
	router  *messaging.Router
	handler InboundHandler

	factories map[string]Factory
	order     []string

	channels map[string]ManagedChannel
	retrying map[string]context.CancelFunc
	mu       sync.RWMutex

	retryBackoff time.Duration
	maxBackoff   time.Duration
}

// NewManager creates a new channel manager. Running channels are registered
// with router and deliver inbound events to handler.
func NewManager(router *messaging.Router, handler InboundHandler) *Manager {
	return &Manager{
		router:       router,
		handler:      handler,
		factories:    make(map[string]Factory),
		channels:     make(map[string]ManagedChannel),
		retrying:     make(map[string]context.CancelFunc),
		retryBackoff: defaultRetryBackoff,
		maxBackoff:   defaultMaxBackoff,
	}
}

// Add registers a channel to be started by StartAll.
func (m *Manager) Add(name string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.factories[name]; !exists {
		m.order = append(m.order, name)
	}
	m.factories[name] = factory
}

// StartAll starts every added channel. A channel that fails to start is
// retried in the background with exponential backoff; StartAll itself
// only fails when no channel was added.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	if len(names) == 0 {
		return fmt.Errorf("no channels enabled")
	}

	for _, name := range names {
		if err := m.start(ctx, name); err != nil {
			logging.L_warn("channels: initial start failed, will retry in background", "channel", name, "error", err)
			m.startRetry(ctx, name)
		}
	}
	return nil
}

// start creates, starts and registers one channel
func (m *Manager) start(ctx context.Context, name string) error {
	m.mu.RLock()
	factory := m.factories[name]
	m.mu.RUnlock()
	if factory == nil {
		return fmt.Errorf("unknown channel %q", name)
	}

	ch, err := factory(m.handler)
	if err != nil {
		return err
	}
	if err := ch.Start(ctx); err != nil {
		_ = ch.Stop()
		return err
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = ch.Stop()
		return ctx.Err()
	}
	m.channels[name] = ch
	m.router.Register(ch)
	m.mu.Unlock()

	logging.L_info("channels: ready and listening", "channel", name, "kind", ch.Kind())
	return nil
}

// startRetry starts background retry for a channel connection
func (m *Manager) startRetry(ctx context.Context, name string) {
	m.mu.Lock()
	if _, busy := m.retrying[name]; busy {
		m.mu.Unlock()
		return
	}
	retryCtx, cancel := context.WithCancel(ctx)
	m.retrying[name] = cancel
	backoff := m.retryBackoff
	maxBackoff := m.maxBackoff
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.retrying, name)
			m.mu.Unlock()
		}()

		attempt := 1
		for {
			select {
			case <-retryCtx.Done():
				logging.L_info("channels: shutdown requested, stopping retry", "channel", name)
				return
			case <-time.After(backoff):
			}

			logging.L_info("channels: retrying connection", "channel", name, "attempt", attempt, "backoff", backoff)

			if err := m.start(retryCtx, name); err != nil {
				logging.L_warn("channels: connection failed", "channel", name, "error", err, "nextRetry", backoff)
				attempt++
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			logging.L_info("channels: ready after retry", "channel", name, "attempts", attempt)
			return
		}
	}()
}

// StopAll gracefully shuts down all running channels
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, cancel := range m.retrying {
		logging.L_debug("channels: cancelling retry", "channel", name)
		cancel()
	}

	for name, ch := range m.channels {
		logging.L_debug("channels: stopping", "channel", name)
		if err := ch.Stop(); err != nil {
			logging.L_error("channels: stop failed", "channel", name, "error", err)
		}
		m.router.Unregister(ch.Kind())
	}
	m.channels = make(map[string]ManagedChannel)
}

// Get returns a channel by name, or nil if not running
func (m *Manager) Get(name string) ManagedChannel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// Statuses returns the status of every added channel.
// Channels still waiting for a retry report Running=false.
func (m *Manager) Statuses() map[string]ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ChannelStatus, len(m.order))
	for _, name := range m.order {
		if ch, ok := m.channels[name]; ok {
			out[name] = ch.Status()
			continue
		}
		out[name] = ChannelStatus{}
	}
	return out
}

// Names returns the added channel names in a stable order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := append([]string(nil), m.order...)
	sort.Strings(names)
	return names
}
