// Package types defines shared types for the channels package.
// This is a separate package to avoid circular imports between
// channels/manager.go and the individual channel implementations.
package types

import (
	"context"
	"time"

	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

// ChannelStatus represents the current state of a managed channel
type ChannelStatus struct {
	Running   bool      // Whether the channel is currently running
	Connected bool      // For channels with external connections
	Error     error     // Last error if any
	StartedAt time.Time // When the channel was started
	Info      string    // Human-readable status info (e.g., "@botname", a phone number)
}

// InboundHandler receives every normalized event a channel produces.
// Channels call it from their receive goroutine in arrival order, so it must
// queue the event and return without blocking.
type InboundHandler func(ctx context.Context, in messaging.Inbound)

// ManagedChannel defines lifecycle management for channels.
// Every channel is also the messaging.Backend for its kind.
type ManagedChannel interface {
	messaging.Backend

	// Name returns the channel's identifier
	Name() string

	// Start connects and begins delivering inbound events
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel
	Stop() error

	// Status returns the current channel status
	Status() ChannelStatus
}
