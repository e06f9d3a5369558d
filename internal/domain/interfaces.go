package domain

import (
	"context"
	"time"
)

// Monitor defines the interface for monitoring media player events
// Implementations should handle D-Bus/MPRIS communication
type Monitor interface {
	// Start connects to the player bus and begins emitting events.
	// It returns once monitoring is running; failing to reach the bus is an error.
	Start(ctx context.Context) error

	// Stop gracefully stops the monitor and closes the events channel
	Stop(ctx context.Context) error

	// Events returns a read-only channel that emits PlayerEvent
	// whenever a player appears, vanishes or changes state
	Events() <-chan PlayerEvent
}

// StatusService defines the interface for the remote presence-status store
//
//go:generate mockgen -destination=mocks/status_service_mock.go -package=mocks github.com/genricoloni/slobbler/internal/domain StatusService
type StatusService interface {
	// Read returns the status currently set on the remote service
	Read(ctx context.Context) (RemoteStatus, error)

	// Write replaces the remote status; a zero StatusUpdate clears it
	Write(ctx context.Context, update StatusUpdate) error
}

// StateStore persists the emoji this daemon last wrote so that its own
// status can still be recognised after a restart
type StateStore interface {
	// LastEmoji returns the persisted emoji, if any
	LastEmoji() (string, bool)

	// SaveLastEmoji persists the emoji of a successful write
	SaveLastEmoji(emoji string) error

	// ClearLastEmoji forgets the persisted emoji after a successful clear
	ClearLastEmoji() error
}

// Config defines the interface for engine-level configuration
type Config interface {
	// GetDebounce returns the quiet period before evaluating player state
	GetDebounce() time.Duration

	// GetClearOnExit reports whether our status should be cleared on shutdown
	GetClearOnExit() bool
}
