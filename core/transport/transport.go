package transport

import (
	"context"
	"errors"
	"time"

	"github.com/coopertaxi/dispatchd/core/model"
)

var (
	// ErrDeliveryFailed is returned when the gateway reported a failed
	// delivery. It is transient and safe to retry.
	ErrDeliveryFailed = errors.New("message delivery failed")

	// ErrSessionCorrupted is returned when the gateway reported a session
	// key desynchronization for the recipient. The session must be repaired
	// before the next attempt.
	ErrSessionCorrupted = errors.New("recipient session corrupted")

	// ErrNotConnected is returned when the transport link is down.
	ErrNotConnected = errors.New("transport not connected")
)

// PresenceState mirrors the chat provider's presence values.
type PresenceState string

const (
	PresenceComposing PresenceState = "composing"
	PresencePaused    PresenceState = "paused"
)

// Message is an inbound chat message from a requester or driver.
type Message struct {
	From        string
	PushName    string
	Body        string
	Coordinates *model.Coordinates
	ReceivedAt  time.Time
}

// Sender delivers outbound messages to a chat identity. Sends may fail
// transiently; retry policy belongs to the caller.
type Sender interface {
	Send(ctx context.Context, identity, body string) error
	SendLocation(ctx context.Context, identity string, c model.Coordinates, label string) error
	PresenceUpdate(ctx context.Context, identity string, state PresenceState) error

	// RepairSession asks the gateway to re-sync the session keys for the
	// identity. Called after ErrSessionCorrupted, before the next retry.
	RepairSession(ctx context.Context, identity string) error
}

// Receiver exposes the inbound message stream.
type Receiver interface {
	Messages() <-chan Message
}

// Health reports transport liveness and allows a bounded reconnect.
type Health interface {
	Connected() bool
	Reconnect(ctx context.Context) error
}

// Bridge is the full transport surface the service is wired with.
type Bridge interface {
	Sender
	Receiver
	Health
	Close()
}
