// Package events defines the domain events published on the internal bus.
package events

import (
	"time"

	"github.com/coopertaxi/dispatchd/core/model"
)

// RequestCreated is published after a request enters the store as PENDING.
type RequestCreated struct {
	Request model.Request
}

// RequestCancelled is published after a request transitions to CANCELLED.
type RequestCancelled struct {
	RequestID string
	Reason    string
}

// RequestCompleted is published after a request transitions to COMPLETED.
type RequestCompleted struct {
	RequestID string
	DriverID  string
}

// AssignmentDecided is published for every accept attempt, winners and
// losers alike.
type AssignmentDecided struct {
	RequestID   string
	DriverPhone string
	Won         bool
}

// BroadcastFinished is published after a fan-out completes.
type BroadcastFinished struct {
	RequestID string
	Sent      int
	Failed    int
	Duration  time.Duration
}

// SendAttempted is published per recipient once retries are exhausted or a
// delivery succeeds.
type SendAttempted struct {
	RequestID string
	Identity  string
	Attempts  int
	Delivered bool
	Err       error
}

// TransportStateChanged is published by the health monitor when the link
// goes down or comes back.
type TransportStateChanged struct {
	Connected bool
	At        time.Time
}
