// Package assign implements the first-accept-wins assignment protocol.
package assign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coopertaxi/dispatchd/core/events"
	"github.com/coopertaxi/dispatchd/core/logger"
	"github.com/coopertaxi/dispatchd/core/metrics"
	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/store"
	"github.com/coopertaxi/dispatchd/internal/eventbus"
)

// OutcomeKind classifies the result of an accept attempt.
type OutcomeKind int

const (
	// OutcomeAssigned means the driver won the race and owns the request.
	OutcomeAssigned OutcomeKind = iota
	// OutcomeAlreadyTaken means the request was assigned to someone else
	// first, or no pending request exists.
	OutcomeAlreadyTaken
	// OutcomeNotEligible means the caller is not a registered active driver.
	OutcomeNotEligible
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAssigned:
		return "assigned"
	case OutcomeAlreadyTaken:
		return "already_taken"
	case OutcomeNotEligible:
		return "not_eligible"
	default:
		return "unknown"
	}
}

// Outcome is the caller-visible result of TryAccept. Request and Driver are
// populated only when Kind is OutcomeAssigned.
type Outcome struct {
	Kind    OutcomeKind
	Request *model.Request
	Driver  *model.Driver
}

// Coordinator resolves concurrent accept attempts. The store's
// compare-and-swap on the request row is the sole source of mutual
// exclusion: for N racing drivers exactly one swap observes PENDING.
type Coordinator struct {
	store   store.Store
	log     logger.Logger
	metrics metrics.MetricsSink
	bus     eventbus.EventBus
}

// New creates a Coordinator. The metrics sink and bus may be nil.
func New(st store.Store, log logger.Logger, sink metrics.MetricsSink, bus eventbus.EventBus) (*Coordinator, error) {
	if st == nil || log == nil {
		return nil, fmt.Errorf("assign: nil store or logger")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Coordinator{store: st, log: log, metrics: sink, bus: bus}, nil
}

// TryAccept resolves an accept signal from a driver. The signal does not
// name a request: it always targets the globally oldest PENDING request at
// accept time, so a driver answering the notification for one request may
// win an older one that is still open.
func (c *Coordinator) TryAccept(ctx context.Context, driverPhone string) (Outcome, error) {
	phone := model.CleanPhone(driverPhone)

	driver, err := c.store.DriverByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Outcome{Kind: OutcomeNotEligible}, nil
		}
		return Outcome{}, fmt.Errorf("lookup driver: %w", err)
	}
	if !driver.Active {
		return Outcome{Kind: OutcomeNotEligible, Driver: driver}, nil
	}

	req, err := c.store.OldestPendingRequest(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.record(ctx, "", phone, OutcomeAlreadyTaken)
			return Outcome{Kind: OutcomeAlreadyTaken, Driver: driver}, nil
		}
		return Outcome{}, fmt.Errorf("oldest pending: %w", err)
	}

	swapped, err := c.store.AssignRequest(ctx, req.ID, driver.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("assign request %s: %w", req.ID, err)
	}
	if !swapped {
		c.log.Infof("driver %s lost accept race for request %s", phone, req.ID)
		c.record(ctx, req.ID, phone, OutcomeAlreadyTaken)
		return Outcome{Kind: OutcomeAlreadyTaken, Driver: driver}, nil
	}

	assigned, err := c.store.RequestByID(ctx, req.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reload request %s: %w", req.ID, err)
	}
	c.log.Debugw("request assigned", map[string]any{
		"request_id": assigned.ID,
		"driver":     driver.Phone,
	})
	c.record(ctx, assigned.ID, phone, OutcomeAssigned)
	return Outcome{Kind: OutcomeAssigned, Request: assigned, Driver: driver}, nil
}

func (c *Coordinator) record(_ context.Context, requestID, phone string, kind OutcomeKind) {
	if err := c.metrics.RecordAssignment(metrics.AssignmentEvent{
		RequestID:   requestID,
		DriverPhone: phone,
		Outcome:     kind.String(),
		Time:        time.Now(),
	}); err != nil {
		c.log.Errorf("assignment metrics error: %v", err)
	}
	if c.bus != nil {
		c.bus.Publish(events.AssignmentDecided{
			RequestID:   requestID,
			DriverPhone: phone,
			Won:         kind == OutcomeAssigned,
		})
	}
}
