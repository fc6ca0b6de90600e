// Package request orchestrates the ride request lifecycle: creation,
// fan-out, assignment, timeout, cancellation and completion.
package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coopertaxi/dispatchd/core/assign"
	"github.com/coopertaxi/dispatchd/core/events"
	"github.com/coopertaxi/dispatchd/core/geo"
	"github.com/coopertaxi/dispatchd/core/logger"
	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/notify"
	"github.com/coopertaxi/dispatchd/core/session"
	"github.com/coopertaxi/dispatchd/core/store"
	"github.com/coopertaxi/dispatchd/internal/eventbus"
)

// Config tunes the lifecycle housekeeping.
type Config struct {
	// SweepIntervalSeconds is how often the stale-request sweeper runs.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
}

func (c *Config) SetDefaults() {
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 60
	}
}

func (c Config) sweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// CreateParams carries the collected requester details into Create.
type CreateParams struct {
	RequesterPhone string
	Name           string
	Location       string
	Coordinates    *model.Coordinates
}

// Deps bundles the collaborators of the Service. Geocoder and Bus may be
// nil; everything else is required.
type Deps struct {
	Store       store.Store
	Dispatcher  *notify.Dispatcher
	Notifier    *notify.Notifier
	Coordinator *assign.Coordinator
	Supervisor  *session.Supervisor
	Geocoder    geo.Geocoder
	Logger      logger.Logger
	Bus         eventbus.EventBus
}

// Service drives requests through PENDING, ASSIGNED and the terminal
// states. Status writes go through the store's compare-and-swap methods, so
// racing paths (timeout vs cancel vs accept) resolve to exactly one winner
// and the losers degrade to no-ops.
type Service struct {
	cfg  Config
	deps Deps
	log  logger.Logger

	// inflight counts broadcasts in progress, for the health monitor's
	// idle detection.
	inflight atomic.Int32

	// onTimeout runs after a request times out, so the conversation layer
	// can reset the requester's state. Optional.
	onTimeout func(requesterPhone string)
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Dispatcher == nil || deps.Notifier == nil ||
		deps.Coordinator == nil || deps.Supervisor == nil || deps.Logger == nil {
		return nil, fmt.Errorf("request: missing dependency")
	}
	cfg.SetDefaults()
	return &Service{cfg: cfg, deps: deps, log: deps.Logger}, nil
}

// SetTimeoutHook registers a callback invoked after a request times out.
// Must be called before the first Create.
func (s *Service) SetTimeoutHook(fn func(requesterPhone string)) {
	s.onTimeout = fn
}

// Create opens a request for the requester and fans it out to the active
// fleet. An earlier PENDING request from the same requester is superseded.
// Returns model.ErrNoDriversAvailable when nobody could be reached; the
// request is already cancelled in that case.
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Request, error) {
	phone := model.CleanPhone(p.RequesterPhone)
	if err := model.ValidatePhone(phone); err != nil {
		return nil, err
	}
	if err := model.ValidateName(p.Name); err != nil {
		return nil, err
	}
	if p.Coordinates == nil {
		if err := model.ValidateLocation(p.Location); err != nil {
			return nil, err
		}
	} else if !p.Coordinates.Valid() {
		return nil, &model.ValidationError{Field: "coordinates", Reason: "out of range"}
	}

	if prev, err := s.deps.Store.PendingRequestByRequester(ctx, phone); err == nil {
		if swapped, cerr := s.deps.Store.TransitionRequest(ctx, prev.ID, model.StatusPending, model.StatusCancelled); cerr != nil {
			return nil, fmt.Errorf("supersede request %s: %w", prev.ID, cerr)
		} else if swapped {
			s.log.Infof("request %s superseded by a new one from %s", prev.ID, phone)
			s.deps.Supervisor.CancelRequestTimer(phone)
			s.publish(events.RequestCancelled{RequestID: prev.ID, Reason: "superseded"})
		}
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("lookup pending request: %w", err)
	}

	sector := ""
	if p.Coordinates != nil {
		sector = geo.BestEffortSector(ctx, s.deps.Geocoder, *p.Coordinates, s.log)
	}

	now := time.Now().UTC()
	req := &model.Request{
		ID:             uuid.NewString(),
		RequesterPhone: phone,
		RequesterName:  strings.TrimSpace(p.Name),
		Location:       strings.TrimSpace(p.Location),
		Sector:         sector,
		Status:         model.StatusPending,
		Coordinates:    p.Coordinates,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.deps.Store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.log.Infof("request %s created by %s for %q", req.ID, phone, req.DisplayLocation())
	s.publish(events.RequestCreated{Request: *req})

	drivers, err := s.deps.Store.ActiveDrivers(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("list active drivers: %w", err)
	}
	if len(drivers) == 0 {
		s.abandon(ctx, req, "no active drivers")
		return nil, model.ErrNoDriversAvailable
	}

	s.inflight.Add(1)
	res := s.deps.Dispatcher.Broadcast(ctx, req, drivers)
	s.inflight.Add(-1)
	if res.Sent == 0 {
		s.abandon(ctx, req, "no driver reachable")
		return nil, model.ErrNoDriversAvailable
	}

	window := s.deps.Supervisor
	s.deps.Notifier.RequesterSearching(ctx, phone, res.Sent, windowSeconds(window))
	window.StartRequestTimer(phone, req.ID, func(requestID string) {
		s.expire(requestID, phone)
	})
	return req, nil
}

// Accept resolves an accept signal from a driver and sends the outcome
// notifications. Exactly one of N racing drivers gets OutcomeAssigned.
func (s *Service) Accept(ctx context.Context, driverPhone string) (assign.Outcome, error) {
	out, err := s.deps.Coordinator.TryAccept(ctx, driverPhone)
	if err != nil {
		return out, err
	}

	switch out.Kind {
	case assign.OutcomeAssigned:
		req, drv := out.Request, out.Driver
		s.deps.Supervisor.CancelRequestTimer(req.RequesterPhone)
		s.deps.Notifier.DriverAccepted(ctx, *drv, *req)
		s.deps.Notifier.RequesterAssigned(ctx, req.RequesterPhone, *drv)
		s.notifyLosers(ctx, req, drv)

	case assign.OutcomeAlreadyTaken:
		if out.Driver != nil {
			s.deps.Notifier.DriverTooLate(ctx, out.Driver.Phone)
		}

	case assign.OutcomeNotEligible:
		if out.Driver != nil && !out.Driver.Active {
			s.deps.Notifier.DriverInactive(ctx, out.Driver.Phone)
		}
	}
	return out, nil
}

// Cancel cancels the requester's open PENDING request. Idempotent: when no
// pending request exists, nothing happens and nil is returned.
func (s *Service) Cancel(ctx context.Context, requesterPhone string) error {
	phone := model.CleanPhone(requesterPhone)
	req, err := s.deps.Store.PendingRequestByRequester(ctx, phone)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup pending request: %w", err)
	}
	swapped, err := s.deps.Store.TransitionRequest(ctx, req.ID, model.StatusPending, model.StatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel request %s: %w", req.ID, err)
	}
	if !swapped {
		// Lost the race against accept or timeout. Either way there is
		// nothing pending anymore.
		return nil
	}
	s.deps.Supervisor.CancelRequestTimer(phone)
	s.log.Infof("request %s cancelled by requester %s", req.ID, phone)
	s.deps.Notifier.RequesterCancelled(ctx, phone)
	s.publish(events.RequestCancelled{RequestID: req.ID, Reason: "requester"})
	return nil
}

// Complete marks the driver's oldest ASSIGNED request as COMPLETED and
// thanks the requester. Returns model.ErrNotFound when the driver has no
// assigned ride.
func (s *Service) Complete(ctx context.Context, driverPhone string) (*model.Request, error) {
	phone := model.CleanPhone(driverPhone)
	driver, err := s.deps.Store.DriverByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("lookup driver: %w", err)
	}
	req, err := s.deps.Store.OldestAssignedToDriver(ctx, driver.ID)
	if err != nil {
		return nil, err
	}
	swapped, err := s.deps.Store.TransitionRequest(ctx, req.ID, model.StatusAssigned, model.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("complete request %s: %w", req.ID, err)
	}
	if !swapped {
		return nil, model.ErrInvalidTransition
	}
	s.log.Infof("request %s completed by driver %s", req.ID, phone)
	s.deps.Notifier.RequesterCompleted(ctx, req.RequesterPhone)
	s.publish(events.RequestCompleted{RequestID: req.ID, DriverID: driver.ID})
	req.Status = model.StatusCompleted
	return req, nil
}

// Stats returns request counts per lifecycle state.
func (s *Service) Stats(ctx context.Context) (model.RequestStats, error) {
	return s.deps.Store.RequestStats(ctx)
}

// ActiveWork reports whether a broadcast is in flight. Lets the health
// monitor tell load from leaks.
func (s *Service) ActiveWork() bool {
	return s.inflight.Load() > 0
}

// RunSweeper periodically cancels PENDING requests that outlived the
// acceptance window. The per-request timers already handle the common case;
// the sweeper catches timers lost to a restart.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.sweepInterval())
	defer ticker.Stop()
	s.log.Infof("stale request sweeper started (every %s)", s.cfg.sweepInterval())
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("stale request sweeper stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.deps.Supervisor.RequestWindow())
			n, err := s.deps.Store.CancelStalePending(ctx, cutoff)
			if err != nil {
				s.log.Errorf("stale request sweep failed: %v", err)
				continue
			}
			if n > 0 {
				s.log.Warnf("swept %d stale pending requests", n)
			}
		}
	}
}

// expire runs when the acceptance window elapses. The swap fails when a
// driver accepted or the requester cancelled in the meantime, making the
// timeout a no-op.
func (s *Service) expire(requestID, requesterPhone string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	swapped, err := s.deps.Store.TransitionRequest(ctx, requestID, model.StatusPending, model.StatusCancelled)
	if err != nil {
		s.log.Errorf("expire request %s: %v", requestID, err)
		return
	}
	if !swapped {
		return
	}
	s.log.Infof("request %s timed out with no acceptance", requestID)
	s.deps.Notifier.RequesterTimeout(ctx, requesterPhone)
	s.publish(events.RequestCancelled{RequestID: requestID, Reason: "timeout"})
	if s.onTimeout != nil {
		s.onTimeout(requesterPhone)
	}
}

// abandon cancels a request that reached nobody and tells the requester.
func (s *Service) abandon(ctx context.Context, req *model.Request, reason string) {
	swapped, err := s.deps.Store.TransitionRequest(ctx, req.ID, model.StatusPending, model.StatusCancelled)
	if err != nil {
		s.log.Errorf("abandon request %s: %v", req.ID, err)
		return
	}
	if swapped {
		s.log.Warnf("request %s abandoned: %s", req.ID, reason)
		s.publish(events.RequestCancelled{RequestID: req.ID, Reason: reason})
	}
	s.deps.Notifier.RequesterNoDrivers(ctx, req.RequesterPhone)
}

// notifyLosers tells every other notified driver the ride is gone.
func (s *Service) notifyLosers(ctx context.Context, req *model.Request, winner *model.Driver) {
	drivers, err := s.deps.Store.ActiveDrivers(ctx, req.RequesterPhone)
	if err != nil {
		s.log.Warnf("listing drivers for loss notices: %v", err)
		return
	}
	s.deps.Notifier.OthersTaken(ctx, drivers, winner.Phone, winner.Name)
}

func (s *Service) publish(ev eventbus.Event) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(ev)
	}
}

func windowSeconds(sup *session.Supervisor) int {
	return int(sup.RequestWindow() / time.Second)
}
