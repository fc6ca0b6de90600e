package store

import (
	"context"
	"time"

	"github.com/coopertaxi/dispatchd/core/model"
)

// Store persists drivers and requests. Status-changing request writes go
// through the compare-and-swap methods; the swap condition is the only
// mutual exclusion the assignment protocol relies on, so implementations
// must evaluate it atomically (a conditional UPDATE in SQL, a lock in
// memory).
type Store interface {
	CreateDriver(ctx context.Context, d *model.Driver) error
	DriverByPhone(ctx context.Context, phone string) (*model.Driver, error)
	DriverByID(ctx context.Context, id string) (*model.Driver, error)
	ActiveDrivers(ctx context.Context, excludePhone string) ([]model.Driver, error)
	SetDriverActive(ctx context.Context, phone string, active bool) error
	SetDriverLocation(ctx context.Context, phone, location string) error
	DeleteDriver(ctx context.Context, phone string) error
	CountAssignedToDriver(ctx context.Context, driverID string) (int, error)
	DriverStats(ctx context.Context) (model.DriverStats, error)

	CreateRequest(ctx context.Context, r *model.Request) error
	RequestByID(ctx context.Context, id string) (*model.Request, error)
	PendingRequestByRequester(ctx context.Context, phone string) (*model.Request, error)
	OldestPendingRequest(ctx context.Context) (*model.Request, error)
	OldestAssignedToDriver(ctx context.Context, driverID string) (*model.Request, error)

	// AssignRequest atomically moves the request from PENDING to ASSIGNED
	// with the given driver. It returns false without mutating anything when
	// the request is no longer PENDING.
	AssignRequest(ctx context.Context, requestID, driverID string) (bool, error)

	// TransitionRequest atomically moves the request from one status to
	// another, returning false when the current status differs from "from".
	TransitionRequest(ctx context.Context, requestID string, from, to model.RequestStatus) (bool, error)

	// CancelStalePending cancels every PENDING request created before the
	// cutoff and returns how many were cancelled.
	CancelStalePending(ctx context.Context, cutoff time.Time) (int, error)

	RequestStats(ctx context.Context) (model.RequestStats, error)
}
