package model

import "time"

// RequestStatus is the lifecycle state of a ride request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusAssigned  RequestStatus = "ASSIGNED"
	StatusCompleted RequestStatus = "COMPLETED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the transition s -> next is allowed by the
// lifecycle state machine. Transitions are one-directional:
// PENDING -> {ASSIGNED, CANCELLED}, ASSIGNED -> {COMPLETED}.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAssigned || next == StatusCancelled
	case StatusAssigned:
		return next == StatusCompleted
	default:
		return false
	}
}

// Coordinates is a single GPS fix reported with a request. It is transient
// and not required to persist.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the coordinates fall in the WGS84 range.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Request is a ride request created by a requester and dispatched to the
// fleet. AssignedDriverID is set exactly when the request reaches ASSIGNED
// and is retained through COMPLETED.
type Request struct {
	ID               string
	RequesterPhone   string
	RequesterName    string
	Location         string
	Sector           string
	Status           RequestStatus
	AssignedDriverID string
	Coordinates      *Coordinates
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DisplayLocation returns the geocoded sector when available, otherwise the
// free-text location the requester provided.
func (r *Request) DisplayLocation() string {
	if r.Sector != "" {
		return r.Sector
	}
	return r.Location
}

// RequestStats summarizes request counts per lifecycle state.
type RequestStats struct {
	Total     int
	Pending   int
	Assigned  int
	Completed int
	Cancelled int
}
