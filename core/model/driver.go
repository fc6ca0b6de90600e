package model

import "time"

// Driver represents a registered driver eligible to receive and accept ride
// requests. Phone is the stable identity used on the messaging transport and
// is unique across the fleet.
type Driver struct {
	ID        string
	Name      string
	Phone     string
	Plate     string
	Location  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DriverStats summarizes the registered fleet.
type DriverStats struct {
	Total    int
	Active   int
	Inactive int
}
