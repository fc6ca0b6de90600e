package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coopertaxi/dispatchd/core/model"
)

// MemoryStore is an in-memory Store. The mutex stands in for the transaction
// boundary of a relational backend: every compare-and-swap runs under it, so
// concurrent accept attempts observe the same first-writer-wins semantics as
// the SQL implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	drivers  map[string]model.Driver // keyed by phone
	requests map[string]model.Request
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers:  map[string]model.Driver{},
		requests: map[string]model.Request{},
	}
}

func (s *MemoryStore) CreateDriver(_ context.Context, d *model.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drivers[d.Phone]; ok {
		return model.ErrDuplicateDriver
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	s.drivers[d.Phone] = *d
	return nil
}

func (s *MemoryStore) DriverByPhone(_ context.Context, phone string) (*model.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[phone]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) DriverByID(_ context.Context, id string) (*model.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.drivers {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *MemoryStore) ActiveDrivers(_ context.Context, excludePhone string) ([]model.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Driver
	for _, d := range s.drivers {
		if d.Active && d.Phone != excludePhone {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out, nil
}

func (s *MemoryStore) SetDriverActive(_ context.Context, phone string, active bool) error {
	return s.updateDriver(phone, func(d *model.Driver) { d.Active = active })
}

func (s *MemoryStore) SetDriverLocation(_ context.Context, phone, location string) error {
	return s.updateDriver(phone, func(d *model.Driver) { d.Location = location })
}

func (s *MemoryStore) updateDriver(phone string, fn func(*model.Driver)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[phone]
	if !ok {
		return model.ErrNotFound
	}
	fn(&d)
	d.UpdatedAt = time.Now()
	s.drivers[phone] = d
	return nil
}

func (s *MemoryStore) DeleteDriver(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drivers[phone]; !ok {
		return model.ErrNotFound
	}
	delete(s.drivers, phone)
	return nil
}

func (s *MemoryStore) CountAssignedToDriver(_ context.Context, driverID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.requests {
		if r.Status == model.StatusAssigned && r.AssignedDriverID == driverID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DriverStats(_ context.Context) (model.DriverStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := model.DriverStats{Total: len(s.drivers)}
	for _, d := range s.drivers {
		if d.Active {
			st.Active++
		}
	}
	st.Inactive = st.Total - st.Active
	return st, nil
}

func (s *MemoryStore) CreateRequest(_ context.Context, r *model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	s.requests[r.ID] = *r
	return nil
}

func (s *MemoryStore) RequestByID(_ context.Context, id string) (*model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) PendingRequestByRequester(_ context.Context, phone string) (*model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *model.Request
	for _, r := range s.requests {
		if r.RequesterPhone != phone || r.Status != model.StatusPending {
			continue
		}
		r := r
		if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
			newest = &r
		}
	}
	if newest == nil {
		return nil, model.ErrNotFound
	}
	return newest, nil
}

func (s *MemoryStore) OldestPendingRequest(_ context.Context) (*model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var oldest *model.Request
	for _, r := range s.requests {
		if r.Status != model.StatusPending {
			continue
		}
		r := r
		if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &r
		}
	}
	if oldest == nil {
		return nil, model.ErrNotFound
	}
	return oldest, nil
}

func (s *MemoryStore) OldestAssignedToDriver(_ context.Context, driverID string) (*model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var oldest *model.Request
	for _, r := range s.requests {
		if r.Status != model.StatusAssigned || r.AssignedDriverID != driverID {
			continue
		}
		r := r
		if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &r
		}
	}
	if oldest == nil {
		return nil, model.ErrNotFound
	}
	return oldest, nil
}

func (s *MemoryStore) AssignRequest(_ context.Context, requestID, driverID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return false, model.ErrNotFound
	}
	if r.Status != model.StatusPending {
		return false, nil
	}
	r.Status = model.StatusAssigned
	r.AssignedDriverID = driverID
	r.UpdatedAt = time.Now()
	s.requests[requestID] = r
	return true, nil
}

func (s *MemoryStore) TransitionRequest(_ context.Context, requestID string, from, to model.RequestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return false, model.ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	s.requests[requestID] = r
	return true, nil
}

func (s *MemoryStore) CancelStalePending(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.requests {
		if r.Status == model.StatusPending && r.CreatedAt.Before(cutoff) {
			r.Status = model.StatusCancelled
			r.UpdatedAt = time.Now()
			s.requests[id] = r
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RequestStats(_ context.Context) (model.RequestStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := model.RequestStats{Total: len(s.requests)}
	for _, r := range s.requests {
		switch r.Status {
		case model.StatusPending:
			st.Pending++
		case model.StatusAssigned:
			st.Assigned++
		case model.StatusCompleted:
			st.Completed++
		case model.StatusCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}
