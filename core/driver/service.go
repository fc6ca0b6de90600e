// Package driver manages the fleet registry.
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coopertaxi/dispatchd/core/logger"
	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/store"
)

// Service exposes driver registry operations.
type Service struct {
	store store.Store
	log   logger.Logger
}

func NewService(st store.Store, log logger.Logger) (*Service, error) {
	if st == nil || log == nil {
		return nil, fmt.Errorf("driver: nil store or logger")
	}
	return &Service{store: st, log: log}, nil
}

// RegisterParams carries the details of a new driver.
type RegisterParams struct {
	Name  string
	Phone string
	Plate string
}

// Register adds a driver to the fleet, active by default. The phone must be
// unique; a duplicate returns model.ErrDuplicateDriver.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*model.Driver, error) {
	phone := model.CleanPhone(p.Phone)
	if err := model.ValidatePhone(phone); err != nil {
		return nil, err
	}
	if err := model.ValidateName(p.Name); err != nil {
		return nil, err
	}
	plate := strings.ToUpper(strings.TrimSpace(p.Plate))
	if err := model.ValidatePlate(plate); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	drv := &model.Driver{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(p.Name),
		Phone:     phone,
		Plate:     plate,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateDriver(ctx, drv); err != nil {
		return nil, err
	}
	s.log.Infof("driver %s registered (%s, plate %s)", drv.Name, drv.Phone, drv.Plate)
	return drv, nil
}

// SetActive toggles whether the driver receives ride offers.
func (s *Service) SetActive(ctx context.Context, phone string, active bool) error {
	cleaned := model.CleanPhone(phone)
	if err := s.store.SetDriverActive(ctx, cleaned, active); err != nil {
		return err
	}
	s.log.Infof("driver %s active=%v", cleaned, active)
	return nil
}

// UpdateLocation records the driver's self-reported zone.
func (s *Service) UpdateLocation(ctx context.Context, phone, location string) error {
	if err := model.ValidateLocation(location); err != nil {
		return err
	}
	return s.store.SetDriverLocation(ctx, model.CleanPhone(phone), strings.TrimSpace(location))
}

// Info returns the driver registered under the phone.
func (s *Service) Info(ctx context.Context, phone string) (*model.Driver, error) {
	return s.store.DriverByPhone(ctx, model.CleanPhone(phone))
}

// Delete removes a driver from the fleet. A driver with an open assigned
// ride cannot be removed; that returns model.ErrDriverBusy.
func (s *Service) Delete(ctx context.Context, phone string) error {
	cleaned := model.CleanPhone(phone)
	drv, err := s.store.DriverByPhone(ctx, cleaned)
	if err != nil {
		return err
	}
	n, err := s.store.CountAssignedToDriver(ctx, drv.ID)
	if err != nil {
		return fmt.Errorf("count assigned rides: %w", err)
	}
	if n > 0 {
		return model.ErrDriverBusy
	}
	if err := s.store.DeleteDriver(ctx, cleaned); err != nil {
		return err
	}
	s.log.Infof("driver %s removed", cleaned)
	return nil
}

// Stats summarizes the registered fleet.
func (s *Service) Stats(ctx context.Context) (model.DriverStats, error) {
	return s.store.DriverStats(ctx)
}
