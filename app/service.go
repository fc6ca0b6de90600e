// Package app wires the dispatch service together and routes inbound chat
// traffic to the driver, operator and requester handlers.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coopertaxi/dispatchd/config"
	"github.com/coopertaxi/dispatchd/core/assign"
	"github.com/coopertaxi/dispatchd/core/driver"
	"github.com/coopertaxi/dispatchd/core/flow"
	"github.com/coopertaxi/dispatchd/core/geo"
	"github.com/coopertaxi/dispatchd/core/health"
	corelogger "github.com/coopertaxi/dispatchd/core/logger"
	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/notify"
	"github.com/coopertaxi/dispatchd/core/request"
	"github.com/coopertaxi/dispatchd/core/session"
	corestore "github.com/coopertaxi/dispatchd/core/store"
	"github.com/coopertaxi/dispatchd/core/transport"
	"github.com/coopertaxi/dispatchd/infra/audit"
	"github.com/coopertaxi/dispatchd/infra/geocode"
	"github.com/coopertaxi/dispatchd/infra/logger"
	"github.com/coopertaxi/dispatchd/infra/metrics"
	"github.com/coopertaxi/dispatchd/infra/mqtt"
	"github.com/coopertaxi/dispatchd/infra/postgres"
	"github.com/coopertaxi/dispatchd/internal/eventbus"
)

// sessions is the slice of the session supervisor the router depends on.
type sessions interface {
	Reconcile(requesterID string) bool
	StartIdleTimer(requesterID string)
	ClearIdle(requesterID string)
}

// Service is the assembled dispatch application.
type Service struct {
	cfg *config.Config
	log corelogger.Logger

	store    corestore.Store
	bridge   transport.Bridge
	requests *request.Service
	drivers  *driver.Service
	machine  *flow.Machine
	sup      sessions
	monitor  *health.Monitor
	bus      *eventbus.Bus

	closers []func()
}

// New assembles the service from configuration. The returned Service owns
// every component and releases them in Close.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("dispatchd")
	s := &Service{cfg: cfg, log: log}

	var st corestore.Store
	switch cfg.Store.Kind {
	case "postgres":
		pg, err := postgres.Connect(cfg.Store.Postgres)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = pg.Close() })
		st = pg
	default:
		st = corestore.NewMemoryStore()
	}
	s.store = st

	bridge, err := mqtt.NewBridge(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connect transport: %w", err)
	}
	s.bridge = bridge
	s.closers = append(s.closers, bridge.Close)

	sink, err := metrics.BuildSink(cfg.Metrics, log)
	if err != nil {
		return nil, fmt.Errorf("build metrics: %w", err)
	}

	s.bus = eventbus.New()
	s.closers = append(s.closers, s.bus.Close)

	var geocoder geo.Geocoder = geo.NopGeocoder{}
	if cfg.Geocode.Enabled {
		geocoder = geocode.NewGoogle(cfg.Geocode)
	}

	sup := session.NewSupervisor(cfg.Session, logger.New("session"))
	s.sup = sup
	s.closers = append(s.closers, sup.Stop)

	coordinator, err := assign.New(st, logger.New("assign"), sink, s.bus)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewNotifier(bridge, logger.New("notify"))

	sampler, err := health.NewGopsutilSampler()
	if err != nil {
		return nil, err
	}
	s.monitor = health.New(cfg.Health, bridge, sampler, nil,
		cfg.Notify.BatchSize, cfg.Notify.MinBatchSize, cfg.Notify.MaxBatchSize,
		logger.New("health"), s.bus)

	dispatcher, err := notify.NewDispatcher(bridge, s.monitor, cfg.Notify, logger.New("dispatch"), sink, s.bus)
	if err != nil {
		return nil, err
	}

	s.requests, err = request.NewService(cfg.Requests, request.Deps{
		Store:       st,
		Dispatcher:  dispatcher,
		Notifier:    notifier,
		Coordinator: coordinator,
		Supervisor:  sup,
		Geocoder:    geocoder,
		Logger:      logger.New("request"),
		Bus:         s.bus,
	})
	if err != nil {
		return nil, err
	}

	s.monitor.SetBusyness(s.requests)

	s.drivers, err = driver.NewService(st, logger.New("driver"))
	if err != nil {
		return nil, err
	}

	s.machine = flow.NewMachine()
	s.requests.SetTimeoutHook(func(requesterPhone string) {
		s.machine.Clear(requesterPhone)
	})
	return s, nil
}

// Run starts the background loops and consumes inbound messages until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	audit.Start(ctx, s.bus, logger.New("audit"))

	if s.cfg.Metrics.PrometheusEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusAddr); err != nil {
				s.log.Errorf("prometheus server: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.requests.RunSweeper(ctx)
	}()

	s.log.Infof("dispatch service running")
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case msg, ok := <-s.bridge.Messages():
			if !ok {
				wg.Wait()
				return errors.New("transport message stream closed")
			}
			s.route(ctx, msg)
		}
	}
}

// Close releases every component in reverse construction order.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// route dispatches one inbound message to the operator, driver or requester
// handler based on the sender's identity.
func (s *Service) route(ctx context.Context, msg transport.Message) {
	from := model.CleanPhone(msg.From)

	if s.cfg.OperatorPhone != "" && from == model.CleanPhone(s.cfg.OperatorPhone) {
		s.handleOperator(ctx, from, msg.Body)
		return
	}

	drv, err := s.store.DriverByPhone(ctx, from)
	if err == nil {
		s.handleDriver(ctx, drv, msg.Body)
		return
	}
	if !errors.Is(err, model.ErrNotFound) {
		s.log.Errorf("driver lookup for %s: %v", from, err)
		return
	}

	s.handleRequester(ctx, from, msg)
}

func (s *Service) handleDriver(ctx context.Context, drv *model.Driver, body string) {
	switch {
	case model.IsAcceptCommand(body):
		out, err := s.requests.Accept(ctx, drv.Phone)
		if err != nil {
			s.log.Errorf("accept from %s: %v", drv.Phone, err)
			return
		}
		if out.Kind == assign.OutcomeAssigned {
			s.machine.SetState(out.Request.RequesterPhone, flow.StateAssigned)
		}

	case model.IsRejectCommand(body):
		// A decline needs no bookkeeping; the request stays open for the
		// rest of the fleet.
		s.log.Debugf("driver %s declined", drv.Phone)

	default:
		s.handleDriverCommand(ctx, drv, body)
	}
}

func (s *Service) handleDriverCommand(ctx context.Context, drv *model.Driver, body string) {
	cmd, rest := splitCommand(body)
	switch cmd {
	case "active", "on":
		if err := s.drivers.SetActive(ctx, drv.Phone, true); err != nil {
			s.log.Errorf("activate %s: %v", drv.Phone, err)
			return
		}
		s.reply(ctx, drv.Phone, "You are active and will receive ride offers.")

	case "inactive", "off":
		if err := s.drivers.SetActive(ctx, drv.Phone, false); err != nil {
			s.log.Errorf("deactivate %s: %v", drv.Phone, err)
			return
		}
		s.reply(ctx, drv.Phone, "You are inactive and will not receive ride offers.")

	case "done", "complete":
		if _, err := s.requests.Complete(ctx, drv.Phone); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				s.reply(ctx, drv.Phone, "You have no assigned ride to complete.")
				return
			}
			s.log.Errorf("complete from %s: %v", drv.Phone, err)
			return
		}
		s.reply(ctx, drv.Phone, "Ride marked as completed. Thank you!")

	case "zone", "location":
		if err := s.drivers.UpdateLocation(ctx, drv.Phone, rest); err != nil {
			s.reply(ctx, drv.Phone, "Could not update your zone: "+err.Error())
			return
		}
		s.reply(ctx, drv.Phone, "Zone updated.")

	case "info", "me":
		d, err := s.drivers.Info(ctx, drv.Phone)
		if err != nil {
			s.log.Errorf("info for %s: %v", drv.Phone, err)
			return
		}
		s.reply(ctx, drv.Phone, notify.DriverInfo(d.Name, d.Plate, d.Location, d.Active))

	default:
		s.reply(ctx, drv.Phone, "Commands: 1 (accept), active, inactive, done, zone <area>, info.")
	}
}

func (s *Service) handleOperator(ctx context.Context, operator, body string) {
	cmd, rest := splitCommand(body)
	switch cmd {
	case "register":
		parts := strings.SplitN(rest, ";", 3)
		if len(parts) != 3 {
			s.reply(ctx, operator, "Usage: register <name>;<phone>;<plate>")
			return
		}
		drv, err := s.drivers.Register(ctx, driver.RegisterParams{
			Name:  strings.TrimSpace(parts[0]),
			Phone: strings.TrimSpace(parts[1]),
			Plate: strings.TrimSpace(parts[2]),
		})
		if err != nil {
			s.reply(ctx, operator, "Registration failed: "+err.Error())
			return
		}
		s.reply(ctx, operator, fmt.Sprintf("Driver %s registered with plate %s.", drv.Name, drv.Plate))

	case "remove":
		if err := s.drivers.Delete(ctx, rest); err != nil {
			if errors.Is(err, model.ErrDriverBusy) {
				s.reply(ctx, operator, "Driver has an assigned ride and cannot be removed.")
				return
			}
			s.reply(ctx, operator, "Removal failed: "+err.Error())
			return
		}
		s.reply(ctx, operator, "Driver removed.")

	case "stats":
		rs, err := s.requests.Stats(ctx)
		if err != nil {
			s.reply(ctx, operator, "Stats unavailable: "+err.Error())
			return
		}
		ds, err := s.drivers.Stats(ctx)
		if err != nil {
			s.reply(ctx, operator, "Stats unavailable: "+err.Error())
			return
		}
		s.reply(ctx, operator, fmt.Sprintf(
			"Fleet: %d drivers (%d active). Requests: %d total, %d pending, %d assigned, %d completed, %d cancelled.",
			ds.Total, ds.Active, rs.Total, rs.Pending, rs.Assigned, rs.Completed, rs.Cancelled))

	default:
		s.reply(ctx, operator, "Commands: register <name>;<phone>;<plate>, remove <phone>, stats.")
	}
}

func (s *Service) handleRequester(ctx context.Context, from string, msg transport.Message) {
	if s.sup.Reconcile(from) {
		// Expired sessions may still own a PENDING request; cancel it
		// before the conversation restarts.
		if err := s.requests.Cancel(ctx, from); err != nil {
			s.log.Errorf("cancel stale request for %s: %v", from, err)
		}
		s.machine.Clear(from)
		s.reply(ctx, from, notify.MsgSessionExpired)
	}

	effects := s.machine.Handle(from, flow.Event{Text: msg.Body, Coordinates: msg.Coordinates})
	for _, eff := range effects {
		switch e := eff.(type) {
		case flow.Reply:
			s.reply(ctx, from, e.Body)

		case flow.CreateRequest:
			name := e.Name
			if name == "" {
				name = msg.PushName
			}
			_, err := s.requests.Create(ctx, request.CreateParams{
				RequesterPhone: from,
				Name:           name,
				Location:       e.Location,
				Coordinates:    e.Coordinates,
			})
			if err != nil {
				if errors.Is(err, model.ErrNoDriversAvailable) {
					// The requester was already notified; let them retry
					// with a fresh conversation.
					s.machine.Clear(from)
					return
				}
				if model.IsValidation(err) {
					s.reply(ctx, from, "That does not look right: "+err.Error())
					s.machine.Clear(from)
					return
				}
				s.log.Errorf("create request for %s: %v", from, err)
				s.machine.Clear(from)
				return
			}

		case flow.CancelPending:
			if err := s.requests.Cancel(ctx, from); err != nil {
				s.log.Errorf("cancel for %s: %v", from, err)
			}

		case flow.ClearSession:
			s.machine.Clear(from)
			s.sup.ClearIdle(from)
		}
	}

	s.sup.StartIdleTimer(from)
}

func (s *Service) reply(ctx context.Context, identity, body string) {
	if err := s.bridge.Send(ctx, identity, body); err != nil {
		s.log.Warnf("reply to %s failed: %v", identity, err)
	}
}

// splitCommand lowercases the first word and returns the remainder verbatim.
func splitCommand(body string) (string, string) {
	trimmed := strings.TrimSpace(body)
	parts := strings.SplitN(trimmed, " ", 2)
	cmd := strings.ToLower(parts[0])
	rest := ""
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return cmd, rest
}
