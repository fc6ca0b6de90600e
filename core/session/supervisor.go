// Package session supervises per-requester timers: the acceptance window of
// an open request and the idle expiry of a conversation.
package session

import (
	"sync"
	"time"

	"github.com/coopertaxi/dispatchd/core/logger"
)

// Config tunes the supervisor windows.
type Config struct {
	// RequestWindowSeconds bounds how long a request may stay PENDING
	// before it times out.
	RequestWindowSeconds int `json:"request_window_seconds"`
	// IdleWindowMinutes bounds how long a conversation may stay silent
	// before its state is discarded.
	IdleWindowMinutes int `json:"idle_window_minutes"`
}

func (c *Config) SetDefaults() {
	if c.RequestWindowSeconds <= 0 {
		c.RequestWindowSeconds = 20
	}
	if c.IdleWindowMinutes <= 0 {
		c.IdleWindowMinutes = 5
	}
}

// RequestWindow returns the acceptance window as a duration.
func (c Config) RequestWindow() time.Duration {
	return time.Duration(c.RequestWindowSeconds) * time.Second
}

// IdleWindow returns the idle expiry as a duration.
func (c Config) IdleWindow() time.Duration {
	return time.Duration(c.IdleWindowMinutes) * time.Minute
}

type requestEntry struct {
	requestID string
	timer     *time.Timer
}

type idleEntry struct {
	timer   *time.Timer
	expired bool
}

// Supervisor owns one request timer and one idle timer per requester.
// Request timers fire a caller-provided callback; idle timers only mark the
// session expired, and the caller reconciles lazily on the next interaction.
type Supervisor struct {
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	requests map[string]*requestEntry
	idle     map[string]*idleEntry
	stopped  bool
}

func NewSupervisor(cfg Config, log logger.Logger) *Supervisor {
	cfg.SetDefaults()
	return &Supervisor{
		cfg:      cfg,
		log:      log,
		requests: make(map[string]*requestEntry),
		idle:     make(map[string]*idleEntry),
	}
}

// RequestWindow returns the configured acceptance window.
func (s *Supervisor) RequestWindow() time.Duration {
	return s.cfg.RequestWindow()
}

// StartRequestTimer schedules fn to run once the acceptance window elapses.
// A previous timer for the same requester is replaced; at most one request
// timer exists per requester.
func (s *Supervisor) StartRequestTimer(requesterID, requestID string, fn func(requestID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.requests[requesterID]; ok {
		prev.timer.Stop()
	}
	entry := &requestEntry{requestID: requestID}
	entry.timer = time.AfterFunc(s.cfg.RequestWindow(), func() {
		s.mu.Lock()
		cur, ok := s.requests[requesterID]
		// The entry may have been replaced or cancelled between the timer
		// firing and this goroutine taking the lock.
		if !ok || cur != entry {
			s.mu.Unlock()
			return
		}
		delete(s.requests, requesterID)
		s.mu.Unlock()
		fn(requestID)
	})
	s.requests[requesterID] = entry
	s.log.Debugf("request timer armed for %s (request %s, %s)", requesterID, requestID, s.cfg.RequestWindow())
}

// CancelRequestTimer stops the requester's pending timer. Idempotent and a
// no-op when the timer already fired.
func (s *Supervisor) CancelRequestTimer(requesterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.requests[requesterID]; ok {
		entry.timer.Stop()
		delete(s.requests, requesterID)
	}
}

// StartIdleTimer arms or re-arms the requester's idle timer. When it fires
// the session is only flagged; nothing is torn down until Reconcile.
func (s *Supervisor) StartIdleTimer(requesterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.idle[requesterID]; ok {
		prev.timer.Stop()
	}
	entry := &idleEntry{}
	entry.timer = time.AfterFunc(s.cfg.IdleWindow(), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.idle[requesterID]; ok && cur == entry {
			cur.expired = true
		}
	})
	s.idle[requesterID] = entry
}

// IsExpired reports whether the requester's idle window elapsed.
func (s *Supervisor) IsExpired(requesterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.idle[requesterID]
	return ok && entry.expired
}

// Reconcile clears an expired idle flag and reports whether it was set. The
// caller tears down the conversation state when it returns true.
func (s *Supervisor) Reconcile(requesterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.idle[requesterID]
	if !ok || !entry.expired {
		return false
	}
	entry.timer.Stop()
	delete(s.idle, requesterID)
	return true
}

// ClearIdle drops the requester's idle timer without reporting expiry.
func (s *Supervisor) ClearIdle(requesterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.idle[requesterID]; ok {
		entry.timer.Stop()
		delete(s.idle, requesterID)
	}
}

// Stop cancels every outstanding timer. The supervisor accepts no new timers
// afterwards.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, entry := range s.requests {
		entry.timer.Stop()
		delete(s.requests, id)
	}
	for id, entry := range s.idle {
		entry.timer.Stop()
		delete(s.idle, id)
	}
}
