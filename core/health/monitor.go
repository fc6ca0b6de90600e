// Package health watches the transport link and the process resource usage,
// and feeds an adaptive batch size hint back to the notification dispatcher.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/coopertaxi/dispatchd/core/events"
	"github.com/coopertaxi/dispatchd/core/logger"
	"github.com/coopertaxi/dispatchd/core/transport"
	"github.com/coopertaxi/dispatchd/internal/eventbus"
)

// Config tunes the monitor loop and its alert thresholds.
type Config struct {
	IntervalSeconds       int `json:"interval_seconds"`
	ReconnectDelaySeconds int `json:"reconnect_delay_seconds"`

	MemWarnMB     int     `json:"mem_warn_mb"`
	MemCriticalMB int     `json:"mem_critical_mb"`
	CPUWarnPct    float64 `json:"cpu_warn_pct"`
	CPUCritPct    float64 `json:"cpu_crit_pct"`

	// Idle thresholds catch a process that is heavy while nothing is
	// happening, which points at a leak rather than load.
	IdleMemMB  int     `json:"idle_mem_mb"`
	IdleCPUPct float64 `json:"idle_cpu_pct"`

	WarnCooldownMinutes     int `json:"warn_cooldown_minutes"`
	CriticalCooldownMinutes int `json:"critical_cooldown_minutes"`

	// BatchStep is how far one monitor tick may move the batch size hint.
	BatchStep int `json:"batch_step"`
}

func (c *Config) SetDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 30
	}
	if c.ReconnectDelaySeconds <= 0 {
		c.ReconnectDelaySeconds = 5
	}
	if c.MemWarnMB <= 0 {
		c.MemWarnMB = 5000
	}
	if c.MemCriticalMB <= 0 {
		c.MemCriticalMB = 6000
	}
	if c.CPUWarnPct <= 0 {
		c.CPUWarnPct = 60
	}
	if c.CPUCritPct <= 0 {
		c.CPUCritPct = 80
	}
	if c.IdleMemMB <= 0 {
		c.IdleMemMB = 3000
	}
	if c.IdleCPUPct <= 0 {
		c.IdleCPUPct = 40
	}
	if c.WarnCooldownMinutes <= 0 {
		c.WarnCooldownMinutes = 10
	}
	if c.CriticalCooldownMinutes <= 0 {
		c.CriticalCooldownMinutes = 5
	}
	if c.BatchStep <= 0 {
		c.BatchStep = 2
	}
}

func (c Config) interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c Config) reconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// Usage is one resource sample of the process and its host.
type Usage struct {
	CPUPercent    float64
	ProcessRSSMB  int
	SystemMemPct  float64
}

// Sampler produces resource samples. Tests inject a fake; production wires
// the gopsutil implementation.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// Busyness lets the monitor distinguish load from leaks. Implemented by the
// request service.
type Busyness interface {
	ActiveWork() bool
}

// Monitor runs a periodic check of transport liveness and resource usage.
type Monitor struct {
	cfg     Config
	link    transport.Health
	sampler Sampler
	busy    Busyness
	log     logger.Logger
	bus     eventbus.EventBus

	mu           sync.Mutex
	healthy      bool
	hint         int
	minHint      int
	maxHint      int
	lastAlert    map[string]time.Time
	wasConnected bool
}

// New creates a Monitor. The hint starts at baseline and stays inside
// [minHint, maxHint]. busy and bus may be nil.
func New(cfg Config, link transport.Health, sampler Sampler, busy Busyness, baseline, minHint, maxHint int, log logger.Logger, bus eventbus.EventBus) *Monitor {
	cfg.SetDefaults()
	return &Monitor{
		cfg:          cfg,
		link:         link,
		sampler:      sampler,
		busy:         busy,
		log:          log,
		bus:          bus,
		healthy:      true,
		hint:         baseline,
		minHint:      minHint,
		maxHint:      maxHint,
		lastAlert:    make(map[string]time.Time),
		wasConnected: true,
	}
}

// SetBusyness wires the idle detector after construction, for callers whose
// workload component depends on the monitor's batch size hint.
func (m *Monitor) SetBusyness(b Busyness) {
	m.mu.Lock()
	m.busy = b
	m.mu.Unlock()
}

// Run blocks until ctx is cancelled, checking the link and sampling
// resources every interval.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.interval())
	defer ticker.Stop()
	m.log.Infof("health monitor started (interval %s)", m.cfg.interval())
	for {
		select {
		case <-ctx.Done():
			m.log.Infof("health monitor stopped")
			return
		case <-ticker.C:
			m.checkLink(ctx)
			m.checkResources(ctx)
		}
	}
}

// IsHealthy reports the outcome of the last check cycle.
func (m *Monitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// BatchSizeHint returns the current recommended fan-out batch size.
func (m *Monitor) BatchSizeHint() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hint
}

func (m *Monitor) checkLink(ctx context.Context) {
	connected := m.link.Connected()

	m.mu.Lock()
	changed := connected != m.wasConnected
	m.wasConnected = connected
	m.mu.Unlock()

	if changed && m.bus != nil {
		m.bus.Publish(events.TransportStateChanged{Connected: connected, At: time.Now()})
	}
	if connected {
		return
	}

	m.log.Warnf("transport link down, reconnecting in %s", m.cfg.reconnectDelay())
	select {
	case <-time.After(m.cfg.reconnectDelay()):
	case <-ctx.Done():
		return
	}
	if err := m.link.Reconnect(ctx); err != nil {
		m.log.Errorf("transport reconnect failed: %v", err)
		m.setHealthy(false)
		return
	}
	m.log.Infof("transport link restored")
	m.setHealthy(true)
}

func (m *Monitor) checkResources(ctx context.Context) {
	usage, err := m.sampler.Sample(ctx)
	if err != nil {
		m.log.Warnf("resource sample failed: %v", err)
		return
	}

	critical := usage.ProcessRSSMB >= m.cfg.MemCriticalMB || usage.CPUPercent >= m.cfg.CPUCritPct
	warn := usage.ProcessRSSMB >= m.cfg.MemWarnMB || usage.CPUPercent >= m.cfg.CPUWarnPct

	m.mu.Lock()
	busy := m.busy
	m.mu.Unlock()

	idleSuspicious := false
	if busy != nil && !busy.ActiveWork() {
		idleSuspicious = usage.ProcessRSSMB >= m.cfg.IdleMemMB || usage.CPUPercent >= m.cfg.IdleCPUPct
	}

	switch {
	case critical:
		m.alert("critical", time.Duration(m.cfg.CriticalCooldownMinutes)*time.Minute,
			"critical resource usage: rss %dMB cpu %.1f%%", usage.ProcessRSSMB, usage.CPUPercent)
		m.adjustHint(-m.cfg.BatchStep)
		m.setHealthy(false)
	case warn:
		m.alert("warn", time.Duration(m.cfg.WarnCooldownMinutes)*time.Minute,
			"elevated resource usage: rss %dMB cpu %.1f%%", usage.ProcessRSSMB, usage.CPUPercent)
		m.adjustHint(-m.cfg.BatchStep)
		m.setHealthy(true)
	case idleSuspicious:
		m.alert("idle", time.Duration(m.cfg.WarnCooldownMinutes)*time.Minute,
			"high resource usage while idle: rss %dMB cpu %.1f%%", usage.ProcessRSSMB, usage.CPUPercent)
		m.setHealthy(true)
	default:
		m.adjustHint(m.cfg.BatchStep)
		m.setHealthy(true)
	}
}

// alert logs at most once per cooldown for each alert kind.
func (m *Monitor) alert(kind string, cooldown time.Duration, format string, args ...any) {
	m.mu.Lock()
	last, seen := m.lastAlert[kind]
	if seen && time.Since(last) < cooldown {
		m.mu.Unlock()
		return
	}
	m.lastAlert[kind] = time.Now()
	m.mu.Unlock()
	if kind == "critical" {
		m.log.Errorf(format, args...)
		return
	}
	m.log.Warnf(format, args...)
}

func (m *Monitor) adjustHint(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.hint + delta
	if next < m.minHint {
		next = m.minHint
	}
	if next > m.maxHint {
		next = m.maxHint
	}
	if next != m.hint {
		m.log.Debugf("batch size hint %d -> %d", m.hint, next)
		m.hint = next
	}
}

func (m *Monitor) setHealthy(v bool) {
	m.mu.Lock()
	m.healthy = v
	m.mu.Unlock()
}
