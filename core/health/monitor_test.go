package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coopertaxi/dispatchd/infra/logger"
)

type fakeSampler struct {
	usage Usage
	err   error
}

func (f *fakeSampler) Sample(context.Context) (Usage, error) { return f.usage, f.err }

type fakeLink struct {
	connected  bool
	reconnects int
}

func (f *fakeLink) Connected() bool { return f.connected }
func (f *fakeLink) Reconnect(context.Context) error {
	f.reconnects++
	f.connected = true
	return nil
}

type fakeBusy struct{ active bool }

func (f fakeBusy) ActiveWork() bool { return f.active }

func testMonitor(sampler Sampler, link *fakeLink) *Monitor {
	cfg := Config{ReconnectDelaySeconds: 1}
	return New(cfg, link, sampler, nil, 8, 4, 12, logger.NopLogger{}, nil)
}

func TestHintShrinksUnderLoad(t *testing.T) {
	sampler := &fakeSampler{usage: Usage{CPUPercent: 70, ProcessRSSMB: 100}}
	m := testMonitor(sampler, &fakeLink{connected: true})

	m.checkResources(context.Background())
	assert.Equal(t, 6, m.BatchSizeHint())
	m.checkResources(context.Background())
	m.checkResources(context.Background())
	m.checkResources(context.Background())
	// Clamped at the lower bound.
	assert.Equal(t, 4, m.BatchSizeHint())
	assert.True(t, m.IsHealthy())
}

func TestHintGrowsWhenCalm(t *testing.T) {
	sampler := &fakeSampler{usage: Usage{CPUPercent: 10, ProcessRSSMB: 100}}
	m := testMonitor(sampler, &fakeLink{connected: true})

	for i := 0; i < 5; i++ {
		m.checkResources(context.Background())
	}
	assert.Equal(t, 12, m.BatchSizeHint())
}

func TestCriticalUsageMarksUnhealthy(t *testing.T) {
	sampler := &fakeSampler{usage: Usage{CPUPercent: 95, ProcessRSSMB: 7000}}
	m := testMonitor(sampler, &fakeLink{connected: true})

	m.checkResources(context.Background())
	assert.False(t, m.IsHealthy())
	assert.Equal(t, 6, m.BatchSizeHint())
}

func TestRecoveryRestoresHealth(t *testing.T) {
	sampler := &fakeSampler{usage: Usage{CPUPercent: 95, ProcessRSSMB: 7000}}
	m := testMonitor(sampler, &fakeLink{connected: true})
	m.checkResources(context.Background())
	assert.False(t, m.IsHealthy())

	sampler.usage = Usage{CPUPercent: 5, ProcessRSSMB: 100}
	m.checkResources(context.Background())
	assert.True(t, m.IsHealthy())
}

func TestIdleLeakDoesNotShrinkHint(t *testing.T) {
	sampler := &fakeSampler{usage: Usage{CPUPercent: 50, ProcessRSSMB: 3500}}
	m := testMonitor(sampler, &fakeLink{connected: true})
	m.SetBusyness(fakeBusy{active: false})

	m.checkResources(context.Background())
	assert.Equal(t, 8, m.BatchSizeHint())
	assert.True(t, m.IsHealthy())
}

func TestLinkReconnect(t *testing.T) {
	link := &fakeLink{connected: false}
	m := testMonitor(&fakeSampler{}, link)

	m.checkLink(context.Background())
	assert.Equal(t, 1, link.reconnects)
	assert.True(t, m.IsHealthy())

	// Already connected: no further reconnects.
	m.checkLink(context.Background())
	assert.Equal(t, 1, link.reconnects)
}

func TestAlertCooldown(t *testing.T) {
	m := testMonitor(&fakeSampler{}, &fakeLink{connected: true})

	first := func() bool {
		before := len(m.lastAlert)
		m.alert("warn", m.cfg.interval(), "x")
		return len(m.lastAlert) != before
	}
	assert.True(t, first())
	// Within the cooldown the timestamp is not refreshed.
	ts := m.lastAlert["warn"]
	m.alert("warn", m.cfg.interval(), "x")
	assert.Equal(t, ts, m.lastAlert["warn"])
}
