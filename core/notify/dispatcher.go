// Package notify implements the parallel notification fan-out engine and the
// single-recipient courtesy messages around the request lifecycle.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coopertaxi/dispatchd/core/events"
	"github.com/coopertaxi/dispatchd/core/logger"
	"github.com/coopertaxi/dispatchd/core/metrics"
	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/transport"
	"github.com/coopertaxi/dispatchd/internal/eventbus"
)

// BatchSizer recommends a batch size for the next broadcast. The health
// monitor implements this; a nil sizer keeps the configured baseline.
type BatchSizer interface {
	BatchSizeHint() int
}

// Result aggregates one broadcast. A Result with zero sent recipients means
// no driver is reachable and the caller must cancel the request.
type Result struct {
	Sent   int
	Failed int
	Errors []string
}

// Dispatcher fans a request out to eligible drivers in adaptively sized
// batches with per-recipient retries.
type Dispatcher struct {
	sender  transport.Sender
	sizer   BatchSizer
	cfg     Config
	log     logger.Logger
	metrics metrics.MetricsSink
	bus     eventbus.EventBus
}

// NewDispatcher creates a Dispatcher. sizer, sink and bus may be nil.
func NewDispatcher(sender transport.Sender, sizer BatchSizer, cfg Config, log logger.Logger, sink metrics.MetricsSink, bus eventbus.EventBus) (*Dispatcher, error) {
	if sender == nil || log == nil {
		return nil, fmt.Errorf("notify: nil sender or logger")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Dispatcher{sender: sender, sizer: sizer, cfg: cfg, log: log, metrics: sink, bus: bus}, nil
}

// Broadcast notifies every driver in the list about the request. Batches of
// up to batchSize recipients are processed MaxParallelBatches at a time, with
// a pause between batch-groups. Individual failures are retried locally and
// recorded in the result; they never abort the broadcast.
func (d *Dispatcher) Broadcast(ctx context.Context, req *model.Request, drivers []model.Driver) Result {
	start := time.Now()
	var res Result
	if len(drivers) == 0 {
		return res
	}

	size := d.batchSize()
	batches := partition(drivers, size)
	groups := (len(batches) + d.cfg.MaxParallelBatches - 1) / d.cfg.MaxParallelBatches
	d.log.Infof("broadcasting request %s to %d drivers (%d batches of up to %d, %d groups)",
		req.ID, len(drivers), len(batches), size, groups)

	body := DriverNotification(req.RequesterName, req.DisplayLocation(), req.ID)

	var mu sync.Mutex
	record := func(drv model.Driver, attempts int, err error) {
		mu.Lock()
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", drv.Phone, err))
		} else {
			res.Sent++
		}
		mu.Unlock()
		if d.bus != nil {
			d.bus.Publish(events.SendAttempted{
				RequestID: req.ID,
				Identity:  drv.Phone,
				Attempts:  attempts,
				Delivered: err == nil,
				Err:       err,
			})
		}
	}

	for g := 0; g < len(batches); g += d.cfg.MaxParallelBatches {
		end := g + d.cfg.MaxParallelBatches
		if end > len(batches) {
			end = len(batches)
		}
		var wg sync.WaitGroup
		for _, batch := range batches[g:end] {
			for _, drv := range batch {
				wg.Add(1)
				go func(drv model.Driver) {
					defer wg.Done()
					sendStart := time.Now()
					attempts, err := d.sendWithRetry(ctx, drv.Phone, body, req.Coordinates, req.DisplayLocation())
					record(drv, attempts, err)
					if sr, ok := d.metrics.(metrics.SendRecorder); ok {
						if merr := sr.RecordSend(metrics.SendEvent{
							RequestID: req.ID,
							Identity:  drv.Phone,
							Attempts:  attempts,
							Delivered: err == nil,
							Latency:   time.Since(sendStart),
							Time:      time.Now(),
						}); merr != nil {
							d.log.Errorf("send metrics error: %v", merr)
						}
					}
				}(drv)
			}
		}
		wg.Wait()

		if end < len(batches) {
			select {
			case <-time.After(d.cfg.batchGroupDelay()):
			case <-ctx.Done():
				d.log.Warnf("broadcast for %s interrupted: %v", req.ID, ctx.Err())
				return res
			}
		}
	}

	d.log.Infof("broadcast for %s done: %d sent, %d failed", req.ID, res.Sent, res.Failed)
	if err := d.metrics.RecordBroadcast(metrics.BroadcastResult{
		RequestID: req.ID,
		Sent:      res.Sent,
		Failed:    res.Failed,
		BatchSize: size,
		Duration:  time.Since(start),
		Time:      time.Now(),
	}); err != nil {
		d.log.Errorf("broadcast metrics error: %v", err)
	}
	if d.bus != nil {
		d.bus.Publish(events.BroadcastFinished{
			RequestID: req.ID,
			Sent:      res.Sent,
			Failed:    res.Failed,
			Duration:  time.Since(start),
		})
	}
	return res
}

// sendWithRetry delivers to one recipient, retrying transient failures with
// a backoff that scales linearly with the attempt number. A session
// corruption error triggers a repair before the next attempt. Returns the
// number of attempts made and the final error, nil on success.
func (d *Dispatcher) sendWithRetry(ctx context.Context, identity, body string, coords *model.Coordinates, label string) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		lastErr = d.sendOnce(ctx, identity, body, coords, label)
		if lastErr == nil {
			return attempt, nil
		}
		d.log.Warnf("send to %s failed (attempt %d/%d): %v", identity, attempt, d.cfg.MaxAttempts, lastErr)

		if errors.Is(lastErr, transport.ErrSessionCorrupted) {
			if rerr := d.sender.RepairSession(ctx, identity); rerr != nil {
				d.log.Errorf("session repair for %s failed: %v", identity, rerr)
			} else {
				d.log.Infof("session repaired for %s", identity)
			}
		}

		if attempt < d.cfg.MaxAttempts {
			select {
			case <-time.After(d.cfg.retryBaseDelay() * time.Duration(attempt)):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}
	}
	return d.cfg.MaxAttempts, lastErr
}

// sendOnce performs a single bounded delivery attempt. When the request
// carries a GPS fix the map pin goes out first; a failed pin is logged but
// does not fail the attempt.
func (d *Dispatcher) sendOnce(ctx context.Context, identity, body string, coords *model.Coordinates, label string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.sendTimeout())
	defer cancel()

	if coords != nil {
		if err := d.sender.SendLocation(attemptCtx, identity, *coords, label); err != nil {
			if errors.Is(err, transport.ErrSessionCorrupted) {
				return err
			}
			d.log.Warnf("location pin to %s failed, sending text only: %v", identity, err)
		}
	}
	return d.sender.Send(attemptCtx, identity, body)
}

func (d *Dispatcher) batchSize() int {
	size := d.cfg.BatchSize
	if d.sizer != nil {
		size = d.sizer.BatchSizeHint()
	}
	if size < d.cfg.MinBatchSize {
		size = d.cfg.MinBatchSize
	}
	if size > d.cfg.MaxBatchSize {
		size = d.cfg.MaxBatchSize
	}
	return size
}

func partition(drivers []model.Driver, size int) [][]model.Driver {
	var batches [][]model.Driver
	for i := 0; i < len(drivers); i += size {
		end := i + size
		if end > len(drivers) {
			end = len(drivers)
		}
		batches = append(batches, drivers[i:end])
	}
	return batches
}
