// Package audit consumes the domain events published on the internal bus and
// writes them as one chronological trail, independent of the per-component
// logs.
package audit

import (
	"context"

	"github.com/coopertaxi/dispatchd/core/events"
	"github.com/coopertaxi/dispatchd/infra/logger"
	"github.com/coopertaxi/dispatchd/internal/eventbus"
)

// Start subscribes to the event bus and logs every domain event until the
// context is cancelled. It returns immediately.
func Start(ctx context.Context, bus eventbus.EventBus, log logger.Logger) {
	if bus == nil || log == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				record(log, ev)
			}
		}
	}()
}

func record(log logger.Logger, ev eventbus.Event) {
	switch e := ev.(type) {
	case events.RequestCreated:
		log.Infof("request %s created by %s (%s)",
			e.Request.ID, e.Request.RequesterPhone, e.Request.DisplayLocation())
	case events.RequestCancelled:
		log.Infof("request %s cancelled (%s)", e.RequestID, e.Reason)
	case events.RequestCompleted:
		log.Infof("request %s completed by driver %s", e.RequestID, e.DriverID)
	case events.AssignmentDecided:
		if e.Won {
			log.Infof("request %s assigned to %s", e.RequestID, e.DriverPhone)
		} else {
			log.Infof("request %s accept by %s lost the race", e.RequestID, e.DriverPhone)
		}
	case events.BroadcastFinished:
		log.Infof("broadcast for request %s: %d sent, %d failed in %s",
			e.RequestID, e.Sent, e.Failed, e.Duration)
	case events.SendAttempted:
		log.Debugw("send attempted", map[string]any{
			"request_id": e.RequestID,
			"identity":   e.Identity,
			"attempts":   e.Attempts,
			"delivered":  e.Delivered,
			"error":      e.Err,
		})
	case events.TransportStateChanged:
		if e.Connected {
			log.Infof("transport connected at %s", e.At.Format("15:04:05"))
		} else {
			log.Warnf("transport disconnected at %s", e.At.Format("15:04:05"))
		}
	}
}
