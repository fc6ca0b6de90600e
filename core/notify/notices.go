package notify

import (
	"context"
	"math/rand"
	"time"

	"github.com/coopertaxi/dispatchd/core/logger"
	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/transport"
)

const (
	etaMinMinutes = 5
	etaMaxMinutes = 12

	// Pause between presence "composing" and the actual message, to read
	// naturally on the requester's side.
	composePause = time.Second
)

// Notifier sends the single-recipient courtesy messages around the request
// lifecycle. All methods are best-effort: failures are logged and swallowed,
// the lifecycle never blocks on a courtesy message.
type Notifier struct {
	sender transport.Sender
	log    logger.Logger
}

func NewNotifier(sender transport.Sender, log logger.Logger) *Notifier {
	return &Notifier{sender: sender, log: log}
}

// RequesterAssigned tells the requester their driver is on the way, with an
// estimated arrival window. A cancel hint follows as a separate message.
func (n *Notifier) RequesterAssigned(ctx context.Context, requesterPhone string, driver model.Driver) {
	if err := n.sender.PresenceUpdate(ctx, requesterPhone, transport.PresenceComposing); err != nil {
		n.log.Debugf("presence update for %s failed: %v", requesterPhone, err)
	}
	select {
	case <-time.After(composePause):
	case <-ctx.Done():
		return
	}

	eta := etaMinMinutes + rand.Intn(etaMaxMinutes-etaMinMinutes+1)
	n.send(ctx, requesterPhone, RequesterAssigned(driver.Name, driver.Plate, driver.Phone, eta))
	n.send(ctx, requesterPhone, MsgCancelHint)
}

// DriverAccepted confirms the win to the accepting driver and sends the
// pickup details.
func (n *Notifier) DriverAccepted(ctx context.Context, driver model.Driver, req model.Request) {
	n.send(ctx, driver.Phone, MsgDriverAccepted)
	n.send(ctx, driver.Phone, DriverAssignedDetails(req.RequesterName, req.DisplayLocation(), req.RequesterPhone))
	if req.Coordinates != nil {
		if err := n.sender.SendLocation(ctx, driver.Phone, *req.Coordinates, req.DisplayLocation()); err != nil {
			n.log.Warnf("pickup pin to %s failed: %v", driver.Phone, err)
		}
	}
}

// DriverTooLate tells a losing driver the ride was already taken.
func (n *Notifier) DriverTooLate(ctx context.Context, driverPhone string) {
	n.send(ctx, driverPhone, MsgDriverTooLate)
}

// DriverInactive tells a driver their account cannot accept rides.
func (n *Notifier) DriverInactive(ctx context.Context, driverPhone string) {
	n.send(ctx, driverPhone, MsgDriverInactive)
}

// OthersTaken tells the drivers who did not win that the ride is gone.
// Sequential on purpose: this is low-urgency cleanup traffic.
func (n *Notifier) OthersTaken(ctx context.Context, drivers []model.Driver, winnerPhone, winnerName string) {
	for _, drv := range drivers {
		if drv.Phone == winnerPhone {
			continue
		}
		n.send(ctx, drv.Phone, RideTaken(winnerName))
	}
}

// RequesterSearching tells the requester how many drivers were reached.
func (n *Notifier) RequesterSearching(ctx context.Context, requesterPhone string, notified, windowSeconds int) {
	n.send(ctx, requesterPhone, Searching(notified, windowSeconds))
}

// RequesterNoDrivers tells the requester nobody was reachable.
func (n *Notifier) RequesterNoDrivers(ctx context.Context, requesterPhone string) {
	n.send(ctx, requesterPhone, MsgNoDriversAvailable)
}

// RequesterTimeout tells the requester no driver accepted in time.
func (n *Notifier) RequesterTimeout(ctx context.Context, requesterPhone string) {
	n.send(ctx, requesterPhone, MsgRequestTimeout)
}

// RequesterCancelled confirms a cancellation to the requester.
func (n *Notifier) RequesterCancelled(ctx context.Context, requesterPhone string) {
	n.send(ctx, requesterPhone, MsgRequestCancelled)
}

// RequesterCompleted thanks the requester after the ride finishes.
func (n *Notifier) RequesterCompleted(ctx context.Context, requesterPhone string) {
	n.send(ctx, requesterPhone, MsgRideCompleted)
}

func (n *Notifier) send(ctx context.Context, identity, body string) {
	if err := n.sender.Send(ctx, identity, body); err != nil {
		n.log.Warnf("notice to %s failed: %v", identity, err)
	}
}
