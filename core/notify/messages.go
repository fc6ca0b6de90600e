package notify

import "fmt"

// User-visible message catalog. Kept in one place so flows and notifications
// stay consistent.

const (
	MsgGreeting = "Hello! Welcome to the taxi cooperative."
	MsgAskName  = "What is your name?"
	MsgAskLocation = "Where should the taxi pick you up? " +
		"Send an address or share your location."

	MsgDriverAccepted = "Ride is yours. Head to the pickup point."
	MsgDriverTooLate  = "Too late, this ride was already taken by another driver."
	MsgDriverInactive = "Your driver account is inactive. Contact the operator."

	MsgNoDriversAvailable = "No drivers are available right now. Please try again later."
	MsgRequestTimeout     = "No driver accepted your request this time. Please try again."
	MsgCancelHint         = "Reply CANCEL at any time to cancel your request."
	MsgRequestCancelled   = "Your taxi request has been cancelled."
	MsgRideCompleted      = "Your ride is complete. Thanks for riding with us!"
	MsgSessionExpired     = "Your session expired due to inactivity. Say hi to start over."

	MsgStillSearching = "Still looking for a driver, hang tight."
	MsgDriverOnTheWay = "Your driver is on the way."
	MsgConfirmCancel  = "Are you sure you want to cancel your taxi request?\n1 Yes, cancel\n2 No, keep waiting"
	MsgRequestKept    = "Request kept. Still waiting for a driver."
	MsgAlreadyRiding  = "Your ride is already assigned. The driver is on the way."
)

// DriverNotification is the fan-out message offering a ride to the fleet.
func DriverNotification(clientName, location, requestID string) string {
	return fmt.Sprintf(
		"New ride request!\nClient: %s\nPickup: %s\nReply 1 to accept.\nRef: %s",
		clientName, location, requestID,
	)
}

// RequesterAssigned tells the requester which driver is coming.
func RequesterAssigned(driverName, plate, phone string, etaMinutes int) string {
	return fmt.Sprintf(
		"Taxi assigned!\nDriver: %s\nPlate: %s\nPhone: %s\nArriving in about %d minutes.",
		driverName, plate, phone, etaMinutes,
	)
}

// RideTaken tells the rest of the fleet the ride is gone.
func RideTaken(driverName string) string {
	return fmt.Sprintf("Ride taken by %s. Stay tuned for the next one.", driverName)
}

// Searching tells the requester how many drivers were notified.
func Searching(notified int, windowSeconds int) string {
	return fmt.Sprintf(
		"Looking for a taxi...\nNotified %d available drivers.\nWaiting up to %d seconds for a response.",
		notified, windowSeconds,
	)
}

// DriverAssignedDetails gives the winning driver the pickup details.
func DriverAssignedDetails(clientName, location, phone string) string {
	return fmt.Sprintf("Client: %s\nPickup: %s\nPhone: %s", clientName, location, phone)
}

// DriverInfo summarizes a driver's own registration.
func DriverInfo(name, plate, zone string, active bool) string {
	status := "inactive"
	if active {
		status = "active"
	}
	if zone == "" {
		zone = "not set"
	}
	return fmt.Sprintf("Name: %s\nPlate: %s\nZone: %s\nStatus: %s", name, plate, zone, status)
}
