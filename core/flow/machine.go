// Package flow drives the requester conversation as a small state machine.
// The machine is pure: handling a message yields effects, and the caller
// executes them against the transport and the request lifecycle.
package flow

import (
	"strings"
	"sync"

	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/notify"
)

// State is the position of one requester in the conversation.
type State int

const (
	StateIdle State = iota
	StateAwaitingName
	StateAwaitingLocation
	StateAwaitingDispatch
	StateConfirmCancel
	StateAssigned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingName:
		return "awaiting_name"
	case StateAwaitingLocation:
		return "awaiting_location"
	case StateAwaitingDispatch:
		return "awaiting_dispatch"
	case StateConfirmCancel:
		return "confirm_cancel"
	case StateAssigned:
		return "assigned"
	default:
		return "unknown"
	}
}

// Event is one inbound requester message.
type Event struct {
	Text        string
	Coordinates *model.Coordinates
}

// Effect is an action the caller must execute. The concrete types below are
// the only implementations.
type Effect interface{ isEffect() }

// Reply sends a text back to the requester.
type Reply struct{ Body string }

// CreateRequest opens a taxi request with the collected details.
type CreateRequest struct {
	Name        string
	Location    string
	Coordinates *model.Coordinates
}

// CancelPending cancels the requester's open request, if any.
type CancelPending struct{}

// ClearSession discards the requester's conversation state.
type ClearSession struct{}

func (Reply) isEffect()         {}
func (CreateRequest) isEffect() {}
func (CancelPending) isEffect() {}
func (ClearSession) isEffect()  {}

type session struct {
	state State
	name  string
}

// Machine holds conversation state per requester. Safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func NewMachine() *Machine {
	return &Machine{sessions: make(map[string]*session)}
}

func isCancelText(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "cancel", "cancelar", "stop":
		return true
	}
	return false
}

// Handle advances the requester's conversation with one message and returns
// the effects to execute, in order.
func (m *Machine) Handle(requesterID string, ev Event) []Effect {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[requesterID]
	if !ok {
		sess = &session{state: StateIdle}
		m.sessions[requesterID] = sess
	}

	switch sess.state {
	case StateIdle:
		sess.state = StateAwaitingName
		return []Effect{
			Reply{Body: notify.MsgGreeting},
			Reply{Body: notify.MsgAskName},
		}

	case StateAwaitingName:
		name := strings.TrimSpace(ev.Text)
		if err := model.ValidateName(name); err != nil {
			return []Effect{Reply{Body: notify.MsgAskName}}
		}
		sess.name = name
		sess.state = StateAwaitingLocation
		return []Effect{Reply{Body: notify.MsgAskLocation}}

	case StateAwaitingLocation:
		if ev.Coordinates != nil && ev.Coordinates.Valid() {
			sess.state = StateAwaitingDispatch
			return []Effect{CreateRequest{Name: sess.name, Coordinates: ev.Coordinates}}
		}
		location := strings.TrimSpace(ev.Text)
		if err := model.ValidateLocation(location); err != nil {
			return []Effect{Reply{Body: notify.MsgAskLocation}}
		}
		sess.state = StateAwaitingDispatch
		return []Effect{CreateRequest{Name: sess.name, Location: location}}

	case StateAwaitingDispatch:
		if isCancelText(ev.Text) {
			sess.state = StateConfirmCancel
			return []Effect{Reply{Body: notify.MsgConfirmCancel}}
		}
		return []Effect{Reply{Body: notify.MsgStillSearching}}

	case StateConfirmCancel:
		if model.IsAcceptCommand(ev.Text) {
			delete(m.sessions, requesterID)
			return []Effect{CancelPending{}, ClearSession{}}
		}
		if text := strings.TrimSpace(ev.Text); text == "2" || model.IsRejectCommand(text) {
			sess.state = StateAwaitingDispatch
			return []Effect{Reply{Body: notify.MsgRequestKept}}
		}
		return []Effect{Reply{Body: notify.MsgConfirmCancel}}

	case StateAssigned:
		// No cancel path once a driver is assigned; the ride ends when the
		// driver completes it.
		if isCancelText(ev.Text) {
			return []Effect{Reply{Body: notify.MsgAlreadyRiding}}
		}
		return []Effect{Reply{Body: notify.MsgDriverOnTheWay}}
	}
	return nil
}

// SetState forces the requester into a state, for transitions driven by the
// lifecycle rather than by a message (assignment, timeout).
func (m *Machine) SetState(requesterID string, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[requesterID]
	if !ok {
		sess = &session{}
		m.sessions[requesterID] = sess
	}
	sess.state = st
}

// StateOf returns the requester's current state, StateIdle when unknown.
func (m *Machine) StateOf(requesterID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[requesterID]; ok {
		return sess.state
	}
	return StateIdle
}

// Clear discards the requester's conversation state.
func (m *Machine) Clear(requesterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, requesterID)
}
