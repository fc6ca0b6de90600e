package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/notify"
)

const rider = "3005551234"

func replies(effects []Effect) []string {
	var out []string
	for _, e := range effects {
		if r, ok := e.(Reply); ok {
			out = append(out, r.Body)
		}
	}
	return out
}

func TestConversationHappyPath(t *testing.T) {
	m := NewMachine()

	effects := m.Handle(rider, Event{Text: "hola"})
	assert.Equal(t, []string{notify.MsgGreeting, notify.MsgAskName}, replies(effects))
	assert.Equal(t, StateAwaitingName, m.StateOf(rider))

	effects = m.Handle(rider, Event{Text: "Ana Maria"})
	assert.Equal(t, []string{notify.MsgAskLocation}, replies(effects))
	assert.Equal(t, StateAwaitingLocation, m.StateOf(rider))

	effects = m.Handle(rider, Event{Text: "Calle 10 #4-32"})
	require.Len(t, effects, 1)
	create, ok := effects[0].(CreateRequest)
	require.True(t, ok)
	assert.Equal(t, "Ana Maria", create.Name)
	assert.Equal(t, "Calle 10 #4-32", create.Location)
	assert.Equal(t, StateAwaitingDispatch, m.StateOf(rider))
}

func TestConversationGPSLocation(t *testing.T) {
	m := NewMachine()
	m.Handle(rider, Event{Text: "hi"})
	m.Handle(rider, Event{Text: "Ana"})

	coords := &model.Coordinates{Latitude: 4.6, Longitude: -74.08}
	effects := m.Handle(rider, Event{Coordinates: coords})
	require.Len(t, effects, 1)
	create, ok := effects[0].(CreateRequest)
	require.True(t, ok)
	assert.Equal(t, coords, create.Coordinates)
	assert.Empty(t, create.Location)
}

func TestInvalidInputReprompts(t *testing.T) {
	m := NewMachine()
	m.Handle(rider, Event{Text: "hi"})

	effects := m.Handle(rider, Event{Text: "x"})
	assert.Equal(t, []string{notify.MsgAskName}, replies(effects))
	assert.Equal(t, StateAwaitingName, m.StateOf(rider))

	m.Handle(rider, Event{Text: "Ana"})
	effects = m.Handle(rider, Event{Text: "abc"})
	assert.Equal(t, []string{notify.MsgAskLocation}, replies(effects))
	assert.Equal(t, StateAwaitingLocation, m.StateOf(rider))
}

func TestCancelAsksForConfirmation(t *testing.T) {
	m := NewMachine()
	m.Handle(rider, Event{Text: "hi"})
	m.Handle(rider, Event{Text: "Ana"})
	m.Handle(rider, Event{Text: "Calle 10 #4-32"})

	effects := m.Handle(rider, Event{Text: "CANCEL"})
	assert.Equal(t, []string{notify.MsgConfirmCancel}, replies(effects))
	assert.Equal(t, StateConfirmCancel, m.StateOf(rider))

	effects = m.Handle(rider, Event{Text: "1"})
	require.Len(t, effects, 2)
	_, ok := effects[0].(CancelPending)
	assert.True(t, ok)
	_, ok = effects[1].(ClearSession)
	assert.True(t, ok)
	assert.Equal(t, StateIdle, m.StateOf(rider))
}

func TestCancelDeclinedKeepsRequest(t *testing.T) {
	m := NewMachine()
	m.Handle(rider, Event{Text: "hi"})
	m.Handle(rider, Event{Text: "Ana"})
	m.Handle(rider, Event{Text: "Calle 10 #4-32"})
	m.Handle(rider, Event{Text: "cancel"})

	effects := m.Handle(rider, Event{Text: "2"})
	assert.Equal(t, []string{notify.MsgRequestKept}, replies(effects))
	assert.Equal(t, StateAwaitingDispatch, m.StateOf(rider))
}

func TestCancelConfirmationReprompts(t *testing.T) {
	m := NewMachine()
	m.Handle(rider, Event{Text: "hi"})
	m.Handle(rider, Event{Text: "Ana"})
	m.Handle(rider, Event{Text: "Calle 10 #4-32"})
	m.Handle(rider, Event{Text: "cancel"})

	effects := m.Handle(rider, Event{Text: "maybe?"})
	assert.Equal(t, []string{notify.MsgConfirmCancel}, replies(effects))
	assert.Equal(t, StateConfirmCancel, m.StateOf(rider))
}

func TestCancelWhileAssigned(t *testing.T) {
	m := NewMachine()
	m.Handle(rider, Event{Text: "hi"})
	m.SetState(rider, StateAssigned)

	effects := m.Handle(rider, Event{Text: "cancel"})
	assert.Equal(t, []string{notify.MsgAlreadyRiding}, replies(effects))
	assert.Equal(t, StateAssigned, m.StateOf(rider))
}

func TestChatterWhileWaiting(t *testing.T) {
	m := NewMachine()
	m.Handle(rider, Event{Text: "hi"})
	m.Handle(rider, Event{Text: "Ana"})
	m.Handle(rider, Event{Text: "Calle 10 #4-32"})

	effects := m.Handle(rider, Event{Text: "is anyone coming?"})
	require.Len(t, effects, 1)
	_, ok := effects[0].(Reply)
	assert.True(t, ok)
	assert.Equal(t, StateAwaitingDispatch, m.StateOf(rider))
}

func TestClearResetsConversation(t *testing.T) {
	m := NewMachine()
	m.Handle(rider, Event{Text: "hi"})
	m.Clear(rider)
	assert.Equal(t, StateIdle, m.StateOf(rider))

	effects := m.Handle(rider, Event{Text: "hello again"})
	assert.Equal(t, []string{notify.MsgGreeting, notify.MsgAskName}, replies(effects))
}
