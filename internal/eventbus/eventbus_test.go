package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish("hello")

	assert.Equal(t, "hello", <-a)
	assert.Equal(t, "hello", <-b)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	bus.Publish("ignored")
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// The buffer holds the first events; the overflow was dropped.
	first, ok := <-sub
	require.True(t, ok)
	assert.Equal(t, 0, first)
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := New()
	sub := bus.Subscribe()

	bus.Close()
	bus.Close()

	_, ok := <-sub
	assert.False(t, ok)

	// Subscribing after close returns a closed channel.
	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}
