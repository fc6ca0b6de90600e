package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/transport"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakePahoClient struct {
	connected bool
	published []publishedCmd
	onPublish func(topic string, payload []byte)
}

type publishedCmd struct {
	topic   string
	payload []byte
}

func (c *fakePahoClient) IsConnected() bool { return c.connected }
func (c *fakePahoClient) Connect() paho.Token {
	c.connected = true
	return &fakeToken{}
}
func (c *fakePahoClient) Disconnect(uint) { c.connected = false }
func (c *fakePahoClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	raw := payload.([]byte)
	c.published = append(c.published, publishedCmd{topic: topic, payload: raw})
	if c.onPublish != nil {
		c.onPublish(topic, raw)
	}
	return &fakeToken{}
}
func (c *fakePahoClient) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return &fakeToken{}
}

func newTestBridge(t *testing.T) (*Bridge, *fakePahoClient) {
	t.Helper()
	cli := &fakePahoClient{}
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return cli }
	t.Cleanup(func() { newMQTTClient = orig })

	b, err := NewBridge(Config{Broker: "tcp://test:1883", AckTimeoutSeconds: 1})
	require.NoError(t, err)
	return b, cli
}

// ackWith replies to every published command with the given gateway report.
func ackWith(b *Bridge, status, errText string) func(string, []byte) {
	return func(_ string, payload []byte) {
		var out outbound
		if err := json.Unmarshal(payload, &out); err != nil {
			return
		}
		reply, _ := json.Marshal(ack{CommandID: out.CommandID, Status: status, Error: errText})
		go b.onAck(nil, &fakeMessage{topic: b.ackTopic(), payload: reply})
	}
}

func TestSendWaitsForAck(t *testing.T) {
	b, cli := newTestBridge(t)
	cli.onPublish = ackWith(b, "ok", "")

	err := b.Send(context.Background(), "3005550001", "hello")
	require.NoError(t, err)

	require.Len(t, cli.published, 1)
	assert.Equal(t, "chat/3005550001/send", cli.published[0].topic)
	var out outbound
	require.NoError(t, json.Unmarshal(cli.published[0].payload, &out))
	assert.Equal(t, "text", out.Kind)
	assert.Equal(t, "hello", out.Body)
	assert.Equal(t, "3005550001", out.To)
	assert.NotEmpty(t, out.CommandID)
}

func TestSendBadMacIsSessionCorruption(t *testing.T) {
	b, cli := newTestBridge(t)
	cli.onPublish = ackWith(b, "error", "bad_mac")

	err := b.Send(context.Background(), "3005550001", "hello")
	assert.ErrorIs(t, err, transport.ErrSessionCorrupted)
}

func TestSendGatewayErrorIsDeliveryFailure(t *testing.T) {
	b, cli := newTestBridge(t)
	cli.onPublish = ackWith(b, "error", "recipient unknown")

	err := b.Send(context.Background(), "3005550001", "hello")
	assert.ErrorIs(t, err, transport.ErrDeliveryFailed)
	assert.NotErrorIs(t, err, transport.ErrSessionCorrupted)
}

func TestSendAckTimeout(t *testing.T) {
	b, _ := newTestBridge(t)
	// No ack ever arrives.
	err := b.Send(context.Background(), "3005550001", "hello")
	assert.ErrorIs(t, err, transport.ErrDeliveryFailed)
}

func TestSendContextCancelled(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Send(ctx, "3005550001", "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendWhileDisconnected(t *testing.T) {
	b, cli := newTestBridge(t)
	cli.connected = false
	err := b.Send(context.Background(), "3005550001", "hello")
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestRepairSessionUsesRepairTopic(t *testing.T) {
	b, cli := newTestBridge(t)
	cli.onPublish = ackWith(b, "ok", "")

	require.NoError(t, b.RepairSession(context.Background(), "3005550001"))
	require.Len(t, cli.published, 1)
	assert.Equal(t, "chat/3005550001/repair", cli.published[0].topic)
}

func TestSendLocationPayload(t *testing.T) {
	b, cli := newTestBridge(t)
	cli.onPublish = ackWith(b, "ok", "")

	coords := model.Coordinates{Latitude: 4.6097, Longitude: -74.0817}
	require.NoError(t, b.SendLocation(context.Background(), "3005550001", coords, "Pickup"))

	var out outbound
	require.NoError(t, json.Unmarshal(cli.published[0].payload, &out))
	assert.Equal(t, "location", out.Kind)
	require.NotNil(t, out.Latitude)
	assert.InDelta(t, 4.6097, *out.Latitude, 1e-9)
	assert.Equal(t, "Pickup", out.Label)
}

func TestInboundMessageRouting(t *testing.T) {
	b, _ := newTestBridge(t)

	lat, lon := 4.6097, -74.0817
	payload, _ := json.Marshal(inbound{
		From: "3005550009", PushName: "Ana", Body: "need a taxi",
		Latitude: &lat, Longitude: &lon,
	})
	b.onInbound(nil, &fakeMessage{topic: b.inboundTopic(), payload: payload})

	select {
	case m := <-b.Messages():
		assert.Equal(t, "3005550009", m.From)
		assert.Equal(t, "Ana", m.PushName)
		assert.Equal(t, "need a taxi", m.Body)
		require.NotNil(t, m.Coordinates)
		assert.InDelta(t, 4.6097, m.Coordinates.Latitude, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("inbound message never surfaced")
	}
}

func TestInboundMalformedPayloadIsDropped(t *testing.T) {
	b, _ := newTestBridge(t)
	b.onInbound(nil, &fakeMessage{topic: b.inboundTopic(), payload: []byte("{not json")})

	select {
	case m := <-b.Messages():
		t.Fatalf("unexpected message: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClassifyAck(t *testing.T) {
	assert.NoError(t, classifyAck(ack{CommandID: "c1", Status: "ok"}))
	assert.ErrorIs(t, classifyAck(ack{CommandID: "c2", Status: "error", Error: "bad_mac"}), transport.ErrSessionCorrupted)
	assert.ErrorIs(t, classifyAck(ack{CommandID: "c3", Status: "error", Error: "boom"}), transport.ErrDeliveryFailed)
}
