package mqtt

import (
	"context"
	"sync"

	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/transport"
)

// SentMessage records one outbound call on the mock.
type SentMessage struct {
	Identity string
	Body     string
	Kind     string
	Label    string
}

// MockBridge is an in-memory transport used in tests. Failures and session
// corruption are scripted per identity.
type MockBridge struct {
	mu sync.Mutex

	Sent     []SentMessage
	Repaired []string

	// FailIdentities makes Send fail for those identities.
	FailIdentities map[string]bool
	// CorruptIdentities makes Send report a corrupted session until the
	// identity is repaired.
	CorruptIdentities map[string]bool

	Down bool

	inbound chan transport.Message
}

func NewMockBridge() *MockBridge {
	return &MockBridge{
		FailIdentities:    make(map[string]bool),
		CorruptIdentities: make(map[string]bool),
		inbound:           make(chan transport.Message, 16),
	}
}

func (m *MockBridge) Send(_ context.Context, identity, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return transport.ErrNotConnected
	}
	if m.CorruptIdentities[identity] {
		return transport.ErrSessionCorrupted
	}
	if m.FailIdentities[identity] {
		return transport.ErrDeliveryFailed
	}
	m.Sent = append(m.Sent, SentMessage{Identity: identity, Body: body, Kind: "text"})
	return nil
}

func (m *MockBridge) SendLocation(_ context.Context, identity string, _ model.Coordinates, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return transport.ErrNotConnected
	}
	if m.CorruptIdentities[identity] {
		return transport.ErrSessionCorrupted
	}
	if m.FailIdentities[identity] {
		return transport.ErrDeliveryFailed
	}
	m.Sent = append(m.Sent, SentMessage{Identity: identity, Kind: "location", Label: label})
	return nil
}

func (m *MockBridge) PresenceUpdate(_ context.Context, identity string, state transport.PresenceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{Identity: identity, Kind: "presence", Body: string(state)})
	return nil
}

// RepairSession clears scripted corruption for the identity.
func (m *MockBridge) RepairSession(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Repaired = append(m.Repaired, identity)
	delete(m.CorruptIdentities, identity)
	return nil
}

func (m *MockBridge) Messages() <-chan transport.Message {
	return m.inbound
}

// Inject pushes an inbound message into the stream.
func (m *MockBridge) Inject(msg transport.Message) {
	m.inbound <- msg
}

func (m *MockBridge) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.Down
}

func (m *MockBridge) Reconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Down = false
	return nil
}

func (m *MockBridge) Close() {}

// SentTo returns the text bodies delivered to the identity.
func (m *MockBridge) SentTo(identity string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.Sent {
		if s.Identity == identity && s.Kind == "text" {
			out = append(out, s.Body)
		}
	}
	return out
}
