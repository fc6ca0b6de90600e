// Package mqtt bridges the dispatch core to the chat gateway over an MQTT
// broker. Outbound messages are published per recipient and confirmed with
// acknowledgments on a shared ack topic; inbound chat traffic arrives on a
// single topic and is surfaced as a message stream.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/core/transport"
	"github.com/coopertaxi/dispatchd/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT bridge.
type Config struct {
	Broker            string          `json:"broker"`
	ClientID          string          `json:"client_id"`
	Username          string          `json:"username"`
	Password          string          `json:"password"`
	TopicPrefix       string          `json:"topic_prefix"`
	UseTLS            bool            `json:"use_tls"`
	ClientCert        string          `json:"client_cert"`
	ClientKey         string          `json:"client_key"`
	CABundle          string          `json:"ca_bundle"`
	QoS               map[string]byte `json:"qos"`
	AckTimeoutSeconds int             `json:"ack_timeout_seconds"`
	InboundBuffer     int             `json:"inbound_buffer"`
	TLSConfig         *tls.Config     `json:"-"`
}

func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "chat"
	}
	if c.ClientID == "" {
		c.ClientID = "dispatchd"
	}
	if c.AckTimeoutSeconds <= 0 {
		c.AckTimeoutSeconds = 15
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 64
	}
}

func (c Config) ackTimeout() time.Duration {
	return time.Duration(c.AckTimeoutSeconds) * time.Second
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// outbound is the wire form of one command to the chat gateway.
type outbound struct {
	CommandID string   `json:"command_id"`
	To        string   `json:"to"`
	Kind      string   `json:"kind"`
	Body      string   `json:"body,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Label     string   `json:"label,omitempty"`
	Presence  string   `json:"presence,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// ack is the gateway's delivery report for one command.
type ack struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// inbound is the wire form of one chat message from the gateway.
type inbound struct {
	From      string   `json:"from"`
	PushName  string   `json:"push_name"`
	Body      string   `json:"body"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Bridge implements transport.Bridge over a Paho MQTT client.
type Bridge struct {
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	cli      pahoClient
	ackChans map[string]chan ack

	messages chan transport.Message
}

// NewBridge connects to the broker and subscribes to the ack and inbound
// topics.
func NewBridge(cfg Config) (*Bridge, error) {
	cfg.SetDefaults()
	log := logger.New("mqtt_bridge")
	b := &Bridge{
		cfg:      cfg,
		log:      log,
		ackChans: make(map[string]chan ack),
		messages: make(chan transport.Message, cfg.InboundBuffer),
	}

	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(b.ackTopic(), b.qos("ack"), b.onAck); token.Wait() && token.Error() != nil {
			log.Errorf("ack subscribe error: %v", token.Error())
		}
		if token := c.Subscribe(b.inboundTopic(), b.qos("inbound"), b.onInbound); token.Wait() && token.Error() != nil {
			log.Errorf("inbound subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	b.cli = cli
	return b, nil
}

func (b *Bridge) ackTopic() string     { return b.cfg.TopicPrefix + "/ack" }
func (b *Bridge) inboundTopic() string { return b.cfg.TopicPrefix + "/inbound" }

func (b *Bridge) sendTopic(identity string) string {
	return fmt.Sprintf("%s/%s/send", b.cfg.TopicPrefix, identity)
}

func (b *Bridge) repairTopic(identity string) string {
	return fmt.Sprintf("%s/%s/repair", b.cfg.TopicPrefix, identity)
}

func (b *Bridge) qos(kind string) byte {
	if q, ok := b.cfg.QoS[kind]; ok {
		return q
	}
	return 0
}

func (b *Bridge) onAck(_ paho.Client, msg paho.Message) {
	var a ack
	if err := json.Unmarshal(msg.Payload(), &a); err != nil {
		b.log.Errorf("failed to decode ack: %v", err)
		return
	}
	b.mu.Lock()
	ch, ok := b.ackChans[a.CommandID]
	b.mu.Unlock()
	if ok {
		select {
		case ch <- a:
		default:
		}
	}
}

func (b *Bridge) onInbound(_ paho.Client, msg paho.Message) {
	var in inbound
	if err := json.Unmarshal(msg.Payload(), &in); err != nil {
		b.log.Errorf("failed to decode inbound message: %v", err)
		return
	}
	m := transport.Message{
		From:       in.From,
		PushName:   in.PushName,
		Body:       in.Body,
		ReceivedAt: time.Now(),
	}
	if in.Latitude != nil && in.Longitude != nil {
		m.Coordinates = &model.Coordinates{Latitude: *in.Latitude, Longitude: *in.Longitude}
	}
	select {
	case b.messages <- m:
	default:
		b.log.Warnf("inbound buffer full, dropping message from %s", in.From)
	}
}

// Send publishes a text command for the identity and waits for the
// gateway's acknowledgment.
func (b *Bridge) Send(ctx context.Context, identity, body string) error {
	out := outbound{
		CommandID: uuid.NewString(),
		To:        identity,
		Kind:      "text",
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
	}
	return b.publishAndWait(ctx, b.sendTopic(identity), out)
}

// SendLocation publishes a map pin command for the identity.
func (b *Bridge) SendLocation(ctx context.Context, identity string, c model.Coordinates, label string) error {
	out := outbound{
		CommandID: uuid.NewString(),
		To:        identity,
		Kind:      "location",
		Latitude:  &c.Latitude,
		Longitude: &c.Longitude,
		Label:     label,
		Timestamp: time.Now().UnixMilli(),
	}
	return b.publishAndWait(ctx, b.sendTopic(identity), out)
}

// PresenceUpdate publishes a presence command. Fire and forget: presence is
// cosmetic and the gateway does not acknowledge it.
func (b *Bridge) PresenceUpdate(_ context.Context, identity string, state transport.PresenceState) error {
	if !b.connected() {
		return transport.ErrNotConnected
	}
	out := outbound{
		CommandID: uuid.NewString(),
		To:        identity,
		Kind:      "presence",
		Presence:  string(state),
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	token := b.cli.Publish(b.sendTopic(identity), b.qos("send"), false, payload)
	token.Wait()
	return token.Error()
}

// RepairSession asks the gateway to re-sync the session keys for the
// identity and waits for confirmation.
func (b *Bridge) RepairSession(ctx context.Context, identity string) error {
	out := outbound{
		CommandID: uuid.NewString(),
		To:        identity,
		Kind:      "repair",
		Timestamp: time.Now().UnixMilli(),
	}
	return b.publishAndWait(ctx, b.repairTopic(identity), out)
}

// publishAndWait registers the ack channel, publishes the command and waits
// for the gateway's report. Registration happens before the publish so an
// ack arriving immediately is never lost.
func (b *Bridge) publishAndWait(ctx context.Context, topic string, out outbound) error {
	if !b.connected() {
		return transport.ErrNotConnected
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}

	ch := make(chan ack, 1)
	b.mu.Lock()
	b.ackChans[out.CommandID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.ackChans, out.CommandID)
		b.mu.Unlock()
	}()

	token := b.cli.Publish(topic, b.qos("send"), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrDeliveryFailed, err)
	}

	timer := time.NewTimer(b.cfg.ackTimeout())
	defer timer.Stop()
	select {
	case a := <-ch:
		return classifyAck(a)
	case <-timer.C:
		return fmt.Errorf("%w: ack timeout for %s", transport.ErrDeliveryFailed, out.CommandID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyAck maps the gateway's report to a transport error. A bad_mac
// error means the recipient's session keys are desynchronized.
func classifyAck(a ack) error {
	if a.Status == "ok" {
		return nil
	}
	if a.Error == "bad_mac" {
		return fmt.Errorf("%w: %s", transport.ErrSessionCorrupted, a.CommandID)
	}
	return fmt.Errorf("%w: gateway reported %q", transport.ErrDeliveryFailed, a.Error)
}

// Messages exposes the inbound chat stream.
func (b *Bridge) Messages() <-chan transport.Message {
	return b.messages
}

// Connected reports broker connectivity.
func (b *Bridge) Connected() bool {
	return b.connected()
}

// Reconnect re-establishes the broker connection.
func (b *Bridge) Reconnect(ctx context.Context) error {
	if b.connected() {
		return nil
	}
	token := b.cli.Connect()
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	if b.cli != nil && b.cli.IsConnected() {
		b.cli.Disconnect(250)
	}
}

func (b *Bridge) connected() bool {
	return b.cli != nil && b.cli.IsConnected()
}
