// Package notify publishes recording events to an MQTT broker.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"
)

// Payload encodings.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Config contains broker and topic settings.
type Config struct {
	Broker   string // host:port
	ClientID string
	Topic    string // Chunk events go to <Topic>/<device>
	QoS      byte
	Encoding string // json or msgpack (default: json)
}

// ChunkEvent announces a completed recording segment.
type ChunkEvent struct {
	RecordingID string `json:"recording_id" msgpack:"recording_id"`
	Device      string `json:"device" msgpack:"device"`
	Index       uint64 `json:"index" msgpack:"index"`
	Location    string `json:"location" msgpack:"location"`
	Timestamp   string `json:"timestamp" msgpack:"timestamp"`
	DurationMs  int64  `json:"duration_ms" msgpack:"duration_ms"`
}

// Encode marshals v with the named encoding.
func Encode(encoding string, v any) ([]byte, error) {
	switch encoding {
	case "", EncodingJSON:
		return json.Marshal(v)
	case EncodingMsgpack:
		return msgpack.Marshal(v)
	}
	return nil, fmt.Errorf("notify: unknown encoding %q", encoding)
}

// Publisher sends chunk events over MQTT.
type Publisher struct {
	cfg    Config
	client mqtt.Client

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// Connect dials the broker and returns a publisher. The client reconnects
// automatically after connection loss.
func Connect(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("notify: mqtt connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("notify: mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	slog.Info("notify: connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("notify: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("notify: mqtt connection failed: %w", err)
	}
	return New(client, cfg), nil
}

// New wraps an existing client.
func New(client mqtt.Client, cfg Config) *Publisher {
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}
	return &Publisher{cfg: cfg, client: client}
}

// PublishChunk sends ev to <Topic>/<device>.
func (p *Publisher) PublishChunk(ev ChunkEvent) error {
	if !p.client.IsConnected() {
		p.countError()
		return fmt.Errorf("notify: mqtt not connected")
	}

	payload, err := Encode(p.cfg.Encoding, ev)
	if err != nil {
		p.countError()
		return fmt.Errorf("notify: marshal chunk %d: %w", ev.Index, err)
	}

	topic := fmt.Sprintf("%s/%s", p.cfg.Topic, ev.Device)
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.countError()
		return fmt.Errorf("notify: publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("notify: publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	slog.Debug("notify: chunk published",
		"topic", topic,
		"index", ev.Index,
		"size", len(payload),
	)
	return nil
}

// Stats returns published and failed counts.
func (p *Publisher) Stats() (published, failed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.errors
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250) // ms grace period
		slog.Info("notify: mqtt disconnected")
	}
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
