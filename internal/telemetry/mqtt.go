package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt not connected")

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Config selects the broker and topic.
type Config struct {
	Broker   string // host:port or a full tcp:// URL
	ClientID string
	Topic    string
	QoS      byte
}

// Stats counts emitter activity.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Emitter publishes snapshots. It reconnects on its own after a lost
// connection.
type Emitter struct {
	cfg    Config
	log    zerolog.Logger
	client mqtt.Client

	mu          sync.RWMutex
	connected   bool
	published   uint64
	errors      uint64
	onReconnect []func()
}

// NewEmitter creates an emitter. Call Connect before Publish.
func NewEmitter(cfg Config, log zerolog.Logger) *Emitter {
	return &Emitter{cfg: cfg, log: log.With().Str("broker", cfg.Broker).Logger()}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect dials the broker with auto-reconnect enabled.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.log.Info().Str("client_id", e.cfg.ClientID).Msg("telemetry: mqtt connected")
		e.mu.RLock()
		hooks := e.onReconnect
		e.mu.RUnlock()
		for _, fn := range hooks {
			fn()
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn().Err(err).Msg("telemetry: mqtt connection lost, will auto-reconnect")
	}

	e.client = mqtt.NewClient(opts)
	e.log.Info().Msg("telemetry: connecting to mqtt broker")

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("telemetry: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Publish encodes s and publishes it to the configured topic.
func (e *Emitter) Publish(s Snapshot) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := Encode(s)
	if err != nil {
		e.countError()
		return err
	}

	token := e.client.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("telemetry: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("telemetry: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.log.Debug().Str("topic", e.cfg.Topic).Int("size", len(payload)).Msg("telemetry: snapshot published")
	return nil
}

// Disconnect closes the connection with a short grace period.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Info().Msg("telemetry: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns a snapshot of the emitter counters.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

// OnReconnect registers fn to run after every (re)connection, on the
// client's goroutine.
func (e *Emitter) OnReconnect(fn func()) {
	e.mu.Lock()
	e.onReconnect = append(e.onReconnect, fn)
	e.mu.Unlock()
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
