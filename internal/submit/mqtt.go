package submit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/clawinfra/rapport/internal/queue"
)

const (
	mqttConnectTimeout    = 10 * time.Second
	mqttPublishTimeout    = 5 * time.Second
	mqttConnectRetryDelay = 5 * time.Second
)

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	AppID    string
}

// MQTT publishes items to rapport/<appId>/<kind> at QoS 1.
type MQTT struct {
	cfg    MQTTConfig
	logger *slog.Logger

	mu     sync.RWMutex
	client MQTTClient

	// Factory function for creating MQTT client
	clientFactory func(opts *mqtt.ClientOptions) MQTTClient
}

// NewMQTT creates an MQTT publisher backed by paho.
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) *MQTT {
	return NewMQTTWithClient(cfg, logger, func(opts *mqtt.ClientOptions) MQTTClient {
		return &pahoClient{client: mqtt.NewClient(opts)}
	})
}

// NewMQTTWithClient creates an MQTT publisher with a custom client factory (for testing)
func NewMQTTWithClient(cfg MQTTConfig, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) MQTTClient) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "rapport-" + uuid.NewString()[:8]
	}
	return &MQTT{
		cfg:           cfg,
		logger:        logger.With("component", "submit", "transport", "mqtt"),
		clientFactory: clientFactory,
	}
}

// Topic returns the publish topic for kind.
func (m *MQTT) Topic(kind queue.Kind) string {
	return fmt.Sprintf("rapport/%s/%s", m.cfg.AppID, kind)
}

// Connect dials the broker. If the first attempt fails paho keeps retrying
// in the background, and it reconnects on its own after a lost connection.
func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(mqttConnectRetryDelay)

	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		m.logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		m.logger.Info("mqtt connected", "broker", m.cfg.Broker)
	})

	client := m.clientFactory(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	m.logger.Info("connecting to mqtt broker", "broker", m.cfg.Broker)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("connection timeout, still retrying")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}
	return nil
}

func (m *MQTT) current() MQTTClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Close disconnects from the broker and stops any pending connect retries.
func (m *MQTT) Close() error {
	if client := m.current(); client != nil {
		client.Disconnect(250)
	}
	return nil
}

// Submit publishes one item. A missing connection or publish timeout is
// retryable; an item that cannot be encoded is terminal.
func (m *MQTT) Submit(ctx context.Context, item queue.Item) queue.Result {
	if err := ctx.Err(); err != nil {
		return queue.Retryable("%v", err)
	}
	client := m.current()
	if client == nil || !client.IsConnected() {
		return queue.Retryable("mqtt not connected")
	}

	payload, err := encodeItem(item)
	if err != nil {
		return queue.Terminal("encode item: %v", err)
	}

	topic := m.Topic(item.Kind)
	// Publish with QoS 1 (at least once delivery)
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return queue.Retryable("publish timeout")
	}
	if err := token.Error(); err != nil {
		return queue.Retryable("publish: %v", err)
	}

	m.logger.Debug("item published", "topic", topic, "id", item.ID, "size", len(payload))
	return queue.Success()
}

var _ queue.Submitter = (*MQTT)(nil)
