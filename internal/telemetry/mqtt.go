package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/banshee-data/ultrasonic.radar/internal/monitoring"
	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
)

// ErrNotConnected is returned by SendSettings when no broker session is live.
var ErrNotConnected = errors.New("mqtt: not connected")

const (
	defaultMQTTPort      = "1883"
	DefaultMQTTKeepAlive = 30
)

// MQTTConfig configures an MQTTSource.
type MQTTConfig struct {
	// Broker is host, host:port or tcp://host:port.
	Broker         string
	ClientID       string
	TelemetryTopic string
	SettingsTopic  string
	KeepAlive      uint16
	// Dial overrides the TCP dialer, mainly for tests.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// MQTTSource receives telemetry frames as MQTT publish payloads, one frame
// per message, and publishes settings frames back to the device.
type MQTTSource struct {
	cfg     MQTTConfig
	decoder Decoder

	mu     sync.Mutex
	client *paho.Client
}

// NewMQTTSource returns a source for cfg. A client ID is generated when none
// is set.
func NewMQTTSource(cfg MQTTConfig, decoder Decoder) *MQTTSource {
	if cfg.ClientID == "" {
		cfg.ClientID = "radar-" + uuid.NewString()[:8]
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultMQTTKeepAlive
	}
	if cfg.Dial == nil {
		var d net.Dialer
		cfg.Dial = d.DialContext
	}
	return &MQTTSource{cfg: cfg, decoder: decoder}
}

// brokerAddress turns the configured broker into a dialable host:port.
func brokerAddress(broker string) (string, error) {
	broker = strings.TrimSpace(broker)
	if broker == "" {
		return "", errors.New("mqtt: broker not set")
	}
	if strings.Contains(broker, "://") {
		u, err := url.Parse(broker)
		if err != nil {
			return "", fmt.Errorf("mqtt: parse broker %q: %w", broker, err)
		}
		if u.Scheme != "tcp" && u.Scheme != "mqtt" {
			return "", fmt.Errorf("mqtt: unsupported scheme %q", u.Scheme)
		}
		broker = u.Host
	}
	if _, _, err := net.SplitHostPort(broker); err != nil {
		return net.JoinHostPort(broker, defaultMQTTPort), nil
	}
	return broker, nil
}

// Run connects to the broker, subscribes to the telemetry topic and applies
// each message to dst until ctx is cancelled or the session fails.
func (m *MQTTSource) Run(ctx context.Context, dst sensor.Applier) error {
	addr, err := brokerAddress(m.cfg.Broker)
	if err != nil {
		return err
	}
	conn, err := m.cfg.Dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mqtt: dial %s: %w", addr, err)
	}

	sessionErr := make(chan error, 1)
	report := func(err error) {
		select {
		case sessionErr <- err:
		default:
		}
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: m.cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				return m.handlePublish(pr.Packet.Topic, pr.Packet.Payload, dst), nil
			},
		},
		OnClientError: report,
		OnServerDisconnect: func(d *paho.Disconnect) {
			report(fmt.Errorf("mqtt: broker disconnected, reason code %d", d.ReasonCode))
		},
	})

	if _, err := client.Connect(ctx, &paho.Connect{
		ClientID:   m.cfg.ClientID,
		KeepAlive:  m.cfg.KeepAlive,
		CleanStart: true,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("mqtt: connect %s: %w", addr, err)
	}

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: m.cfg.TelemetryTopic, QoS: 0}},
	}); err != nil {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return fmt.Errorf("mqtt: subscribe %s: %w", m.cfg.TelemetryTopic, err)
	}
	monitoring.Logf("mqtt: subscribed to %s on %s as %s", m.cfg.TelemetryTopic, addr, m.cfg.ClientID)

	m.setClient(client)
	defer m.setClient(nil)

	select {
	case <-ctx.Done():
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return ctx.Err()
	case err := <-sessionErr:
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return err
	}
}

func (m *MQTTSource) setClient(c *paho.Client) {
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
}

// handlePublish dispatches a telemetry payload and reports whether the
// message belonged to this source.
func (m *MQTTSource) handlePublish(topic string, payload []byte, dst sensor.Applier) bool {
	if topic != m.cfg.TelemetryTopic {
		return false
	}
	Dispatch(m.decoder, payload, dst)
	return true
}

// SendSettings publishes frame to the settings topic at QoS 1.
func (m *MQTTSource) SendSettings(ctx context.Context, frame []byte) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}
	if m.cfg.SettingsTopic == "" {
		return errors.New("mqtt: settings topic not set")
	}
	_, err := client.Publish(ctx, &paho.Publish{
		Topic:   m.cfg.SettingsTopic,
		QoS:     1,
		Payload: frame,
	})
	return err
}
