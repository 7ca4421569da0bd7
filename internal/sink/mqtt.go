package sink

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte

	// PublishTimeout bounds the wait for each publish. Zero does not wait.
	PublishTimeout time.Duration
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each record as JSON. Dispatched records go to
// <topic>/<icao> when the ICAO address is known, everything else to <topic>.
type MQTT struct {
	client  publisher
	topic   string
	qos     byte
	timeout time.Duration
}

func NewMQTT(cfg MQTTConfig, log zerolog.Logger) (*MQTT, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = generateClientID()
	}
	log = log.With().Str("component", "mqtt").Str("broker", cfg.Broker).Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Msg("connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	return newMQTT(client, cfg), nil
}

func newMQTT(client publisher, cfg MQTTConfig) *MQTT {
	topic := strings.TrimRight(strings.TrimSpace(cfg.Topic), "/")
	if topic == "" {
		topic = "squitter"
	}
	return &MQTT{client: client, topic: topic, qos: cfg.QoS, timeout: cfg.PublishTimeout}
}

func (m *MQTT) topicFor(r Record) string {
	if icao := r.Classification.ICAO; icao != "" {
		return m.topic + "/" + icao
	}
	return m.topic
}

func (m *MQTT) Emit(r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	token := m.client.Publish(m.topicFor(r), m.qos, false, b)
	if m.timeout <= 0 {
		return nil
	}
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt publish timed out after %s", m.timeout)
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

func generateClientID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "squitter_" + hex.EncodeToString(b)
}
