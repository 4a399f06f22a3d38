package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/ibeacon"
)

// Publisher is the part of mqtt.Client the reporter uses
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // placeholders: {uuid} {major} {minor} {address}
	QoS      byte
}

// Payload is the JSON document published per sighting
type Payload struct {
	Address string    `json:"address"`
	RSSI    int16     `json:"rssi"`
	UUID    string    `json:"uuid"`
	Major   uint16    `json:"major"`
	Minor   uint16    `json:"minor"`
	TxPower int8      `json:"txPower"`
	SeenAt  time.Time `json:"seenAt"`
}

// MQTT publishes sightings to a broker
type MQTT struct {
	client Publisher
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTT wraps an already connected publisher
func NewMQTT(client Publisher, topic string, qos byte, logger *zap.Logger) *MQTT {
	return &MQTT{client: client, topic: topic, qos: qos, logger: logger}
}

// ConnectMQTT dials the broker and returns a reporter and the client to
// disconnect on shutdown
func ConnectMQTT(cfg MQTTConfig, logger *zap.Logger) (*MQTT, mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connection established", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}

	return NewMQTT(client, cfg.Topic, cfg.QoS, logger), client, nil
}

// Report implements Reporter
func (m *MQTT) Report(ctx context.Context, rec ibeacon.Record) error {
	payload, err := json.Marshal(NewPayload(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal sighting: %w", err)
	}

	topic := FormatTopic(m.topic, rec)
	token := m.client.Publish(topic, m.qos, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	m.logger.Debug("published sighting", zap.String("topic", topic))
	return nil
}

// NewPayload converts a sighting to its published form
func NewPayload(rec ibeacon.Record) Payload {
	return Payload{
		Address: rec.Address,
		RSSI:    rec.RSSI,
		UUID:    rec.UUID,
		Major:   rec.Major,
		Minor:   rec.Minor,
		TxPower: rec.TxPower,
		SeenAt:  rec.SeenAt,
	}
}

// FormatTopic fills the topic placeholders from a sighting
func FormatTopic(pattern string, rec ibeacon.Record) string {
	return strings.NewReplacer(
		"{uuid}", rec.UUID,
		"{major}", strconv.Itoa(int(rec.Major)),
		"{minor}", strconv.Itoa(int(rec.Minor)),
		"{address}", rec.Address,
	).Replace(pattern)
}
