// Package publish forwards attendance entries to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/abihf/blinkgate/session"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

const qos = 1

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// Topic may contain {device_id}, e.g. "attendance/{device_id}/events".
	Topic    string
	DeviceID string
}

// Event is the JSON payload published for each entry.
type Event struct {
	DeviceID  string    `json:"device_id"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message"`
}

type Publisher struct {
	client   mqtt.Client
	topic    string
	deviceID string
	logger   *slog.Logger
}

// Connect dials the broker. The client reconnects on its own after a lost connection.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connection established", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "failed to connect to MQTT broker")
	}

	return NewPublisher(client, cfg.Topic, cfg.DeviceID, logger), nil
}

func NewPublisher(client mqtt.Client, topic, deviceID string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topic:    formatTopic(topic, deviceID),
		deviceID: deviceID,
		logger:   logger,
	}
}

// Record publishes entry with QoS 1 and waits for the broker or ctx.
func (p *Publisher) Record(ctx context.Context, entry session.Entry) error {
	payload, err := json.Marshal(p.event(entry))
	if err != nil {
		return errors.Wrap(err, "failed to marshal attendance event")
	}

	token := p.client.Publish(p.topic, qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "publish attendance event")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "failed to publish attendance event")
	}

	p.logger.Debug("Published attendance event", "topic", p.topic, "id", entry.ID)
	return nil
}

func (p *Publisher) event(entry session.Entry) Event {
	return Event{
		DeviceID:  p.deviceID,
		ID:        entry.ID.String(),
		Timestamp: entry.Timestamp.UTC(),
		Outcome:   string(entry.Outcome),
		Message:   entry.Message,
	}
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
	p.logger.Info("MQTT disconnected")
}

// formatTopic replaces the {device_id} placeholder.
func formatTopic(pattern, deviceID string) string {
	return strings.ReplaceAll(pattern, "{device_id}", deviceID)
}
