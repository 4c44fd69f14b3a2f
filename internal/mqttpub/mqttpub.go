// Package mqttpub publishes gauge samples to an MQTT broker so external
// dashboards and alerting can follow a run without polling the HTTP API.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vaclab-data/pressure.report/internal/quantum"
)

// disconnectQuiesceMs is how long Close waits for in-flight messages.
const disconnectQuiesceMs = 250

// Config describes the broker connection and topic layout.
type Config struct {
	// BrokerURL is the broker address, e.g. "tcp://localhost:1883".
	BrokerURL string

	// ClientID identifies this publisher to the broker.
	ClientID string

	// TopicPrefix is the leading topic segment. Samples go to
	// <prefix>/samples and failures to <prefix>/errors. Defaults to "gauge".
	TopicPrefix string

	Username string
	Password string

	// QoS for published messages.
	QoS byte
}

// Publisher pushes sample and error payloads to an MQTT broker.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// samplePayload is the JSON body published for each reading.
type samplePayload struct {
	Time        string  `json:"time"`
	Unit        string  `json:"unit"`
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// errorPayload is the JSON body published when a run dies.
type errorPayload struct {
	Time  string `json:"time"`
	Error string `json:"error"`
}

// Connect dials the broker and returns a ready publisher.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "gauge"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "pressure-report"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, token.Error())
	}

	return &Publisher{
		client: client,
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
	}, nil
}

// PublishMeasurement sends one reading to <prefix>/samples, retained so a
// late subscriber immediately sees the latest value.
func (p *Publisher) PublishMeasurement(unit string, m quantum.Measurement, at time.Time) error {
	payload, err := json.Marshal(samplePayload{
		Time:        at.UTC().Format(time.RFC3339),
		Unit:        unit,
		Pressure:    m.Pressure,
		Temperature: m.Temperature,
	})
	if err != nil {
		return err
	}
	return p.publish(p.prefix+"/samples", payload)
}

// PublishError sends a run-ending failure to <prefix>/errors.
func (p *Publisher) PublishError(message string, at time.Time) error {
	payload, err := json.Marshal(errorPayload{
		Time:  at.UTC().Format(time.RFC3339),
		Error: message,
	})
	if err != nil {
		return err
	}
	return p.publish(p.prefix+"/errors", payload)
}

func (p *Publisher) publish(topic string, payload []byte) error {
	if token := p.client.Publish(topic, p.qos, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, token.Error())
	}
	return nil
}

// Close flushes in-flight messages and disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesceMs)
}
