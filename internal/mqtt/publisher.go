package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"faculty-weather/internal/telemetry"

	"github.com/apex/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
)

const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	encoding    string
	enabled     bool
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Encoding    string
	Enabled     bool
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return &Publisher{enabled: false}, nil
	}

	encoding, err := parseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.WithError(err).Warn("mqtt connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Info("mqtt connected")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		encoding:    encoding,
		enabled:     true,
	}, nil
}

func parseEncoding(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	default:
		return "", fmt.Errorf("unsupported mqtt encoding %q", value)
	}
}

// FacilityTopic is the base topic for one facility, e.g. "campus/faculties/arts".
func FacilityTopic(prefix string, f telemetry.Facility) string {
	if prefix == "" {
		return f.Key()
	}
	return prefix + "/" + f.Key()
}

// EncodeReading serializes a reading for the retained status topic.
func EncodeReading(encoding string, r telemetry.Reading) ([]byte, error) {
	switch encoding {
	case EncodingCBOR:
		return cbor.Marshal(r)
	default:
		return json.Marshal(r)
	}
}

func (p *Publisher) PublishReading(f telemetry.Facility, r telemetry.Reading) error {
	if !p.enabled {
		return nil
	}

	base := FacilityTopic(p.topicPrefix, f)

	// Publish individual values
	values := map[string]float64{
		"temperature":   r.Temperature,
		"humidity":      r.Humidity,
		"soil_moisture": r.SoilMoisture,
	}
	for name, value := range values {
		topic := base + "/" + name
		token := p.client.Publish(topic, 0, false, fmt.Sprintf("%.1f", value))
		token.Wait()
		if token.Error() != nil {
			log.WithField("topic", topic).WithError(token.Error()).Warn("mqtt publish failed")
		}
	}

	payload, err := EncodeReading(p.encoding, r)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	token := p.client.Publish(base+"/status", 0, true, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish status: %w", token.Error())
	}

	return nil
}

type discoverySensor struct {
	Name        string
	ID          string
	Unit        string
	DeviceClass string
}

var facilitySensors = []discoverySensor{
	{"Temperature", "temperature", "°C", "temperature"},
	{"Humidity", "humidity", "%", "humidity"},
	{"Soil Moisture", "soil_moisture", "%", "moisture"},
}

// DiscoveryConfigs builds the Home Assistant discovery payloads, keyed by
// discovery topic.
func DiscoveryConfigs(prefix string) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	for _, f := range telemetry.Facilities() {
		for _, sensor := range facilitySensors {
			id := fmt.Sprintf("%s_%s", f, sensor.ID)
			topic := fmt.Sprintf("homeassistant/sensor/faculty_%s/config", id)

			out[topic] = map[string]interface{}{
				"name":                fmt.Sprintf("%s %s", f.Title(), sensor.Name),
				"unique_id":           fmt.Sprintf("faculty_%s", id),
				"state_topic":         FacilityTopic(prefix, f) + "/" + sensor.ID,
				"unit_of_measurement": sensor.Unit,
				"device_class":        sensor.DeviceClass,
				"device": map[string]interface{}{
					"identifiers":  []string{fmt.Sprintf("faculty_%s", f)},
					"name":         f.Title(),
					"manufacturer": "faculty-weather",
					"model":        "Environment monitor",
				},
			}
		}
	}
	return out
}

func (p *Publisher) PublishHomeAssistantDiscovery() error {
	if !p.enabled {
		return nil
	}

	for topic, config := range DiscoveryConfigs(p.topicPrefix) {
		payload, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery for %s: %w", topic, err)
		}
		token := p.client.Publish(topic, 0, true, payload)
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("failed to publish discovery %s: %w", topic, token.Error())
		}
	}

	return nil
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}

var _ telemetry.ReadingPublisher = (*Publisher)(nil)
