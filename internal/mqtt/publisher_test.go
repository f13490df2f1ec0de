package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"faculty-weather/internal/telemetry"

	"github.com/fxamacker/cbor/v2"
)

func TestFacilityTopic(t *testing.T) {
	if got := FacilityTopic("campus", telemetry.Arts); got != "campus/faculties/arts" {
		t.Fatalf("FacilityTopic = %q", got)
	}
	if got := FacilityTopic("", telemetry.Science); got != "faculties/science" {
		t.Fatalf("FacilityTopic = %q", got)
	}
}

func TestEncodeReading(t *testing.T) {
	r := telemetry.Reading{
		Temperature:  24.6,
		Humidity:     51.3,
		SoilMoisture: 60,
		UpdatedAt:    time.Date(2024, 7, 3, 9, 0, 0, 0, time.UTC),
	}

	data, err := EncodeReading(EncodingJSON, r)
	if err != nil {
		t.Fatalf("json encode failed: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if fields["soilMoisture"] != 60.0 {
		t.Fatalf("json uses wrong field names: %s", data)
	}

	data, err = EncodeReading(EncodingCBOR, r)
	if err != nil {
		t.Fatalf("cbor encode failed: %v", err)
	}
	var back telemetry.Reading
	if err := cbor.Unmarshal(data, &back); err != nil {
		t.Fatalf("cbor decode failed: %v", err)
	}
	if back.Temperature != r.Temperature || back.SoilMoisture != r.SoilMoisture {
		t.Fatalf("cbor lost values: %+v", back)
	}
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]string{"": EncodingJSON, "JSON": EncodingJSON, " cbor ": EncodingCBOR} {
		got, err := parseEncoding(in)
		if err != nil || got != want {
			t.Errorf("parseEncoding(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := parseEncoding("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDiscoveryConfigs(t *testing.T) {
	configs := DiscoveryConfigs("campus")
	if len(configs) != 9 {
		t.Fatalf("expected 9 discovery configs, got %d", len(configs))
	}

	cfg, ok := configs["homeassistant/sensor/faculty_engineering_soil_moisture/config"]
	if !ok {
		t.Fatal("missing engineering soil moisture sensor")
	}
	if cfg["state_topic"] != "campus/faculties/engineering/soil_moisture" {
		t.Fatalf("state_topic = %v", cfg["state_topic"])
	}
}

func TestDisabledPublisher(t *testing.T) {
	p, err := NewPublisher(PublisherConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	if err := p.PublishReading(telemetry.Arts, telemetry.Reading{}); err != nil {
		t.Fatalf("disabled publish returned %v", err)
	}
	if p.IsConnected() {
		t.Fatal("disabled publisher reports connected")
	}
	p.Close()
}
