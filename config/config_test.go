package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "api:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Weather.BaseURL != "https://api.openweathermap.org" || cfg.Weather.Units != "metric" {
		t.Fatalf("unexpected weather defaults %+v", cfg.Weather)
	}
	if cfg.Telemetry.Interval != 3*time.Second {
		t.Fatalf("Interval = %v, want 3s", cfg.Telemetry.Interval)
	}
	if cfg.Telemetry.Backend != BackendSQLite || cfg.Telemetry.Source != SourceRandom {
		t.Fatalf("unexpected telemetry defaults %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.Modbus.Units.Engineering != 3 {
		t.Fatalf("unexpected modbus units %+v", cfg.Telemetry.Modbus.Units)
	}
	if cfg.MQTT.Enabled || cfg.MQTT.Encoding != "json" {
		t.Fatalf("unexpected mqtt defaults %+v", cfg.MQTT)
	}
	if cfg.Dashboard.HasDefault() {
		t.Fatal("no default coordinate expected")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
weather:
  api_key: from-file
dashboard:
  default_latitude: 6.9271
  default_longitude: 79.8612
telemetry:
  backend: memory
  interval: 500ms
`)
	t.Setenv("FACULTY_WEATHER_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Weather.APIKey != "from-env" {
		t.Fatalf("APIKey = %q, want env override", cfg.Weather.APIKey)
	}
	if !cfg.Dashboard.HasDefault() || cfg.Dashboard.DefaultLatitude != 6.9271 {
		t.Fatalf("unexpected dashboard %+v", cfg.Dashboard)
	}
	if cfg.Telemetry.Backend != BackendMemory || cfg.Telemetry.Interval != 500*time.Millisecond {
		t.Fatalf("unexpected telemetry %+v", cfg.Telemetry)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"backend", "telemetry:\n  backend: redis\n"},
		{"source", "telemetry:\n  source: lora\n"},
		{"firebase without url", "telemetry:\n  backend: firebase\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSaveDashboard(t *testing.T) {
	path := writeConfig(t, "api:\n  port: 9000\n")

	_, v, err := LoadWithViper(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	err = SaveDashboard(v, DashboardConfig{
		DefaultLatitude:  7.29,
		DefaultLongitude: 80.63,
		RenderTimeout:    45 * time.Second,
	})
	if err != nil {
		t.Fatalf("SaveDashboard failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if cfg.Dashboard.DefaultLatitude != 7.29 || cfg.Dashboard.DefaultLongitude != 80.63 {
		t.Fatalf("unexpected dashboard %+v", cfg.Dashboard)
	}
	if cfg.Dashboard.RenderTimeout != 45*time.Second {
		t.Fatalf("RenderTimeout = %v", cfg.Dashboard.RenderTimeout)
	}
	if cfg.API.Port != 9000 {
		t.Fatalf("unrelated keys must survive, port = %d", cfg.API.Port)
	}
}
