package main

import (
	"context"
	"fmt"
	"time"

	"faculty-weather/config"
	"faculty-weather/internal/modbus"
	"faculty-weather/internal/mqtt"
	"faculty-weather/internal/storage"
	"faculty-weather/internal/telemetry"
	"faculty-weather/internal/weather"

	"github.com/apex/log"
)

func newWeatherClient(cfg *config.Config) *weather.OpenWeatherClient {
	return weather.NewOpenWeatherClient(weather.ClientConfig{
		APIKey:    cfg.Weather.APIKey,
		BaseURL:   cfg.Weather.BaseURL,
		Units:     cfg.Weather.Units,
		Timeout:   cfg.Weather.Timeout,
		RateLimit: cfg.Weather.RateLimit,
		Burst:     cfg.Weather.Burst,
	})
}

// openStore opens the configured realtime store and, when MQTT is enabled,
// wraps it in a mirror. The returned func releases everything it opened.
func openStore(ctx context.Context, cfg *config.Config) (telemetry.Store, func(), error) {
	var store telemetry.Store

	switch cfg.Telemetry.Backend {
	case config.BackendMemory:
		store = telemetry.NewMemoryStore()
	case config.BackendSQLite:
		db, err := storage.NewDatabase(cfg.Telemetry.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		log.WithField("path", cfg.Telemetry.DatabasePath).Info("database opened")
		store = db
	case config.BackendFirebase:
		fb, err := telemetry.NewFirebaseStore(ctx, telemetry.FirebaseConfig{
			DatabaseURL:     cfg.Telemetry.Firebase.DatabaseURL,
			ProjectID:       cfg.Telemetry.Firebase.ProjectID,
			CredentialsFile: cfg.Telemetry.Firebase.CredentialsFile,
			PollInterval:    cfg.Telemetry.Firebase.PollInterval,
		})
		if err != nil {
			return nil, nil, err
		}
		log.WithField("url", cfg.Telemetry.Firebase.DatabaseURL).Info("firebase store ready")
		store = fb
	default:
		return nil, nil, fmt.Errorf("unknown telemetry backend %q", cfg.Telemetry.Backend)
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close store")
		}
	}

	if !cfg.MQTT.Enabled {
		return store, closeStore, nil
	}

	publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Encoding:    cfg.MQTT.Encoding,
		Enabled:     true,
	})
	if err != nil {
		log.WithError(err).Warn("mqtt connection failed, readings will not be mirrored")
		return store, closeStore, nil
	}
	log.WithField("broker", cfg.MQTT.Broker).Info("mqtt connected")

	if err := publisher.PublishHomeAssistantDiscovery(); err != nil {
		log.WithError(err).Warn("home assistant discovery failed")
	}

	return telemetry.NewMirror(store, publisher), func() {
		closeStore()
		publisher.Close()
	}, nil
}

// openSource returns the configured reading source.
func openSource(cfg *config.Config) (telemetry.Source, func()) {
	if cfg.Telemetry.Source != config.SourceModbus {
		return telemetry.NewRandomSource(time.Now().UnixNano()), func() {}
	}

	m := cfg.Telemetry.Modbus
	client := modbus.NewClient(m.IP, m.Port, m.Timeout)
	if err := client.Connect(); err != nil {
		log.WithError(err).WithField("address", fmt.Sprintf("%s:%d", m.IP, m.Port)).
			Warn("modbus connect failed, will retry on first read")
	}

	src := telemetry.NewModbusSource(client, map[telemetry.Facility]uint8{
		telemetry.Arts:        m.Units.Arts,
		telemetry.Science:     m.Units.Science,
		telemetry.Engineering: m.Units.Engineering,
	})
	return src, func() { client.Close() }
}
