package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/db"
	"github.com/apex/log"
	"google.golang.org/api/option"
)

const defaultPollInterval = time.Second

type FirebaseConfig struct {
	DatabaseURL     string
	ProjectID       string
	CredentialsFile string
	PollInterval    time.Duration
}

type realtimeDB interface {
	update(ctx context.Context, path string, values map[string]interface{}) error
	get(ctx context.Context, path string, v interface{}) error
}

type firebaseDB struct {
	client *db.Client
}

func (f firebaseDB) update(ctx context.Context, path string, values map[string]interface{}) error {
	return f.client.NewRef(path).Update(ctx, values)
}

func (f firebaseDB) get(ctx context.Context, path string, v interface{}) error {
	return f.client.NewRef(path).Get(ctx, v)
}

// FirebaseStore keeps readings in a Firebase Realtime Database. The admin
// SDK has no streaming listener, so subscriptions poll.
type FirebaseStore struct {
	db   realtimeDB
	poll time.Duration
}

func NewFirebaseStore(ctx context.Context, cfg FirebaseConfig) (*FirebaseStore, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("firebase database url is empty")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		DatabaseURL: cfg.DatabaseURL,
		ProjectID:   cfg.ProjectID,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open firebase database: %w", err)
	}

	return newFirebaseStore(firebaseDB{client: client}, cfg.PollInterval), nil
}

func newFirebaseStore(rdb realtimeDB, poll time.Duration) *FirebaseStore {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &FirebaseStore{db: rdb, poll: poll}
}

func (s *FirebaseStore) Update(ctx context.Context, f Facility, r Reading) error {
	values := map[string]interface{}{
		"temperature":  r.Temperature,
		"humidity":     r.Humidity,
		"soilMoisture": r.SoilMoisture,
	}
	if !r.UpdatedAt.IsZero() {
		values["updatedAt"] = r.UpdatedAt.UnixMilli()
	}

	if err := s.db.update(ctx, f.Key(), values); err != nil {
		return fmt.Errorf("firebase update %s: %w", f.Key(), err)
	}
	return nil
}

func (s *FirebaseStore) Subscribe(ctx context.Context, f Facility) (<-chan Reading, error) {
	first, err := s.fetch(ctx, f)
	if err != nil {
		return nil, err
	}

	ch := make(chan Reading, 1)
	go func() {
		defer close(ch)

		last := first
		if last != nil {
			select {
			case ch <- *last:
			case <-ctx.Done():
				return
			}
		}

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current, err := s.fetch(ctx, f)
			if err != nil {
				if ctx.Err() == nil {
					log.WithField("facility", f).WithError(err).Warn("firebase poll failed")
				}
				continue
			}
			if current == nil || (last != nil && *current == *last) {
				continue
			}
			last = current

			select {
			case ch <- *current:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (s *FirebaseStore) fetch(ctx context.Context, f Facility) (*Reading, error) {
	var wire *wireReading
	if err := s.db.get(ctx, f.Key(), &wire); err != nil {
		return nil, fmt.Errorf("firebase get %s: %w", f.Key(), err)
	}
	if wire == nil {
		return nil, nil
	}
	r := wire.reading()
	return &r, nil
}

func (s *FirebaseStore) Close() error {
	return nil
}

// wireReading accepts values written either as numbers or as the numeric
// strings older dashboard clients stored.
type wireReading struct {
	Temperature  measure `json:"temperature"`
	Humidity     measure `json:"humidity"`
	SoilMoisture measure `json:"soilMoisture"`
	UpdatedAt    int64   `json:"updatedAt"`
}

func (w wireReading) reading() Reading {
	r := Reading{
		Temperature:  float64(w.Temperature),
		Humidity:     float64(w.Humidity),
		SoilMoisture: float64(w.SoilMoisture),
	}
	if w.UpdatedAt > 0 {
		r.UpdatedAt = time.UnixMilli(w.UpdatedAt).UTC()
	}
	return r
}

type measure float64

func (m *measure) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid measure %q: %w", data, err)
	}
	*m = measure(v)
	return nil
}

var _ Store = (*FirebaseStore)(nil)
