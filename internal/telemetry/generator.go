package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
)

const DefaultInterval = 3 * time.Second

type Generator struct {
	store    Store
	source   Source
	interval time.Duration
	enabled  bool

	mu        sync.RWMutex
	latest    map[Facility]Reading
	isRunning bool
	cancel    context.CancelFunc
}

type GeneratorConfig struct {
	Store    Store
	Source   Source
	Interval time.Duration
	Enabled  bool
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Generator{
		store:    cfg.Store,
		source:   cfg.Source,
		interval: cfg.Interval,
		enabled:  cfg.Enabled,
		latest:   make(map[Facility]Reading),
	}
}

// Start writes a reading for every facility right away and then once per
// interval, until ctx ends or Stop is called.
func (g *Generator) Start(ctx context.Context) error {
	if !g.enabled {
		log.Info("telemetry generator is disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.isRunning = true
	g.cancel = cancel
	g.mu.Unlock()

	defer func() {
		cancel()
		g.mu.Lock()
		g.isRunning = false
		g.mu.Unlock()
	}()

	log.WithField("interval", g.interval).Info("starting telemetry generator")

	g.Tick(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("telemetry generator stopped")
			return nil
		case <-ticker.C:
			g.Tick(ctx)
		}
	}
}

// Tick samples and stores one reading per facility.
func (g *Generator) Tick(ctx context.Context) {
	for _, f := range Facilities() {
		if ctx.Err() != nil {
			return
		}

		logger := log.WithField("facility", f)

		r, err := g.source.Sample(ctx, f)
		if err != nil {
			logger.WithError(err).Warn("sample failed")
			continue
		}

		if err := g.store.Update(ctx, f, r); err != nil {
			logger.WithError(err).Warn("store update failed")
			continue
		}

		g.mu.Lock()
		g.latest[f] = r
		g.mu.Unlock()

		logger.WithFields(log.Fields{
			"temperature":   r.Temperature,
			"humidity":      r.Humidity,
			"soil_moisture": r.SoilMoisture,
		}).Debug("reading written")
	}
}

// Latest returns the last reading written per facility.
func (g *Generator) Latest() map[Facility]Reading {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[Facility]Reading, len(g.latest))
	for f, r := range g.latest {
		out[f] = r
	}
	return out
}

func (g *Generator) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.isRunning
}

func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
	}
}
