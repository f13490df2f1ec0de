// Package dashboard builds the weather dashboard for one coordinate.
//
// A render fetches current weather first. Its arrival releases three
// independent stages (place name, faculty highlights, forecasts) that run
// concurrently and each fill their own region of the Page. A newer render
// cancels the older one and the Page drops anything it still writes.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"faculty-weather/internal/telemetry"
	"faculty-weather/internal/weather"

	"github.com/apex/log"
)

// ErrSuperseded is returned by Render when a newer render replaced it.
var ErrSuperseded = errors.New("render superseded by a newer one")

type Pipeline struct {
	source  weather.Source
	store   telemetry.Store
	page    *Page
	timeout time.Duration

	mu           sync.Mutex
	activeGen    uint64
	cancelRender context.CancelFunc
	cancelSubs   context.CancelFunc
	subs         sync.WaitGroup
}

type PipelineConfig struct {
	Source  weather.Source
	Store   telemetry.Store
	Page    *Page
	Timeout time.Duration
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	page := cfg.Page
	if page == nil {
		page = NewPage()
	}
	return &Pipeline{
		source:  cfg.Source,
		store:   cfg.Store,
		page:    page,
		timeout: cfg.Timeout,
	}
}

func (p *Pipeline) Page() *Page {
	return p.page
}

// Render replaces the dashboard with data for coord. Stage failures are
// recorded on the page; the returned error is only set when current weather
// could not be fetched or a newer render took over.
func (p *Pipeline) Render(ctx context.Context, coord Coordinate) error {
	gen, ctx, done := p.begin(ctx, coord)
	defer done()

	logger := log.WithFields(log.Fields{
		"render_id": p.page.RenderID(),
		"lat":       coord.Lat,
		"lon":       coord.Lon,
	})
	logger.Info("render started")

	cur, err := p.source.CurrentWeather(ctx, coord.Lat, coord.Lon)
	if err != nil {
		err = fmt.Errorf("current weather: %w", err)
		p.page.Fail(gen, StageCurrent, err)
		for _, stage := range []Stage{StageLocation, StageHighlights, StageHourly, StageForecast} {
			p.page.Fail(gen, stage, errors.New("depends on current weather"))
		}
		if !p.page.Finish(gen) {
			return ErrSuperseded
		}
		logger.WithError(err).Warn("render failed")
		return err
	}

	if !p.page.SetCurrent(gen, BuildCurrentCard(cur)) {
		return ErrSuperseded
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		p.locate(ctx, gen, coord)
	}()
	go func() {
		defer wg.Done()
		p.highlights(ctx, gen, coord)
	}()
	go func() {
		defer wg.Done()
		p.forecast(ctx, gen, coord)
	}()
	wg.Wait()

	if !p.page.Finish(gen) {
		logger.Debug("render superseded")
		return ErrSuperseded
	}

	logger.Info("render finished")
	return nil
}

func (p *Pipeline) begin(ctx context.Context, coord Coordinate) (uint64, context.Context, func()) {
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	p.mu.Lock()
	if p.cancelRender != nil {
		p.cancelRender()
	}
	gen := p.page.Begin(coord)
	p.activeGen = gen
	p.cancelRender = cancel
	p.mu.Unlock()

	return gen, ctx, func() {
		cancel()
		p.mu.Lock()
		if p.activeGen == gen {
			p.cancelRender = nil
		}
		p.mu.Unlock()
	}
}

func (p *Pipeline) locate(ctx context.Context, gen uint64, coord Coordinate) {
	places, err := p.source.ReverseGeo(ctx, coord.Lat, coord.Lon)
	if err != nil {
		p.page.SetLocation(gen, UnknownLocation)
		p.page.Fail(gen, StageLocation, fmt.Errorf("reverse geocoding: %w", err))
		return
	}
	p.page.SetLocation(gen, LocationLabel(places))
}

// The air pollution payload is not shown; its arrival releases the faculty
// cards.
func (p *Pipeline) highlights(ctx context.Context, gen uint64, coord Coordinate) {
	if _, err := p.source.AirPollution(ctx, coord.Lat, coord.Lon); err != nil {
		p.page.Fail(gen, StageHighlights, fmt.Errorf("air pollution: %w", err))
		return
	}
	p.page.SetHighlights(gen)
}

func (p *Pipeline) forecast(ctx context.Context, gen uint64, coord Coordinate) {
	fc, err := p.source.Forecast(ctx, coord.Lat, coord.Lon)
	if err != nil {
		err = fmt.Errorf("forecast: %w", err)
		p.page.Fail(gen, StageHourly, err)
		p.page.Fail(gen, StageForecast, err)
		return
	}
	p.page.SetHourly(gen, BuildHourly(fc.List, fc.City.Timezone))
	p.page.SetForecast(gen, BuildDayCards(fc.List))
}

// ShowLocationError replaces the dashboard with the location error view.
func (p *Pipeline) ShowLocationError() {
	p.page.ShowLocationError()
	log.Info("location could not be resolved")
}

// Start subscribes to every facility in the store. The subscriptions feed
// the page until Stop is called or ctx ends.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("no telemetry store configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelSubs != nil {
		return fmt.Errorf("pipeline already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	for _, f := range telemetry.Facilities() {
		ch, err := p.store.Subscribe(ctx, f)
		if err != nil {
			cancel()
			p.subs.Wait()
			return fmt.Errorf("subscribe %s: %w", f.Key(), err)
		}

		p.subs.Add(1)
		go func(f telemetry.Facility, ch <-chan telemetry.Reading) {
			defer p.subs.Done()
			for r := range ch {
				p.page.SetReading(f, r)
			}
		}(f, ch)
	}
	p.cancelSubs = cancel

	log.Info("facility subscriptions started")
	return nil
}

func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancelSubs
	p.cancelSubs = nil
	if p.cancelRender != nil {
		p.cancelRender()
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.subs.Wait()
	}
}
