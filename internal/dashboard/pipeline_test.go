package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"faculty-weather/internal/telemetry"
	"faculty-weather/internal/weather"
)

// fakeSource answers with data derived from the latitude so that tests can
// tell renders apart. Calls for a latitude listed in block wait until the
// channel is closed or ctx ends.
type fakeSource struct {
	mu           sync.Mutex
	block        map[float64]chan struct{}
	failCurrent  bool
	failGeo      bool
	failAir      bool
	failForecast bool
	calls        []string
}

func (f *fakeSource) wait(ctx context.Context, name string, lat float64) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	ch := f.block[lat]
	f.mu.Unlock()

	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSource) CurrentWeather(ctx context.Context, lat, lon float64) (*weather.Current, error) {
	if f.failCurrent {
		return nil, errors.New("boom")
	}
	cur := &weather.Current{
		Weather: []weather.Condition{{Description: "broken clouds", Icon: "04d"}},
		Dt:      1720000000,
	}
	cur.Main.Temp = lat
	return cur, nil
}

func (f *fakeSource) ReverseGeo(ctx context.Context, lat, lon float64) ([]weather.Place, error) {
	if err := f.wait(ctx, "geo", lat); err != nil {
		return nil, err
	}
	if f.failGeo {
		return nil, weather.ErrNoResults
	}
	return []weather.Place{{Name: "Place", Country: "LK"}}, nil
}

func (f *fakeSource) AirPollution(ctx context.Context, lat, lon float64) (*weather.AirPollution, error) {
	if err := f.wait(ctx, "air", lat); err != nil {
		return nil, err
	}
	if f.failAir {
		return nil, errors.New("air down")
	}
	return &weather.AirPollution{}, nil
}

func (f *fakeSource) Forecast(ctx context.Context, lat, lon float64) (*weather.Forecast, error) {
	if err := f.wait(ctx, "forecast", lat); err != nil {
		return nil, err
	}
	if f.failForecast {
		return nil, errors.New("forecast down")
	}
	fc := &weather.Forecast{List: forecastList(40)}
	for i := range fc.List {
		fc.List[i].Main.Temp = lat
		fc.List[i].Main.TempMax = lat
	}
	return fc, nil
}

func TestRenderPopulatesAllRegions(t *testing.T) {
	p := NewPipeline(PipelineConfig{Source: &fakeSource{}})

	if err := p.Render(context.Background(), Coordinate{Lat: 12.7, Lon: 80}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	s := p.Page().Snapshot()
	if s.Loading || s.LocationError {
		t.Fatalf("unexpected state loading=%v error=%v", s.Loading, s.LocationError)
	}
	if s.Current == nil || s.Current.Temp != 12 || s.Current.Location != "Place, LK" || s.Current.Icon != BrokenCloudsIcon {
		t.Fatalf("unexpected current card %+v", s.Current)
	}
	if len(s.Highlights) != 3 {
		t.Fatalf("expected 3 facility cards, got %d", len(s.Highlights))
	}
	if s.Hourly == nil || len(s.Hourly.Temps) != 8 {
		t.Fatalf("unexpected hourly %+v", s.Hourly)
	}
	if len(s.Forecast) != 5 {
		t.Fatalf("expected 5 day cards, got %d", len(s.Forecast))
	}
	for _, stage := range Stages() {
		if s.Stage(stage).Status != StatusReady {
			t.Errorf("stage %s = %+v", stage, s.Stage(stage))
		}
	}
	if s.Generation != 1 || s.RenderID == "" {
		t.Fatalf("unexpected generation %d / render id %q", s.Generation, s.RenderID)
	}
}

func TestRenderCurrentFailureFailsEveryStage(t *testing.T) {
	p := NewPipeline(PipelineConfig{Source: &fakeSource{failCurrent: true}})

	if err := p.Render(context.Background(), Coordinate{Lat: 1, Lon: 2}); err == nil {
		t.Fatal("expected error")
	}

	s := p.Page().Snapshot()
	if s.Loading {
		t.Fatal("loading must clear after a failed render")
	}
	for _, stage := range Stages() {
		if s.Stage(stage).Status != StatusFailed {
			t.Errorf("stage %s = %+v, want failed", stage, s.Stage(stage))
		}
	}
	if s.Current != nil || s.Hourly != nil || s.Forecast != nil || s.Highlights != nil {
		t.Fatal("regions must stay empty after a failed render")
	}
}

func TestRenderPartialFailures(t *testing.T) {
	p := NewPipeline(PipelineConfig{Source: &fakeSource{failGeo: true, failAir: true}})

	if err := p.Render(context.Background(), Coordinate{Lat: 5, Lon: 5}); err != nil {
		t.Fatalf("partial failures must not fail the render: %v", err)
	}

	s := p.Page().Snapshot()
	if s.Current == nil || s.Current.Location != UnknownLocation {
		t.Fatalf("unexpected current card %+v", s.Current)
	}
	if s.Stage(StageLocation).Status != StatusFailed || s.Stage(StageHighlights).Status != StatusFailed {
		t.Fatalf("unexpected stages %+v", s.Stages)
	}
	if s.Highlights != nil {
		t.Fatal("highlights must stay empty when air pollution fails")
	}
	if s.Stage(StageForecast).Status != StatusReady || len(s.Forecast) != 5 {
		t.Fatal("forecast should render independently")
	}
}

func TestSupersededRenderIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{block: map[float64]chan struct{}{1: release}}
	p := NewPipeline(PipelineConfig{Source: src})

	first := make(chan error, 1)
	go func() { first <- p.Render(context.Background(), Coordinate{Lat: 1, Lon: 1}) }()

	// Wait until the first render is parked on its downstream fetches.
	deadline := time.Now().Add(2 * time.Second)
	for p.Page().Snapshot().Current == nil {
		if time.Now().After(deadline) {
			t.Fatal("first render never reached current weather")
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.Render(context.Background(), Coordinate{Lat: 2, Lon: 2}); err != nil {
		t.Fatalf("second render failed: %v", err)
	}
	close(release)

	select {
	case err := <-first:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("first render returned %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first render did not return")
	}

	s := p.Page().Snapshot()
	if s.Generation != 2 || s.Coordinate.Lat != 2 {
		t.Fatalf("unexpected snapshot generation=%d coord=%+v", s.Generation, s.Coordinate)
	}
	if s.Current.Temp != 2 {
		t.Fatalf("current region shows stale data: %+v", s.Current)
	}
	for _, slot := range s.Hourly.Temps {
		if slot.Temp != 2 {
			t.Fatalf("hourly region mixes renders: %+v", s.Hourly.Temps)
		}
	}
	for _, card := range s.Forecast {
		if card.TempMax != 2 {
			t.Fatalf("forecast region mixes renders: %+v", s.Forecast)
		}
	}
	for _, stage := range Stages() {
		if s.Stage(stage).Status != StatusReady {
			t.Errorf("stage %s = %+v", stage, s.Stage(stage))
		}
	}
}

func TestPageDropsStaleWrites(t *testing.T) {
	page := NewPage()
	old := page.Begin(Coordinate{Lat: 1})
	page.Begin(Coordinate{Lat: 2})

	if page.SetCurrent(old, CurrentCard{Temp: 1}) {
		t.Fatal("stale SetCurrent accepted")
	}
	if page.Finish(old) {
		t.Fatal("stale Finish accepted")
	}
	s := page.Snapshot()
	if s.Current != nil || !s.Loading {
		t.Fatalf("stale writes leaked into page: %+v", s)
	}
}

func TestShowLocationError(t *testing.T) {
	p := NewPipeline(PipelineConfig{Source: &fakeSource{}})
	p.Page().Begin(Coordinate{})

	p.ShowLocationError()
	s := p.Page().Snapshot()
	if !s.LocationError || s.Loading {
		t.Fatalf("unexpected state %+v", s)
	}

	if err := p.Render(context.Background(), Coordinate{Lat: 3}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if p.Page().Snapshot().LocationError {
		t.Fatal("a successful render must hide the location error")
	}
}

func TestStartFeedsFacilityCards(t *testing.T) {
	store := telemetry.NewMemoryStore()
	defer store.Close()

	p := NewPipeline(PipelineConfig{Source: &fakeSource{}, Store: store})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}

	if err := p.Render(context.Background(), Coordinate{Lat: 1}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	store.Update(context.Background(), telemetry.Arts, telemetry.Reading{Temperature: 24.4, Humidity: 50, SoilMoisture: 60})

	deadline := time.Now().Add(2 * time.Second)
	for {
		s := p.Page().Snapshot()
		if len(s.Highlights) == 3 && s.Highlights[0].Temperature == "24.4°C" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("facility card never updated: %+v", s.Highlights)
		}
		time.Sleep(time.Millisecond)
	}

	p.Stop()
	if n := p.Page().Readings(); len(n) != 1 {
		t.Fatalf("expected one reading, got %d", len(n))
	}
}
