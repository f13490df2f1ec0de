package dashboard

import (
	"sync"

	"faculty-weather/internal/telemetry"

	"github.com/google/uuid"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Stage is one step of a render. Hourly and forecast share a fetch but fill
// different regions.
type Stage string

const (
	StageCurrent    Stage = "current"
	StageLocation   Stage = "location"
	StageHighlights Stage = "highlights"
	StageHourly     Stage = "hourly"
	StageForecast   Stage = "forecast"
)

func Stages() []Stage {
	return []Stage{StageCurrent, StageLocation, StageHighlights, StageHourly, StageForecast}
}

type StageStatus string

const (
	StatusPending StageStatus = "pending"
	StatusReady   StageStatus = "ready"
	StatusFailed  StageStatus = "failed"
)

type StageState struct {
	Status StageStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// Snapshot is a consistent copy of the page.
type Snapshot struct {
	Generation    uint64               `json:"generation"`
	RenderID      string               `json:"render_id,omitempty"`
	Coordinate    *Coordinate          `json:"coordinate,omitempty"`
	Loading       bool                 `json:"loading"`
	LocationError bool                 `json:"location_error"`
	Current       *CurrentCard         `json:"current,omitempty"`
	Highlights    []FacilityCard       `json:"highlights,omitempty"`
	Hourly        *Hourly              `json:"hourly,omitempty"`
	Forecast      []DayCard            `json:"forecast,omitempty"`
	Stages        map[Stage]StageState `json:"stages"`
}

func (s Snapshot) Stage(stage Stage) StageState {
	return s.Stages[stage]
}

// Page holds the rendered regions. Every region write names the generation
// it belongs to and is dropped unless that generation is still current, so
// a region never mixes data from two renders.
type Page struct {
	mu            sync.RWMutex
	generation    uint64
	renderID      string
	coord         *Coordinate
	loading       bool
	locationError bool

	current    *CurrentCard
	highlights bool
	hourly     *Hourly
	forecast   []DayCard
	stages     map[Stage]StageState

	readings map[telemetry.Facility]telemetry.Reading
}

func NewPage() *Page {
	return &Page{
		stages:   make(map[Stage]StageState),
		readings: make(map[telemetry.Facility]telemetry.Reading),
	}
}

// Begin clears every region, enters the loading state and returns the new
// generation.
func (p *Page) Begin(coord Coordinate) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.renderID = uuid.NewString()
	p.coord = &coord
	p.loading = true
	p.locationError = false

	p.current = nil
	p.highlights = false
	p.hourly = nil
	p.forecast = nil
	p.stages = make(map[Stage]StageState, len(Stages()))
	for _, s := range Stages() {
		p.stages[s] = StageState{Status: StatusPending}
	}

	return p.generation
}

func (p *Page) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

func (p *Page) RenderID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.renderID
}

// apply runs fn under the lock when gen is still current.
func (p *Page) apply(gen uint64, fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		return false
	}
	fn()
	return true
}

func (p *Page) SetCurrent(gen uint64, card CurrentCard) bool {
	return p.apply(gen, func() {
		p.current = &card
		p.stages[StageCurrent] = StageState{Status: StatusReady}
	})
}

// SetLocation splices the place label into the current card only.
func (p *Page) SetLocation(gen uint64, label string) bool {
	return p.apply(gen, func() {
		if p.current != nil {
			card := *p.current
			card.Location = label
			p.current = &card
		}
		p.stages[StageLocation] = StageState{Status: StatusReady}
	})
}

func (p *Page) SetHighlights(gen uint64) bool {
	return p.apply(gen, func() {
		p.highlights = true
		p.stages[StageHighlights] = StageState{Status: StatusReady}
	})
}

func (p *Page) SetHourly(gen uint64, h Hourly) bool {
	return p.apply(gen, func() {
		p.hourly = &h
		p.stages[StageHourly] = StageState{Status: StatusReady}
	})
}

func (p *Page) SetForecast(gen uint64, cards []DayCard) bool {
	return p.apply(gen, func() {
		p.forecast = cards
		p.stages[StageForecast] = StageState{Status: StatusReady}
	})
}

func (p *Page) Fail(gen uint64, stage Stage, err error) bool {
	return p.apply(gen, func() {
		p.stages[stage] = StageState{Status: StatusFailed, Error: err.Error()}
	})
}

// Finish leaves the loading state.
func (p *Page) Finish(gen uint64) bool {
	return p.apply(gen, func() {
		p.loading = false
	})
}

func (p *Page) ShowLocationError() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.locationError = true
	p.loading = false
}

// SetReading records a live facility reading. Readings outlive renders.
func (p *Page) SetReading(f telemetry.Facility, r telemetry.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings[f] = r
}

func (p *Page) Readings() map[telemetry.Facility]telemetry.Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[telemetry.Facility]telemetry.Reading, len(p.readings))
	for f, r := range p.readings {
		out[f] = r
	}
	return out
}

func (p *Page) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		Generation:    p.generation,
		RenderID:      p.renderID,
		Loading:       p.loading,
		LocationError: p.locationError,
		Stages:        make(map[Stage]StageState, len(p.stages)),
	}
	for k, v := range p.stages {
		s.Stages[k] = v
	}
	if p.coord != nil {
		c := *p.coord
		s.Coordinate = &c
	}
	if p.current != nil {
		c := *p.current
		s.Current = &c
	}
	if p.highlights {
		s.Highlights = FacilityCards(p.readings)
	}
	if p.hourly != nil {
		h := Hourly{
			Temps: append([]TempSlot(nil), p.hourly.Temps...),
			Winds: append([]WindSlot(nil), p.hourly.Winds...),
		}
		s.Hourly = &h
	}
	if p.forecast != nil {
		s.Forecast = append([]DayCard{}, p.forecast...)
	}
	return s
}
