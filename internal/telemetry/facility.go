// Package telemetry carries the faculty sensor readings shown on the
// dashboard: the fixed set of facilities, the realtime store they live in,
// and the generator that keeps the store fed.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

type Facility string

const (
	Arts        Facility = "arts"
	Science     Facility = "science"
	Engineering Facility = "engineering"
)

// Facilities returns the tracked facilities in display order.
func Facilities() []Facility {
	return []Facility{Arts, Science, Engineering}
}

func ParseFacility(s string) (Facility, error) {
	f := Facility(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Facilities() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown facility %q", s)
}

// Key is the path of the facility in the realtime store.
func (f Facility) Key() string {
	return "faculties/" + string(f)
}

func (f Facility) Title() string {
	if f == "" {
		return ""
	}
	return strings.ToUpper(string(f[:1])) + string(f[1:]) + " Faculty"
}

type Reading struct {
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	SoilMoisture float64   `json:"soilMoisture"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Rounded returns the reading with every value at one decimal.
func (r Reading) Rounded() Reading {
	r.Temperature = round1(r.Temperature)
	r.Humidity = round1(r.Humidity)
	r.SoilMoisture = round1(r.SoilMoisture)
	return r
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Store is a realtime keyed store of facility readings.
//
// Update merges the reading under the facility key. Subscribe delivers the
// current value first, when there is one, and then every change until ctx
// ends, at which point the channel is closed.
type Store interface {
	Update(ctx context.Context, f Facility, r Reading) error
	Subscribe(ctx context.Context, f Facility) (<-chan Reading, error)
	Close() error
}

// Source produces one reading for a facility.
type Source interface {
	Sample(ctx context.Context, f Facility) (Reading, error)
}
