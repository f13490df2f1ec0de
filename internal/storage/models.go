package storage

import (
	"time"

	"faculty-weather/internal/telemetry"
)

// FacilityReading is the single live row for a facility key.
type FacilityReading struct {
	Facility     string    `gorm:"primaryKey" json:"facility"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	SoilMoisture float64   `json:"soilMoisture"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false" json:"updatedAt"`
}

func (r FacilityReading) Reading() telemetry.Reading {
	return telemetry.Reading{
		Temperature:  r.Temperature,
		Humidity:     r.Humidity,
		SoilMoisture: r.SoilMoisture,
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}
