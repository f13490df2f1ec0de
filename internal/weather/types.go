package weather

import (
	"context"
	"errors"
)

// ErrNoResults is returned when a geocoding lookup matches nothing.
var ErrNoResults = errors.New("no matching places")

// Source is everything the dashboard needs from the weather API.
type Source interface {
	CurrentWeather(ctx context.Context, lat, lon float64) (*Current, error)
	ReverseGeo(ctx context.Context, lat, lon float64) ([]Place, error)
	AirPollution(ctx context.Context, lat, lon float64) (*AirPollution, error)
	Forecast(ctx context.Context, lat, lon float64) (*Forecast, error)
}

// Geocoder resolves free text to places.
type Geocoder interface {
	Geocode(ctx context.Context, query string) ([]Place, error)
}

type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type Current struct {
	Coord struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	} `json:"coord"`
	Weather []Condition `json:"weather"`
	Main    struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Pressure  float64 `json:"pressure"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Visibility float64 `json:"visibility"`
	Dt         int64   `json:"dt"`
	Sys        struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Timezone int    `json:"timezone"`
	Name     string `json:"name"`
}

// Condition returns the first reported condition, or a zero value.
func (c *Current) Condition() Condition {
	if c == nil || len(c.Weather) == 0 {
		return Condition{}
	}
	return c.Weather[0]
}

type ForecastEntry struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp    float64 `json:"temp"`
		TempMin float64 `json:"temp_min"`
		TempMax float64 `json:"temp_max"`
	} `json:"main"`
	Weather []Condition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	DtTxt string `json:"dt_txt"`
}

func (e ForecastEntry) Condition() Condition {
	if len(e.Weather) == 0 {
		return Condition{}
	}
	return e.Weather[0]
}

type Forecast struct {
	List []ForecastEntry `json:"list"`
	City struct {
		Name     string `json:"name"`
		Country  string `json:"country"`
		Timezone int    `json:"timezone"`
	} `json:"city"`
}

type AirPollution struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components map[string]float64 `json:"components"`
	} `json:"list"`
}

type Place struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}
