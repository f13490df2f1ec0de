package dashboard

import (
	"fmt"
	"strings"
	"time"

	"faculty-weather/internal/format"
	"faculty-weather/internal/telemetry"
	"faculty-weather/internal/weather"
)

// The API reports "broken clouds" with an icon that reads as overcast, so
// it is always drawn with this one instead.
const (
	BrokenCloudsIcon = "04.0d"
	brokenClouds     = "broken clouds"
)

// Forecast list cadence: 3-hour slots, 8 per day.
const (
	HourlySlots = 8
	DailyOffset = 7
	DailyStride = 8
)

const (
	UnknownLocation = "Unknown location"
	noValue         = "--"
	dtTxtLayout     = "2006-01-02 15:04:05"
)

type CurrentCard struct {
	Temp         int     `json:"temp"`
	FeelsLike    int     `json:"feels_like"`
	Description  string  `json:"description"`
	Icon         string  `json:"icon"`
	Date         string  `json:"date"`
	Location     string  `json:"location"`
	Pressure     float64 `json:"pressure_hpa"`
	Humidity     float64 `json:"humidity_pct"`
	VisibilityKm float64 `json:"visibility_km"`
	Sunrise      string  `json:"sunrise"`
	Sunset       string  `json:"sunset"`
}

type TempSlot struct {
	Hour        string `json:"hour"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	Temp        int    `json:"temp"`
}

type WindSlot struct {
	Hour     string  `json:"hour"`
	Rotation float64 `json:"rotation_deg"`
	SpeedKmh int     `json:"speed_kmh"`
}

type Hourly struct {
	Temps []TempSlot `json:"temps"`
	Winds []WindSlot `json:"winds"`
}

type DayCard struct {
	TempMax     int    `json:"temp_max"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	Day         int    `json:"day"`
	Month       string `json:"month"`
	Weekday     string `json:"weekday"`
}

type FacilityCard struct {
	Facility     telemetry.Facility `json:"facility"`
	Title        string             `json:"title"`
	Temperature  string             `json:"temperature"`
	Humidity     string             `json:"humidity"`
	SoilMoisture string             `json:"soil_moisture"`
	UpdatedAt    *time.Time         `json:"updated_at,omitempty"`
}

// IconFor returns the icon code to draw for a condition.
func IconFor(description, icon string) string {
	if description == brokenClouds {
		return BrokenCloudsIcon
	}
	return icon
}

func BuildCurrentCard(cur *weather.Current) CurrentCard {
	cond := cur.Condition()
	return CurrentCard{
		Temp:         int(cur.Main.Temp),
		FeelsLike:    int(cur.Main.FeelsLike),
		Description:  cond.Description,
		Icon:         IconFor(cond.Description, cond.Icon),
		Date:         format.Date(cur.Dt, cur.Timezone),
		Pressure:     cur.Main.Pressure,
		Humidity:     cur.Main.Humidity,
		VisibilityKm: cur.Visibility / 1000,
		Sunrise:      format.Clock(cur.Sys.Sunrise, cur.Timezone),
		Sunset:       format.Clock(cur.Sys.Sunset, cur.Timezone),
	}
}

// LocationLabel renders the first place as "Name, CC".
func LocationLabel(places []weather.Place) string {
	if len(places) == 0 {
		return UnknownLocation
	}
	p := places[0]
	if p.Country == "" {
		return p.Name
	}
	return fmt.Sprintf("%s, %s", p.Name, p.Country)
}

// HourlyEntries is the next 24 hours: the first eight slots, in order.
func HourlyEntries(list []weather.ForecastEntry) []weather.ForecastEntry {
	if len(list) > HourlySlots {
		return list[:HourlySlots]
	}
	return list
}

// DailyEntries picks one slot per following day: indexes 7, 15, 23, ...
func DailyEntries(list []weather.ForecastEntry) []weather.ForecastEntry {
	var out []weather.ForecastEntry
	for i := DailyOffset; i < len(list); i += DailyStride {
		out = append(out, list[i])
	}
	return out
}

func BuildHourly(list []weather.ForecastEntry, tzOffset int) Hourly {
	entries := HourlyEntries(list)
	h := Hourly{
		Temps: make([]TempSlot, 0, len(entries)),
		Winds: make([]WindSlot, 0, len(entries)),
	}
	for _, e := range entries {
		cond := e.Condition()
		hour := format.Hour(e.Dt, tzOffset)

		h.Temps = append(h.Temps, TempSlot{
			Hour:        hour,
			Icon:        IconFor(cond.Description, cond.Icon),
			Description: cond.Description,
			Temp:        int(e.Main.Temp),
		})
		h.Winds = append(h.Winds, WindSlot{
			Hour:     hour,
			Rotation: e.Wind.Deg - 180,
			SpeedKmh: int(format.MpsToKmh(e.Wind.Speed)),
		})
	}
	return h
}

func BuildDayCard(e weather.ForecastEntry) DayCard {
	cond := e.Condition()

	at, err := time.ParseInLocation(dtTxtLayout, strings.TrimSpace(e.DtTxt), time.UTC)
	if err != nil {
		at = time.Unix(e.Dt, 0).UTC()
	}

	return DayCard{
		TempMax:     int(e.Main.TempMax),
		Icon:        IconFor(cond.Description, cond.Icon),
		Description: cond.Description,
		Day:         at.Day(),
		Month:       format.MonthNames[at.Month()-1],
		Weekday:     format.WeekdayNames[at.Weekday()],
	}
}

func BuildDayCards(list []weather.ForecastEntry) []DayCard {
	entries := DailyEntries(list)
	cards := make([]DayCard, 0, len(entries))
	for _, e := range entries {
		cards = append(cards, BuildDayCard(e))
	}
	return cards
}

// FacilityCards renders one card per facility, "--" until a reading exists.
func FacilityCards(readings map[telemetry.Facility]telemetry.Reading) []FacilityCard {
	cards := make([]FacilityCard, 0, len(telemetry.Facilities()))
	for _, f := range telemetry.Facilities() {
		card := FacilityCard{
			Facility:     f,
			Title:        f.Title(),
			Temperature:  noValue + "°C",
			Humidity:     noValue + "%",
			SoilMoisture: noValue + "%",
		}
		if r, ok := readings[f]; ok {
			card.Temperature = fmt.Sprintf("%.1f°C", r.Temperature)
			card.Humidity = fmt.Sprintf("%.1f%%", r.Humidity)
			card.SoilMoisture = fmt.Sprintf("%.1f%%", r.SoilMoisture)
			if !r.UpdatedAt.IsZero() {
				at := r.UpdatedAt
				card.UpdatedAt = &at
			}
		}
		cards = append(cards, card)
	}
	return cards
}
