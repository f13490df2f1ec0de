package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.openweathermap.org"

type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	units   string
	client  *http.Client
	limiter *rate.Limiter
}

type ClientConfig struct {
	APIKey    string
	BaseURL   string
	Units     string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

func NewOpenWeatherClient(cfg ClientConfig) *OpenWeatherClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &OpenWeatherClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		units:   cfg.Units,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

func (c *OpenWeatherClient) CurrentWeather(ctx context.Context, lat, lon float64) (*Current, error) {
	var payload Current
	if err := c.get(ctx, "/data/2.5/weather", coordQuery(lat, lon), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *OpenWeatherClient) Forecast(ctx context.Context, lat, lon float64) (*Forecast, error) {
	var payload Forecast
	if err := c.get(ctx, "/data/2.5/forecast", coordQuery(lat, lon), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *OpenWeatherClient) AirPollution(ctx context.Context, lat, lon float64) (*AirPollution, error) {
	var payload AirPollution
	if err := c.get(ctx, "/data/2.5/air_pollution", coordQuery(lat, lon), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *OpenWeatherClient) ReverseGeo(ctx context.Context, lat, lon float64) ([]Place, error) {
	query := coordQuery(lat, lon)
	query.Set("limit", "5")

	var places []Place
	if err := c.get(ctx, "/geo/1.0/reverse", query, &places); err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, ErrNoResults
	}
	return places, nil
}

// Geocode searches places by name. An empty result is not an error.
func (c *OpenWeatherClient) Geocode(ctx context.Context, q string) ([]Place, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("openweather geocoding query is empty")
	}

	query := url.Values{}
	query.Set("q", q)
	query.Set("limit", "5")

	var places []Place
	if err := c.get(ctx, "/geo/1.0/direct", query, &places); err != nil {
		return nil, err
	}
	if places == nil {
		places = []Place{}
	}
	return places, nil
}

func coordQuery(lat, lon float64) url.Values {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	return query
}

func (c *OpenWeatherClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.apiKey == "" {
		return fmt.Errorf("openweather api key is empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("openweather rate limit wait canceled: %w", err)
	}

	query.Set("appid", c.apiKey)
	query.Set("units", c.units)

	endpoint := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("openweather request: %w", err)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("openweather request failed: %w", err)
	}
	defer resp.Body.Close()

	log.WithFields(log.Fields{
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(started).Round(time.Millisecond),
	}).Debug("openweather call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("openweather %s bad status: %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openweather %s decode: %w", path, err)
	}
	return nil
}

var (
	_ Source   = (*OpenWeatherClient)(nil)
	_ Geocoder = (*OpenWeatherClient)(nil)
)
