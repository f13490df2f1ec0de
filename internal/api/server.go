package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"faculty-weather/config"
	"faculty-weather/internal/dashboard"
	"faculty-weather/internal/telemetry"
	"faculty-weather/internal/weather"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

// LatestReadings is implemented by the telemetry generator.
type LatestReadings interface {
	Latest() map[telemetry.Facility]telemetry.Reading
}

type Server struct {
	router   *gin.Engine
	server   *http.Server
	pipeline *dashboard.Pipeline
	geocoder weather.Geocoder
	store    telemetry.Store
	latest   LatestReadings
	port     int
	webPath  string

	configMutex sync.RWMutex
	config      *config.Config
	viper       *viper.Viper
}

type ServerConfig struct {
	Port     int
	WebPath  string
	Pipeline *dashboard.Pipeline
	Geocoder weather.Geocoder
	Store    telemetry.Store
	Latest   LatestReadings
	Config   *config.Config
	Viper    *viper.Viper
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	webPath := cfg.WebPath
	if webPath == "" {
		webPath = "./web"
	}

	s := &Server{
		router:   router,
		pipeline: cfg.Pipeline,
		geocoder: cfg.Geocoder,
		store:    cfg.Store,
		latest:   cfg.Latest,
		port:     cfg.Port,
		webPath:  webPath,
		config:   cfg.Config,
		viper:    cfg.Viper,
	}
	if s.config == nil {
		s.config = &config.Config{}
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	tmpl := template.Must(template.New("").Funcs(templateFuncs).ParseGlob(s.webPath + "/templates/*.html"))
	s.router.SetHTMLTemplate(tmpl)

	s.router.Static("/static", s.webPath+"/static")

	s.router.GET("/", s.dashboardHandler)
	s.router.GET("/dashboard", s.dashboardHandler)
	s.router.HEAD("/", s.dashboardHandler)
	s.router.HEAD("/dashboard", s.dashboardHandler)
	s.router.GET("/weather", s.weatherHandler)
	s.router.GET("/current-location", s.currentLocationHandler)

	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api/v1")
	{
		api.GET("/dashboard", s.snapshotHandler)
		api.POST("/render", s.renderHandler)
		api.POST("/location-error", s.locationErrorHandler)
		api.GET("/search", s.searchHandler)
		api.GET("/faculties", s.facultiesHandler)
		api.GET("/faculties/stream", s.facultiesStreamHandler)

		api.GET("/config/dashboard", s.getDashboardConfigHandler)
		api.PUT("/config/dashboard", s.updateDashboardConfigHandler)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	log.WithField("port", s.port).Info("api server starting")
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

var templateFuncs = template.FuncMap{
	"iconPath": func(icon string) string {
		return "/static/images/weather_icons/" + icon + ".png"
	},
}

func (s *Server) dashboardHandler(c *gin.Context) {
	c.HTML(http.StatusOK, "dashboard.html", gin.H{
		"title": "Faculty Weather",
		"page":  s.pipeline.Page().Snapshot(),
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"generation": s.pipeline.Page().Generation(),
		"time":       time.Now().Format(time.RFC3339),
	})
}

// parseCoordinate reads lat and lon. Range is left to the upstream API.
func parseCoordinate(lat, lon string) (dashboard.Coordinate, error) {
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return dashboard.Coordinate{}, fmt.Errorf("invalid latitude %q", lat)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return dashboard.Coordinate{}, fmt.Errorf("invalid longitude %q", lon)
	}
	return dashboard.Coordinate{Lat: la, Lon: lo}, nil
}

func checkCoordinate(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	return nil
}

// render runs a render and logs the outcome. Stage failures are already on
// the page.
func (s *Server) render(ctx context.Context, coord dashboard.Coordinate) error {
	err := s.pipeline.Render(ctx, coord)
	if err != nil && !errors.Is(err, dashboard.ErrSuperseded) {
		log.WithError(err).WithField("lat", coord.Lat).WithField("lon", coord.Lon).Warn("render failed")
	}
	return err
}

func (s *Server) weatherHandler(c *gin.Context) {
	coord, err := parseCoordinate(c.Query("lat"), c.Query("lon"))
	if err != nil {
		log.WithError(err).Debug("weather route rejected coordinate")
		s.pipeline.ShowLocationError()
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	s.render(c.Request.Context(), coord)
	c.Redirect(http.StatusSeeOther, "/")
}

// currentLocationHandler receives the browser geolocation result.
func (s *Server) currentLocationHandler(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		log.WithField("reason", reason).Info("browser geolocation failed")
		s.pipeline.ShowLocationError()
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	coord, err := parseCoordinate(c.Query("lat"), c.Query("lon"))
	if err != nil {
		s.pipeline.ShowLocationError()
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	s.render(c.Request.Context(), coord)
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) snapshotHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Page().Snapshot())
}

type RenderRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (s *Server) renderHandler(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Lat == nil || req.Lon == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon are required"})
		return
	}
	err := s.render(c.Request.Context(), dashboard.Coordinate{Lat: *req.Lat, Lon: *req.Lon})
	switch {
	case errors.Is(err, dashboard.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     err.Error(),
			"dashboard": s.pipeline.Page().Snapshot(),
		})
	default:
		c.JSON(http.StatusOK, s.pipeline.Page().Snapshot())
	}
}

func (s *Server) locationErrorHandler(c *gin.Context) {
	s.pipeline.ShowLocationError()
	c.JSON(http.StatusOK, s.pipeline.Page().Snapshot())
}

func (s *Server) searchHandler(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}
	if s.geocoder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "geocoding not configured"})
		return
	}

	places, err := s.geocoder.Geocode(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, places)
}

type FacultyReading struct {
	Facility telemetry.Facility `json:"facility"`
	Title    string             `json:"title"`
	telemetry.Reading
}

// facultiesHandler lists the latest reading of every facility that has one,
// in display order.
func (s *Server) facultiesHandler(c *gin.Context) {
	var readings map[telemetry.Facility]telemetry.Reading
	if s.latest != nil {
		readings = s.latest.Latest()
	} else {
		readings = s.pipeline.Page().Readings()
	}

	out := make([]FacultyReading, 0, len(readings))
	for _, f := range telemetry.Facilities() {
		if r, ok := readings[f]; ok {
			out = append(out, FacultyReading{Facility: f, Title: f.Title(), Reading: r})
		}
	}
	c.JSON(http.StatusOK, out)
}

// facultiesStreamHandler pushes one "reading" event per store update until
// the client goes away.
func (s *Server) facultiesStreamHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telemetry store not configured"})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan FacultyReading)
	var wg sync.WaitGroup
	for _, f := range telemetry.Facilities() {
		ch, err := s.store.Subscribe(ctx, f)
		if err != nil {
			cancel()
			wg.Wait()
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		wg.Add(1)
		go func(f telemetry.Facility, ch <-chan telemetry.Reading) {
			defer wg.Done()
			for r := range ch {
				select {
				case events <- FacultyReading{Facility: f, Title: f.Title(), Reading: r}:
				case <-ctx.Done():
					return
				}
			}
		}(f, ch)
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-events:
			c.SSEvent("reading", ev)
			return true
		case <-ctx.Done():
			return false
		}
	})

	cancel()
	wg.Wait()
}

type DashboardConfigResponse struct {
	DefaultLatitude      float64 `json:"default_latitude"`
	DefaultLongitude     float64 `json:"default_longitude"`
	RenderTimeoutSeconds int     `json:"render_timeout_seconds"`
}

type DashboardConfigRequest struct {
	DefaultLatitude      float64 `json:"default_latitude"`
	DefaultLongitude     float64 `json:"default_longitude"`
	RenderTimeoutSeconds int     `json:"render_timeout_seconds"`
}

func (s *Server) getDashboardConfigHandler(c *gin.Context) {
	s.configMutex.RLock()
	defer s.configMutex.RUnlock()

	d := s.config.Dashboard
	c.JSON(http.StatusOK, DashboardConfigResponse{
		DefaultLatitude:      d.DefaultLatitude,
		DefaultLongitude:     d.DefaultLongitude,
		RenderTimeoutSeconds: int(d.RenderTimeout.Seconds()),
	})
}

// updateDashboardConfigHandler changes the start-up coordinate. The running
// pipeline keeps its timeout until restart.
func (s *Server) updateDashboardConfigHandler(c *gin.Context) {
	var req DashboardConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := checkCoordinate(req.DefaultLatitude, req.DefaultLongitude); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RenderTimeoutSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "render_timeout_seconds must not be negative"})
		return
	}

	s.configMutex.Lock()
	s.config.Dashboard = config.DashboardConfig{
		DefaultLatitude:  req.DefaultLatitude,
		DefaultLongitude: req.DefaultLongitude,
		RenderTimeout:    time.Duration(req.RenderTimeoutSeconds) * time.Second,
	}
	d := s.config.Dashboard
	s.configMutex.Unlock()

	if s.viper == nil {
		c.JSON(http.StatusOK, gin.H{
			"message": "Configuration applied but not persisted to file",
		})
		return
	}
	if err := config.SaveDashboard(s.viper, d); err != nil {
		log.WithError(err).Warn("failed to save config to file")
		c.JSON(http.StatusOK, gin.H{
			"message": "Configuration applied but not persisted to file",
			"warning": err.Error(),
		})
		return
	}

	log.WithField("lat", d.DefaultLatitude).WithField("lon", d.DefaultLongitude).Info("dashboard configuration updated")
	c.JSON(http.StatusOK, gin.H{
		"message": "Configuration updated successfully",
	})
}
