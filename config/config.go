package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "FACULTY"

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Weather   WeatherConfig   `mapstructure:"weather"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
}

type APIConfig struct {
	Port    int    `mapstructure:"port"`
	Enabled bool   `mapstructure:"enabled"`
	WebPath string `mapstructure:"web_path"`
}

type WeatherConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Units     string        `mapstructure:"units"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

type DashboardConfig struct {
	DefaultLatitude  float64       `mapstructure:"default_latitude"`
	DefaultLongitude float64       `mapstructure:"default_longitude"`
	RenderTimeout    time.Duration `mapstructure:"render_timeout"`
}

// HasDefault reports whether a start-up coordinate is configured.
func (d DashboardConfig) HasDefault() bool {
	return d.DefaultLatitude != 0 || d.DefaultLongitude != 0
}

type TelemetryConfig struct {
	Backend      string         `mapstructure:"backend"`
	Source       string         `mapstructure:"source"`
	Interval     time.Duration  `mapstructure:"interval"`
	Enabled      bool           `mapstructure:"enabled"`
	DatabasePath string         `mapstructure:"database_path"`
	Firebase     FirebaseConfig `mapstructure:"firebase"`
	Modbus       ModbusConfig   `mapstructure:"modbus"`
}

type FirebaseConfig struct {
	DatabaseURL     string        `mapstructure:"database_url"`
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type ModbusConfig struct {
	IP      string        `mapstructure:"ip"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
	Units   ModbusUnits   `mapstructure:"units"`
}

// ModbusUnits maps each facility to the unit id of its sensor.
type ModbusUnits struct {
	Arts        uint8 `mapstructure:"arts"`
	Science     uint8 `mapstructure:"science"`
	Engineering uint8 `mapstructure:"engineering"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Encoding    string `mapstructure:"encoding"`
}

// Telemetry backends and sources.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendFirebase = "firebase"

	SourceRandom = "random"
	SourceModbus = "modbus"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.web_path", "./web")

	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.base_url", "https://api.openweathermap.org")
	v.SetDefault("weather.units", "metric")
	v.SetDefault("weather.timeout", "10s")
	v.SetDefault("weather.rate_limit", 1.0)
	v.SetDefault("weather.burst", 5)

	v.SetDefault("dashboard.default_latitude", 0)
	v.SetDefault("dashboard.default_longitude", 0)
	v.SetDefault("dashboard.render_timeout", "30s")

	v.SetDefault("telemetry.backend", BackendSQLite)
	v.SetDefault("telemetry.source", SourceRandom)
	v.SetDefault("telemetry.interval", "3s")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.database_path", "./data/faculty.db")
	v.SetDefault("telemetry.firebase.database_url", "")
	v.SetDefault("telemetry.firebase.project_id", "")
	v.SetDefault("telemetry.firebase.credentials_file", "")
	v.SetDefault("telemetry.firebase.poll_interval", "2s")
	v.SetDefault("telemetry.modbus.ip", "127.0.0.1")
	v.SetDefault("telemetry.modbus.port", 502)
	v.SetDefault("telemetry.modbus.timeout", "5s")
	v.SetDefault("telemetry.modbus.units.arts", 1)
	v.SetDefault("telemetry.modbus.units.science", 2)
	v.SetDefault("telemetry.modbus.units.engineering", 3)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "faculty-weather")
	v.SetDefault("mqtt.client_id", "faculty-weather")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.encoding", "json")
}

// Load reads configuration from configPath, or from config.yaml in the
// working directory or /etc/faculty-weather. A .env file, when present, is
// loaded first so FACULTY_* variables can live there.
func Load(configPath string) (*Config, error) {
	cfg, _, err := LoadWithViper(configPath)
	return cfg, err
}

// LoadWithViper is Load but also returns the viper instance so callers can
// write changes back with SaveDashboard.
func LoadWithViper(configPath string) (*Config, *viper.Viper, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/faculty-weather")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, v, nil
}

func (c *Config) Validate() error {
	switch c.Telemetry.Backend {
	case BackendMemory, BackendSQLite, BackendFirebase:
	default:
		return fmt.Errorf("unknown telemetry backend %q", c.Telemetry.Backend)
	}
	switch c.Telemetry.Source {
	case SourceRandom, SourceModbus:
	default:
		return fmt.Errorf("unknown telemetry source %q", c.Telemetry.Source)
	}
	if c.Telemetry.Backend == BackendFirebase && c.Telemetry.Firebase.DatabaseURL == "" {
		return fmt.Errorf("telemetry.firebase.database_url is required for the firebase backend")
	}
	if c.Telemetry.Interval <= 0 {
		return fmt.Errorf("telemetry.interval must be positive")
	}
	return nil
}

// SaveDashboard writes the dashboard section back to the config file,
// creating config.yaml when none was read.
func SaveDashboard(v *viper.Viper, d DashboardConfig) error {
	v.Set("dashboard.default_latitude", d.DefaultLatitude)
	v.Set("dashboard.default_longitude", d.DefaultLongitude)
	v.Set("dashboard.render_timeout", d.RenderTimeout.String())

	if v.ConfigFileUsed() == "" {
		return v.SafeWriteConfigAs("config.yaml")
	}
	return v.WriteConfig()
}
