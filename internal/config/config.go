// Package config loads worker settings from a YAML file with environment
// overrides. A .env file in the working directory is honored for local runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
)

// Duration wraps time.Duration so intervals can be written as "5m" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Database selects the storage backend. Driver is "sqlite" or "postgres";
// DSN is a file path for sqlite and a connection string for postgres.
type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Fetch tunes collector retry behaviour. Exact backoff timing is a tunable,
// only the attempt bound is contractual.
type Fetch struct {
	Timeout        Duration `yaml:"timeout"`
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
}

// Liveness locates the heartbeat file the external probe watches.
type Liveness struct {
	Path  string   `yaml:"path"`
	Grace Duration `yaml:"grace"`
}

// Location is one weather coordinate set, keyed by name in the config map.
type Location struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Enabled   bool    `yaml:"enabled"`
}

// OccupancyJob configures the gym occupancy scrape.
type OccupancyJob struct {
	Enabled   bool     `yaml:"enabled"`
	URL       string   `yaml:"url"`
	UserAgent string   `yaml:"user_agent"`
	Interval  Duration `yaml:"interval"`
	Jitter    Duration `yaml:"jitter"`
}

// WeatherJob configures the forecast API fetch. Parameters lists the variable
// names requested per resolution; names not present in the parameter catalogue
// are dropped with a warning at startup.
type WeatherJob struct {
	Enabled      bool                           `yaml:"enabled"`
	URL          string                         `yaml:"url"`
	Interval     Duration                       `yaml:"interval"`
	Jitter       Duration                       `yaml:"jitter"`
	ForecastDays int                            `yaml:"forecast_days"`
	Locations    map[string]Location            `yaml:"locations"`
	Parameters   map[domain.Resolution][]string `yaml:"parameters"`
}

// Jobs groups the recurring job definitions.
type Jobs struct {
	Occupancy OccupancyJob `yaml:"occupancy"`
	Weather   WeatherJob   `yaml:"weather"`
}

// Config holds all worker settings.
type Config struct {
	HTTPAddr        string   `yaml:"http_addr"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	Database Database `yaml:"database"`
	Liveness Liveness `yaml:"liveness"`
	Fetch    Fetch    `yaml:"fetch"`
	Jobs     Jobs     `yaml:"jobs"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: Duration(10 * time.Second),
		Database: Database{
			Driver: "sqlite",
			DSN:    "data/kivoll.sqlite3",
		},
		Liveness: Liveness{
			Path:  "data/heartbeat",
			Grace: Duration(59 * time.Second),
		},
		Fetch: Fetch{
			Timeout:        Duration(15 * time.Second),
			MaxAttempts:    3,
			InitialBackoff: Duration(500 * time.Millisecond),
			MaxBackoff:     Duration(5 * time.Second),
		},
		Jobs: Jobs{
			Occupancy: OccupancyJob{
				Enabled:   true,
				URL:       "https://www.kletterzentrum-innsbruck.at/",
				UserAgent: "kivoll-worker/1.0",
				Interval:  Duration(5 * time.Minute),
				Jitter:    Duration(30 * time.Second),
			},
			Weather: WeatherJob{
				Enabled:      true,
				URL:          "https://api.open-meteo.com/v1/forecast",
				Interval:     Duration(time.Hour),
				Jitter:       Duration(2 * time.Minute),
				ForecastDays: 1,
				Locations: map[string]Location{
					"innsbruck": {Latitude: 47.2692, Longitude: 11.4041, Enabled: true},
				},
				Parameters: map[domain.Resolution][]string{
					domain.ResolutionHourly: {
						"temperature_2m", "relative_humidity_2m", "precipitation",
						"rain", "snowfall", "cloud_cover", "wind_speed_10m",
						"wind_gusts_10m", "soil_temperature_0cm",
						"soil_moisture_0_to_1cm", "shortwave_radiation",
					},
					domain.ResolutionDaily: {
						"temperature_2m_max", "temperature_2m_min",
						"precipitation_sum", "precipitation_hours",
						"wind_speed_10m_max", "wind_gusts_10m_max",
						"shortwave_radiation_sum", "sunshine_duration",
					},
					domain.ResolutionCurrent: {
						"temperature_2m", "relative_humidity_2m", "precipitation",
						"cloud_cover", "wind_speed_10m", "wind_gusts_10m",
					},
				},
			},
		},
	}
}

// Load reads the config file named by CONFIG_PATH (default config.yaml),
// applies environment overrides and validates the result. A missing file is
// not an error; a malformed one is.
func Load() (*Config, error) {
	// Best effort: a missing .env is the normal case outside local dev.
	_ = godotenv.Load()

	cfg := Default()

	path := envOrDefault("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// run on defaults
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.Database.Driver = envOrDefault("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envOrDefault("DB_DSN", cfg.Database.DSN)
	cfg.Liveness.Path = envOrDefault("LIVENESS_PATH", cfg.Liveness.Path)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database DSN is required")
	}
	if c.Liveness.Path == "" {
		return errors.New("liveness path is required")
	}
	if c.Fetch.MaxAttempts < 1 {
		return errors.New("fetch.max_attempts must be at least 1")
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if c.Jobs.Occupancy.Enabled {
		if c.Jobs.Occupancy.URL == "" {
			return errors.New("occupancy job enabled without URL")
		}
		if c.Jobs.Occupancy.Interval <= 0 {
			return errors.New("occupancy interval must be positive")
		}
	}
	if c.Jobs.Weather.Enabled {
		if c.Jobs.Weather.URL == "" {
			return errors.New("weather job enabled without URL")
		}
		if c.Jobs.Weather.Interval <= 0 {
			return errors.New("weather interval must be positive")
		}
		if c.Jobs.Weather.ForecastDays < 1 {
			return errors.New("weather forecast_days must be at least 1")
		}
		if len(c.EnabledLocations()) == 0 {
			return errors.New("weather job enabled without enabled locations")
		}
	}
	return nil
}

// EnabledLocations returns the weather locations flagged enabled.
func (c *Config) EnabledLocations() map[string]Location {
	out := make(map[string]Location)
	for name, loc := range c.Jobs.Weather.Locations {
		if loc.Enabled {
			out[name] = loc
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
