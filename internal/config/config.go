// Package config loads the YAML + environment configuration recognized by
// the core: a YAML file provides structure, environment variables provide
// overrides and secrets, and defaults fill in anything left blank.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseProvider selects the SQL driver; schema is identical across all three.
type DatabaseProvider string

const (
	ProviderSQLite   DatabaseProvider = "SQLite"
	ProviderPostgres DatabaseProvider = "Postgres"
	ProviderSqlServer DatabaseProvider = "SqlServer"
)

type AuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type DataProtectionConfig struct {
	KeyDirectory string `yaml:"key_directory"`
}

// Config is the whole of the recognized configuration surface, plus the
// ambient fields (HTTP bind address, cron overrides for tests) a runnable
// process also needs.
type Config struct {
	Authentication map[string]AuthConfig `yaml:"authentication"`

	ConnectionStrings struct {
		Default string `yaml:"default"`
	} `yaml:"connection_strings"`

	DatabaseProvider DatabaseProvider `yaml:"database_provider"`

	DataProtection DataProtectionConfig `yaml:"data_protection"`

	BaseUrl string `yaml:"base_url"`

	YouTubePolling struct {
		IntervalHours float64 `yaml:"interval_hours"`
	} `yaml:"youtube_polling"`

	VideoProcessing struct {
		IntervalMinutes float64 `yaml:"interval_minutes"`
	} `yaml:"video_processing"`

	// Fixed at 30 and 15 minutes in production; overridable here only so
	// tests can run the loops on a compressed clock.
	WebSubManagerIntervalMinutes float64 `yaml:"websub_manager_interval_minutes"`
	TokenRefreshIntervalMinutes  float64 `yaml:"token_refresh_interval_minutes"`

	HTTPAddr   string `yaml:"http_addr"`
	HealthAddr string `yaml:"health_addr"`
}

func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.YouTubePolling.IntervalHours * float64(time.Hour))
}

func (c *Config) FanOutInterval() time.Duration {
	return time.Duration(c.VideoProcessing.IntervalMinutes * float64(time.Minute))
}

func (c *Config) WebSubManagerInterval() time.Duration {
	return time.Duration(c.WebSubManagerIntervalMinutes * float64(time.Minute))
}

func (c *Config) TokenRefreshInterval() time.Duration {
	return time.Duration(c.TokenRefreshIntervalMinutes * float64(time.Minute))
}

// Load reads CONFIG_FILE (default config.yaml), overlays environment
// variables, fills defaults, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}

	var cfg Config
	if data, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if cfg.Authentication == nil {
		cfg.Authentication = map[string]AuthConfig{}
	}
	if v := os.Getenv("YOUTUBE_CLIENT_ID"); v != "" {
		a := cfg.Authentication["youtube"]
		a.ClientID = v
		cfg.Authentication["youtube"] = a
	}
	if v := os.Getenv("YOUTUBE_CLIENT_SECRET"); v != "" {
		a := cfg.Authentication["youtube"]
		a.ClientSecret = v
		cfg.Authentication["youtube"] = a
	}
	if v := os.Getenv("CONNECTION_STRING"); v != "" {
		cfg.ConnectionStrings.Default = v
	}
	if v := os.Getenv("DATABASE_PROVIDER"); v != "" {
		cfg.DatabaseProvider = DatabaseProvider(v)
	}
	if v := os.Getenv("DATA_PROTECTION_KEY_DIR"); v != "" {
		cfg.DataProtection.KeyDirectory = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.BaseUrl = v
	}
	if v := os.Getenv("YOUTUBE_POLLING_INTERVAL_HOURS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.YouTubePolling.IntervalHours = f
		}
	}
	if v := os.Getenv("VIDEO_PROCESSING_INTERVAL_MINUTES"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.VideoProcessing.IntervalMinutes = f
		}
	}

	if cfg.DatabaseProvider == "" {
		cfg.DatabaseProvider = ProviderSQLite
	}
	if cfg.ConnectionStrings.Default == "" {
		cfg.ConnectionStrings.Default = "file:autowatch.db?_pragma=busy_timeout(5000)"
	}
	if cfg.YouTubePolling.IntervalHours == 0 {
		cfg.YouTubePolling.IntervalHours = 1.0
	}
	if cfg.VideoProcessing.IntervalMinutes == 0 {
		cfg.VideoProcessing.IntervalMinutes = 5.0
	}
	if cfg.WebSubManagerIntervalMinutes == 0 {
		cfg.WebSubManagerIntervalMinutes = 30.0
	}
	if cfg.TokenRefreshIntervalMinutes == 0 {
		cfg.TokenRefreshIntervalMinutes = 15.0
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = ":8081"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BaseUrl == "" {
		return fmt.Errorf("BaseUrl is required (set BASE_URL or base_url)")
	}
	switch c.DatabaseProvider {
	case ProviderSQLite, ProviderPostgres, ProviderSqlServer:
	default:
		return fmt.Errorf("unrecognized DatabaseProvider %q", c.DatabaseProvider)
	}
	return nil
}

// CallbackURL builds the WebSub hub callback URL: {BaseUrl}/webhook.
func (c *Config) CallbackURL() string {
	return c.BaseUrl + "/webhook"
}
