package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "WAYPOINT"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "waypoint.db"
	defaultLogLevel             = "info"
	defaultTokenTTLMinutes      = 30
	defaultCheckIntervalMinutes = 360
	defaultCheckDelaySeconds    = 5
)

// AppConfig captures runtime configuration for the API server and the
// price-check worker.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	ServiceKey         string
	SigningSecret      string
	TokenTTL           time.Duration
	PriceCheckInterval time.Duration
	PriceCheckDelay    time.Duration
	PriceSourceURL     string
	PriceChecksEnabled bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("pricecheck.interval_minutes", defaultCheckIntervalMinutes)
	configViper.SetDefault("pricecheck.delay_seconds", defaultCheckDelaySeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	sourceURL := strings.TrimSpace(configViper.GetString("pricecheck.source_url"))
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		ServiceKey:         configViper.GetString("auth.service_key"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		PriceCheckInterval: time.Duration(configViper.GetInt("pricecheck.interval_minutes")) * time.Minute,
		PriceCheckDelay:    time.Duration(configViper.GetInt("pricecheck.delay_seconds")) * time.Second,
		PriceSourceURL:     sourceURL,
		PriceChecksEnabled: sourceURL != "",
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.ServiceKey) == "" {
		return fmt.Errorf("auth.service_key is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.PriceChecksEnabled {
		if c.PriceCheckInterval <= 0 {
			return fmt.Errorf("pricecheck.interval_minutes must be positive")
		}
		if c.PriceCheckDelay < 0 {
			return fmt.Errorf("pricecheck.delay_seconds must not be negative")
		}
	}
	return nil
}
