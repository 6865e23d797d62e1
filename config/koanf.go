package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			PoolSize:     100,
			MinIdleConns: 10,
			MaxRetries:   3,
		},
		PubNub: PubNubConfig{
			UserID: "booking-engine",
		},
		Booking: BookingConfig{
			MaxStayNights:       30,
			MaxGuestsPerBooking: 16,
			TimeZone:            "UTC",
			PhoneRegion:         "CA",
			StoreTimeout:        5 * time.Second,
			LockTimeout:         10 * time.Second,
			LockTTL:             30 * time.Second,
			Locker:              "memory",
			AbandonAfter:        time.Hour,
		},
		Payments: PaymentsConfig{
			ProcessTimeout: 15 * time.Second,
		},
		Notify: NotifyConfig{
			Topic:                   "booking.notifications",
			PoisonTopic:             "booking.notifications.poison",
			RetryMaxRetries:         5,
			RetryInitialInterval:    500 * time.Millisecond,
			RetryMaxInterval:        30 * time.Second,
			RetryMultiplier:         2.0,
			DeliveryTimeout:         10 * time.Second,
			CloseTimeout:            30 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          30 * time.Second,
			BreakerInterval:         time.Minute,
		},
		Dedup: DedupConfig{
			Backend: "memory",
			TTL:     30 * 24 * time.Hour,
			Path:    "pb_data/processed_events",
		},
		Security: SecurityConfig{
			RateLimitRequests: 60,
			RateLimitWindow:   time.Minute,
		},
	}
}

// Load layers defaults, an optional YAML file and environment variables, in
// that order, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sections = []string{
	"server", "logging", "redis", "pubnub", "booking",
	"payments", "notify", "dedup", "security",
}

// legacyEnv keeps the variable names older deployments already set.
var legacyEnv = map[string]string{
	"environment": "server.environment",
	"log_level":   "logging.level",
	"log_format":  "logging.format",
}

// envTransformFunc maps SECTION_SOME_KEY to section.some_key. Anything that
// does not start with a known section is skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if mapped, ok := legacyEnv[key]; ok {
		return mapped
	}
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(key, s+"_"); ok && rest != "" {
			return s + "." + rest
		}
	}
	return ""
}
