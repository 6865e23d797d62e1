package config

import (
	"time"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Redis    RedisConfig    `koanf:"redis"`
	PubNub   PubNubConfig   `koanf:"pubnub"`
	Booking  BookingConfig  `koanf:"booking"`
	Payments PaymentsConfig `koanf:"payments"`
	Notify   NotifyConfig   `koanf:"notify"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Security SecurityConfig `koanf:"security"`
}

type ServerConfig struct {
	// Environment is development or production. Development turns on PocketBase dev mode.
	Environment string `koanf:"environment"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// RedisConfig is optional. With an empty URL, locks, processed events and
// rate limits stay in process.
type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
	MaxRetries   int    `koanf:"max_retries"`
}

type PubNubConfig struct {
	PublishKey   string `koanf:"publish_key"`
	SubscribeKey string `koanf:"subscribe_key"`
	SecretKey    string `koanf:"secret_key"`
	UserID       string `koanf:"user_id"`
}

func (p PubNubConfig) Enabled() bool {
	return p.PublishKey != "" && p.SubscribeKey != ""
}

type BookingConfig struct {
	MaxStayNights       int           `koanf:"max_stay_nights"`
	MaxGuestsPerBooking int           `koanf:"max_guests_per_booking"`
	TimeZone            string        `koanf:"time_zone"`
	PhoneRegion         string        `koanf:"phone_region"`
	StoreTimeout        time.Duration `koanf:"store_timeout"`
	LockTimeout         time.Duration `koanf:"lock_timeout"`
	LockTTL             time.Duration `koanf:"lock_ttl"`
	// Locker is memory or redis.
	Locker       string        `koanf:"locker"`
	AbandonAfter time.Duration `koanf:"abandon_after"`
}

type PaymentsConfig struct {
	ProcessTimeout time.Duration `koanf:"process_timeout"`
	// GatewayChannel is the PubNub channel payment notifications arrive on.
	// Empty disables the feed; the webhook route is always registered.
	GatewayChannel string `koanf:"gateway_channel"`
}

type NotifyConfig struct {
	Topic                   string        `koanf:"topic"`
	PoisonTopic             string        `koanf:"poison_topic"`
	RetryMaxRetries         int           `koanf:"retry_max_retries"`
	RetryInitialInterval    time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval        time.Duration `koanf:"retry_max_interval"`
	RetryMultiplier         float64       `koanf:"retry_multiplier"`
	DeliveryTimeout         time.Duration `koanf:"delivery_timeout"`
	CloseTimeout            time.Duration `koanf:"close_timeout"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
	BreakerInterval         time.Duration `koanf:"breaker_interval"`
}

type DedupConfig struct {
	// Backend is memory, redis or badger.
	Backend string        `koanf:"backend"`
	TTL     time.Duration `koanf:"ttl"`
	Path    string        `koanf:"path"`
}

type SecurityConfig struct {
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Location resolves Booking.TimeZone. Validate has already rejected unknown zones.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
