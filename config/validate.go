package config

import (
	"errors"
	"fmt"
	"time"

	"direct-booking/internal/logging"
)

func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Environment {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("server.environment must be development or production, got %q", c.Server.Environment))
	}

	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is not recognised", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	errs = append(errs, c.validateBooking()...)
	errs = append(errs, c.validateNotify()...)

	switch c.Dedup.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("dedup.backend=redis requires redis.url"))
		}
	case "badger":
		if c.Dedup.Path == "" {
			errs = append(errs, errors.New("dedup.backend=badger requires dedup.path"))
		}
	default:
		errs = append(errs, fmt.Errorf("dedup.backend must be memory, redis or badger, got %q", c.Dedup.Backend))
	}
	if c.Dedup.TTL <= 0 {
		errs = append(errs, errors.New("dedup.ttl must be positive"))
	}

	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitRequests <= 0 || c.Security.RateLimitWindow <= 0 {
			errs = append(errs, errors.New("security rate limit requests and window must be positive"))
		}
	}

	if c.Payments.GatewayChannel != "" && !c.PubNub.Enabled() {
		errs = append(errs, errors.New("payments.gateway_channel requires pubnub publish and subscribe keys"))
	}

	return errors.Join(errs...)
}

func (c *Config) validateBooking() []error {
	var errs []error
	b := c.Booking

	if b.MaxStayNights < 1 {
		errs = append(errs, errors.New("booking.max_stay_nights must be at least 1"))
	}
	if b.MaxGuestsPerBooking < 1 {
		errs = append(errs, errors.New("booking.max_guests_per_booking must be at least 1"))
	}
	if _, err := time.LoadLocation(b.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("booking.time_zone: %w", err))
	}
	if len(b.PhoneRegion) != 2 {
		errs = append(errs, fmt.Errorf("booking.phone_region must be a two-letter region code, got %q", b.PhoneRegion))
	}
	if b.StoreTimeout <= 0 || b.LockTimeout <= 0 {
		errs = append(errs, errors.New("booking store and lock timeouts must be positive"))
	}
	if b.AbandonAfter <= 0 {
		errs = append(errs, errors.New("booking.abandon_after must be positive"))
	}

	switch b.Locker {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("booking.locker=redis requires redis.url"))
		}
		if b.LockTTL <= 0 {
			errs = append(errs, errors.New("booking.lock_ttl must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("booking.locker must be memory or redis, got %q", b.Locker))
	}
	return errs
}

func (c *Config) validateNotify() []error {
	var errs []error
	n := c.Notify

	if n.Topic == "" {
		errs = append(errs, errors.New("notify.topic is required"))
	}
	if n.PoisonTopic == n.Topic {
		errs = append(errs, errors.New("notify.poison_topic must differ from notify.topic"))
	}
	if n.RetryMaxRetries < 0 {
		errs = append(errs, errors.New("notify.retry_max_retries must not be negative"))
	}
	if n.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("notify.delivery_timeout must be positive"))
	}
	if n.BreakerFailureThreshold == 0 {
		errs = append(errs, errors.New("notify.breaker_failure_threshold must be at least 1"))
	}
	return errs
}
