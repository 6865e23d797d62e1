package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, 30, cfg.Booking.MaxStayNights)
	assert.Equal(t, 16, cfg.Booking.MaxGuestsPerBooking)
	assert.Equal(t, "CA", cfg.Booking.PhoneRegion)
	assert.Equal(t, time.Hour, cfg.Booking.AbandonAfter)
	assert.Equal(t, "memory", cfg.Dedup.Backend)
	assert.Equal(t, 30*24*time.Hour, cfg.Dedup.TTL)
	assert.False(t, cfg.PubNub.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"BOOKING_MAX_STAY_NIGHTS":  "booking.max_stay_nights",
		"REDIS_URL":                "redis.url",
		"PUBNUB_PUBLISH_KEY":       "pubnub.publish_key",
		"NOTIFY_DELIVERY_TIMEOUT":  "notify.delivery_timeout",
		"ENVIRONMENT":              "server.environment",
		"LOG_LEVEL":                "logging.level",
		"PAYMENTS_GATEWAY_CHANNEL": "payments.gateway_channel",
		"HOME":                     "",
		"BOOKING_":                 "",
		"BOOKINGS_MAX":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, envTransformFunc(in), in)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
booking:
  max_stay_nights: 14
  time_zone: America/Vancouver
notify:
  delivery_timeout: 3s
dedup:
  backend: badger
  path: /tmp/dedup
`), 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("BOOKING_MAX_STAY_NIGHTS", "21")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 21, cfg.Booking.MaxStayNights)
	assert.Equal(t, "America/Vancouver", cfg.Booking.TimeZone)
	assert.Equal(t, 3*time.Second, cfg.Notify.DeliveryTimeout)
	assert.Equal(t, "badger", cfg.Dedup.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched defaults survive
	assert.Equal(t, 16, cfg.Booking.MaxGuestsPerBooking)
	assert.Equal(t, "America/Vancouver", cfg.Location().String())
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DEDUP_BACKEND", "redis")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup.backend=redis requires redis.url")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := defaultConfig()
	cfg.Booking.MaxStayNights = 0
	cfg.Booking.TimeZone = "Mars/Olympus"
	cfg.Booking.Locker = "zookeeper"
	cfg.Notify.PoisonTopic = cfg.Notify.Topic
	cfg.Payments.GatewayChannel = "payments"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"max_stay_nights",
		"time_zone",
		"booking.locker",
		"poison_topic",
		"gateway_channel",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
