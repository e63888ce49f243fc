package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func setRequired(t *testing.T) {
	t.Setenv("APP_PORT", "8080")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg := Load()

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, DriverMemory, cfg.SeatMap.Driver)
	assert.Equal(t, 4, cfg.SeatMap.SeatsPerRow)
	assert.Equal(t, 15*time.Minute, cfg.Booking.HoldTTL)
	assert.Equal(t, 15*time.Minute, cfg.Booking.PaymentWindow)
	assert.Equal(t, 30*time.Second, cfg.Booking.SweepInterval)
	assert.Equal(t, "24h:100,6h:50,0s:0", cfg.Booking.RefundTiers)
	assert.True(t, cfg.Booking.CODEnabled)
	assert.False(t, cfg.Payment.Enabled())
	assert.Equal(t, []string{"card", "ewallet", "transfer"}, cfg.Payment.Methods)
	assert.False(t, cfg.Events.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SEATMAP_DRIVER", "Redis")
	t.Setenv("HOLD_TTL", "5m")
	t.Setenv("SWEEP_INTERVAL", "bogus")
	t.Setenv("COD_ENABLED", "off")
	t.Setenv("PAYMENT_GATEWAY_URL", "https://pay.example.com")
	t.Setenv("PAYMENT_CALLBACK_SECRET", "s")
	t.Setenv("AMQP_URL", "amqp://u:p@mq:5672/")

	cfg := Load()
	assert.Equal(t, DriverRedis, cfg.SeatMap.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Booking.HoldTTL)
	assert.Equal(t, 30*time.Second, cfg.Booking.SweepInterval, "invalid duration keeps the default")
	assert.False(t, cfg.Booking.CODEnabled)
	assert.True(t, cfg.Payment.Enabled())
	assert.Equal(t, "amqp://u:p@mq:5672/", cfg.Events.URL)
}

func TestRateLimitClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_TTL", "1m")
	c := LoadRateLimitConfig()
	assert.Equal(t, 1, c.Capacity)
	assert.Equal(t, 5*time.Minute, c.TTL)
}

func TestRedisOptionsHostPort(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	o := RedisOptions()
	assert.Equal(t, "cache:6380", o.Addr)
	assert.Equal(t, 2, o.DB)
	assert.Nil(t, o.TLSConfig)
}

func TestCacheMethodsUpperCased(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head")
	c := LoadCacheConfig()
	assert.True(t, c.Methods["GET"])
	assert.True(t, c.Methods["HEAD"])
}
