package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PUBLIC_BASE_URL", "https://shop.example.com")
	t.Setenv("CALLBACK_BASE_URL", "https://api.example.com")
	t.Setenv("MP_ACCESS_TOKEN", "test-token")
	t.Setenv("MP_WEBHOOK_SECRET", "test-secret")
	t.Setenv("UNIT_PRICE", "2000")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_USER", "orders@example.com")
	t.Setenv("SMTP_PASSWORD", "hunter2")
	t.Setenv("ORDER_EMAIL_TO", "owner@example.com")
	t.Setenv("STORE_DRIVER", "memory")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "memory", cfg.App.StoreDriver)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "2000", cfg.Pricing.UnitPrice.String())
	assert.Equal(t, "ARS", cfg.Pricing.Currency)
	assert.Equal(t, 4, cfg.Photos.Min)
	assert.Equal(t, 20, cfg.Photos.Max)
	assert.Equal(t, int64(10<<20), cfg.Photos.MaxBytes)
	assert.Equal(t, 587, cfg.Mail.Port)
	// From falls back to the SMTP user.
	assert.Equal(t, "orders@example.com", cfg.Mail.From)
	assert.Equal(t, 24*time.Hour, cfg.Checkout.TTL)
	assert.Equal(t, 10*time.Minute, cfg.Checkout.SweepInterval)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("CURRENCY", "UYU")
	t.Setenv("MIN_PHOTOS", "6")
	t.Setenv("MAX_PHOTOS", "12")
	t.Setenv("CHECKOUT_TTL", "1h")
	t.Setenv("ORDER_EMAIL_FROM", "noreply@example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "UYU", cfg.Pricing.Currency)
	assert.Equal(t, 6, cfg.Photos.Min)
	assert.Equal(t, 12, cfg.Photos.Max)
	assert.Equal(t, time.Hour, cfg.Checkout.TTL)
	assert.Equal(t, "noreply@example.com", cfg.Mail.From)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T)
	}{
		{
			name: "missing_access_token",
			mutate: func(t *testing.T) {
				t.Setenv("MP_ACCESS_TOKEN", "")
			},
		},
		{
			name: "missing_webhook_secret",
			mutate: func(t *testing.T) {
				t.Setenv("MP_WEBHOOK_SECRET", "")
			},
		},
		{
			name: "unknown_store_driver",
			mutate: func(t *testing.T) {
				t.Setenv("STORE_DRIVER", "redis")
			},
		},
		{
			name: "unit_price_not_decimal",
			mutate: func(t *testing.T) {
				t.Setenv("UNIT_PRICE", "two thousand")
			},
		},
		{
			name: "unit_price_not_positive",
			mutate: func(t *testing.T) {
				t.Setenv("UNIT_PRICE", "0")
			},
		},
		{
			name: "photo_bounds_inverted",
			mutate: func(t *testing.T) {
				t.Setenv("MIN_PHOTOS", "10")
				t.Setenv("MAX_PHOTOS", "4")
			},
		},
		{
			name: "bad_duration",
			mutate: func(t *testing.T) {
				t.Setenv("CHECKOUT_TTL", "soon")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			tt.mutate(t)

			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_PostgresRequiredOnlyForPostgresDriver(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := Load("")
	require.Error(t, err)

	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "magnetico")
	t.Setenv("DB_PASSWORD", "magnetico")
	t.Setenv("DB_NAME", "magnetico")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, "migrations", cfg.Postgres.MigrationsPath)
}
