package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type AppConfig struct {
	Port            string
	PublicBaseURL   string
	CallbackBaseURL string
	StoreDriver     string
}

type PostgresConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
}

type ProviderConfig struct {
	AccessToken   string
	WebhookSecret string
	Timeout       time.Duration
}

type PricingConfig struct {
	UnitPrice decimal.Decimal
	Currency  string
}

type PhotoPolicy struct {
	Min      int
	Max      int
	MaxBytes int64
}

type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

type CheckoutConfig struct {
	// TTL bounds how long an order may sit in AWAITING_PAYMENT before the
	// sweep expires it. Default 24h; 0 disables expiry entirely.
	TTL           time.Duration
	SweepInterval time.Duration
}

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Provider ProviderConfig
	Pricing  PricingConfig
	Photos   PhotoPolicy
	Mail     MailConfig
	Checkout CheckoutConfig
}

func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}

	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.StoreDriver = getEnv("STORE_DRIVER", "postgres")
	if cfg.App.StoreDriver != "postgres" && cfg.App.StoreDriver != "memory" {
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.App.StoreDriver)
	}

	var err error
	if cfg.App.PublicBaseURL, err = requireEnv("PUBLIC_BASE_URL"); err != nil {
		return nil, err
	}
	if cfg.App.CallbackBaseURL, err = requireEnv("CALLBACK_BASE_URL"); err != nil {
		return nil, err
	}

	if cfg.App.StoreDriver == "postgres" {
		if cfg.Postgres.Host, err = requireEnv("DB_HOST"); err != nil {
			return nil, err
		}
		if cfg.Postgres.Port, err = requireEnv("DB_PORT"); err != nil {
			return nil, err
		}
		if cfg.Postgres.User, err = requireEnv("DB_USER"); err != nil {
			return nil, err
		}
		if cfg.Postgres.Password, err = requireEnv("DB_PASSWORD"); err != nil {
			return nil, err
		}
		if cfg.Postgres.DBName, err = requireEnv("DB_NAME"); err != nil {
			return nil, err
		}
		cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
		cfg.Postgres.MigrationsPath = getEnv("MIGRATIONS_PATH", "migrations")
	}

	if cfg.Provider.AccessToken, err = requireEnv("MP_ACCESS_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.Provider.WebhookSecret, err = requireEnv("MP_WEBHOOK_SECRET"); err != nil {
		return nil, err
	}
	if cfg.Provider.Timeout, err = durationEnv("PROVIDER_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	unitPrice, err := requireEnv("UNIT_PRICE")
	if err != nil {
		return nil, err
	}
	if cfg.Pricing.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return nil, fmt.Errorf("UNIT_PRICE is not a valid decimal: %w", err)
	}
	if !cfg.Pricing.UnitPrice.IsPositive() {
		return nil, fmt.Errorf("UNIT_PRICE must be positive, got %s", cfg.Pricing.UnitPrice)
	}
	cfg.Pricing.Currency = getEnv("CURRENCY", "ARS")

	if cfg.Photos.Min, err = intEnv("MIN_PHOTOS", 4); err != nil {
		return nil, err
	}
	if cfg.Photos.Max, err = intEnv("MAX_PHOTOS", 20); err != nil {
		return nil, err
	}
	if cfg.Photos.Min < 1 || cfg.Photos.Max < cfg.Photos.Min {
		return nil, fmt.Errorf("photo bounds are invalid: min=%d max=%d", cfg.Photos.Min, cfg.Photos.Max)
	}
	maxBytes, err := intEnv("MAX_PHOTO_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	cfg.Photos.MaxBytes = int64(maxBytes)

	if cfg.Mail.Host, err = requireEnv("SMTP_HOST"); err != nil {
		return nil, err
	}
	if cfg.Mail.Port, err = intEnv("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.Mail.User, err = requireEnv("SMTP_USER"); err != nil {
		return nil, err
	}
	if cfg.Mail.Password, err = requireEnv("SMTP_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Mail.To, err = requireEnv("ORDER_EMAIL_TO"); err != nil {
		return nil, err
	}
	cfg.Mail.From = getEnv("ORDER_EMAIL_FROM", cfg.Mail.User)

	if cfg.Checkout.TTL, err = durationEnv("CHECKOUT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Checkout.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid integer: %w", key, err)
	}
	return value, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid duration: %w", key, err)
	}
	return value, nil
}
