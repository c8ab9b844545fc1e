package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	DBSource    string `mapstructure:"DB_SOURCE"`
	Port        string `mapstructure:"SERVER_PORT"`
	MetricsPort string `mapstructure:"METRICS_PORT"`
	Env         string `mapstructure:"ENVIRONMENT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFile     string `mapstructure:"LOG_FILE"`

	InternalAPIKey string `mapstructure:"INTERNAL_STARS_API_KEY"`
	AdminID        int64  `mapstructure:"ADMIN_ID"`

	TonDepositAddress    string        `mapstructure:"TON_DEPOSIT_ADDRESS"`
	TonAPIKey            string        `mapstructure:"TON_API_KEY"`
	TonAPIBaseURL        string        `mapstructure:"TON_API_BASE_URL"`
	TonPageSize          int           `mapstructure:"TON_PAGE_SIZE"`
	TonPollInterval      time.Duration `mapstructure:"TON_POLL_INTERVAL"`
	TonRequestsPerSecond float64       `mapstructure:"TON_REQUESTS_PER_SECOND"`
	MinDepositCredit     string        `mapstructure:"MIN_DEPOSIT_CREDIT"`

	RateAPIURL          string        `mapstructure:"TON_RATE_API"`
	RateTTL             time.Duration `mapstructure:"RATE_TTL"`
	RateRefreshInterval time.Duration `mapstructure:"RATE_REFRESH_INTERVAL"`

	YooKassaShopID       string        `mapstructure:"YOOKASSA_SHOP_ID"`
	YooKassaSecretKey    string        `mapstructure:"YOOKASSA_SECRET_KEY"`
	YooKassaAPIURL       string        `mapstructure:"YOOKASSA_API_URL"`
	PaymentReturnURL     string        `mapstructure:"PAYMENT_RETURN_URL"`
	PaymentSweepInterval time.Duration `mapstructure:"PAYMENT_SWEEP_INTERVAL"`

	NatsURL string `mapstructure:"NATS_URL"`

	StarPrice      string `mapstructure:"STAR_PRICE"`
	ReferralReward string `mapstructure:"REFERRAL_REWARD"`
}

var keys = []string{
	"DB_SOURCE", "SERVER_PORT", "METRICS_PORT", "ENVIRONMENT", "LOG_LEVEL", "LOG_FILE",
	"INTERNAL_STARS_API_KEY", "ADMIN_ID",
	"TON_DEPOSIT_ADDRESS", "TON_API_KEY", "TON_API_BASE_URL", "TON_PAGE_SIZE",
	"TON_POLL_INTERVAL", "TON_REQUESTS_PER_SECOND", "MIN_DEPOSIT_CREDIT",
	"TON_RATE_API", "RATE_TTL", "RATE_REFRESH_INTERVAL",
	"YOOKASSA_SHOP_ID", "YOOKASSA_SECRET_KEY", "YOOKASSA_API_URL", "PAYMENT_RETURN_URL",
	"PAYMENT_SWEEP_INTERVAL",
	"NATS_URL", "STAR_PRICE", "REFERRAL_REWARD",
}

// Load reads configuration from the environment, after applying a local
// .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("METRICS_PORT", "9091")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TON_API_BASE_URL", "https://toncenter.com")
	v.SetDefault("TON_PAGE_SIZE", 100)
	v.SetDefault("TON_POLL_INTERVAL", "10s")
	v.SetDefault("TON_REQUESTS_PER_SECOND", 1.0)
	v.SetDefault("MIN_DEPOSIT_CREDIT", "1.00")
	v.SetDefault("TON_RATE_API", "https://api.coingecko.com")
	v.SetDefault("RATE_TTL", "10m")
	v.SetDefault("RATE_REFRESH_INTERVAL", "10m")
	v.SetDefault("YOOKASSA_API_URL", "https://api.yookassa.ru")
	v.SetDefault("PAYMENT_SWEEP_INTERVAL", "1m")
	v.SetDefault("STAR_PRICE", "1.5")
	v.SetDefault("REFERRAL_REWARD", "5.0")
	v.AutomaticEnv()

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if cfg.TonPageSize <= 0 {
		return nil, fmt.Errorf("TON_PAGE_SIZE must be positive, got %d", cfg.TonPageSize)
	}
	for name, raw := range map[string]string{
		"MIN_DEPOSIT_CREDIT": cfg.MinDepositCredit,
		"STAR_PRICE":         cfg.StarPrice,
		"REFERRAL_REWARD":    cfg.ReferralReward,
	} {
		if _, err := decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("%s is not a decimal: %w", name, err)
		}
	}

	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) MinDeposit() decimal.Decimal {
	return decimal.RequireFromString(c.MinDepositCredit)
}

func (c *Config) DefaultStarPrice() decimal.Decimal {
	return decimal.RequireFromString(c.StarPrice)
}

func (c *Config) DefaultReferralReward() decimal.Decimal {
	return decimal.RequireFromString(c.ReferralReward)
}
