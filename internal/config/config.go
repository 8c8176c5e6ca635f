/**
 * @description
 * Configuration management for the commission service.
 */
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultServerPort               = "8080"
	defaultEventExchange            = "affiliate.events"
	defaultEventQueue               = "commission_service.events"
	defaultRateLimitPrefix          = "commission:rate_limit"
	defaultPayoutRequestsPerHour    = 5
	defaultExpirationSweepSchedule  = "@every 1h"
	defaultBackfillSchedule         = "0 3 * * *"
	defaultSweepBatchSize           = 500
	defaultBackfillBatchSize        = 200
	defaultOutboxPollIntervalMillis = 2000
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	EventExchange           string `mapstructure:"EVENT_EXCHANGE"`
	EventQueue              string `mapstructure:"EVENT_QUEUE"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	PayoutRequestsPerHour   int    `mapstructure:"PAYOUT_REQUEST_RATE_LIMIT_PER_HOUR"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	JWKSURL                 string `mapstructure:"JWKS_URL"`
	JWTAudience             string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer               string `mapstructure:"JWT_ISSUER"`
	InviteBaseURL           string `mapstructure:"INVITE_BASE_URL"`
	ExpirationSweepSchedule string `mapstructure:"EXPIRATION_SWEEP_SCHEDULE"`
	BackfillSchedule        string `mapstructure:"BACKFILL_SCHEDULE"`
	SweepBatchSize          int    `mapstructure:"SWEEP_BATCH_SIZE"`
	BackfillBatchSize       int    `mapstructure:"BACKFILL_BATCH_SIZE"`
	OutboxPollIntervalMs    int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
}

var intKeys = map[string]int{
	"PAYOUT_REQUEST_RATE_LIMIT_PER_HOUR": defaultPayoutRequestsPerHour,
	"SWEEP_BATCH_SIZE":                   defaultSweepBatchSize,
	"BACKFILL_BATCH_SIZE":                defaultBackfillBatchSize,
	"OUTBOX_POLL_INTERVAL_MS":            defaultOutboxPollIntervalMillis,
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in the working directory.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("EVENT_EXCHANGE", defaultEventExchange)
	viper.SetDefault("EVENT_QUEUE", defaultEventQueue)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("EXPIRATION_SWEEP_SCHEDULE", defaultExpirationSweepSchedule)
	viper.SetDefault("BACKFILL_SCHEDULE", defaultBackfillSchedule)
	for key, value := range intKeys {
		viper.SetDefault(key, value)
	}

	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	if readErr := viper.ReadInConfig(); readErr != nil && !os.IsNotExist(readErr) {
		slog.Warn("failed to read .env config file", "error", readErr)
	}

	viper.AutomaticEnv()

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("EVENT_QUEUE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "CRON_SECRET")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("INVITE_BASE_URL")
	_ = viper.BindEnv("EXPIRATION_SWEEP_SCHEDULE")
	_ = viper.BindEnv("BACKFILL_SCHEDULE")
	for key := range intKeys {
		_ = viper.BindEnv(key)
	}

	// Coerce before Unmarshal so a typo in one number does not fail startup.
	for key, fallback := range intKeys {
		viper.Set(key, intOrDefault(key, viper.GetString(key), fallback))
	}

	err = viper.Unmarshal(&config)
	if port := os.Getenv("PORT"); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	return
}

func intOrDefault(key, raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		slog.Warn("invalid numeric config value, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return value
}
