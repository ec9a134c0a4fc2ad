package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	Timezone  string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Retry        RetryConfig
	Availability AvailabilityConfig
	Redemption   RedemptionConfig
	Terminal     TerminalConfig
	ExtraMeals   ExtraMealsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RetryConfig bounds the resilient executor used for store calls.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxElapsed time.Duration
}

// AvailabilityConfig drives the background meal-type refresh and connectivity probe.
type AvailabilityConfig struct {
	RefreshInterval time.Duration
	CacheEnabled    bool
	CacheTTL        time.Duration
}

// RedemptionConfig holds the tunables of the voucher guard chain.
type RedemptionConfig struct {
	ShiftGracePeriod time.Duration
}

// TerminalConfig controls kiosk session lifetime.
type TerminalConfig struct {
	SessionTTL time.Duration
}

// ExtraMealsConfig gates the extra-meal request endpoints.
type ExtraMealsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.Timezone = v.GetString("APP_TIMEZONE")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Retry = RetryConfig{
		MaxRetries: v.GetInt("RETRY_MAX_RETRIES"),
		BaseDelay:  parseDuration(v.GetString("RETRY_BASE_DELAY"), time.Second),
		MaxDelay:   parseDuration(v.GetString("RETRY_MAX_DELAY"), 8*time.Second),
		MaxElapsed: parseDuration(v.GetString("RETRY_MAX_ELAPSED"), 15*time.Second),
	}

	cfg.Availability = AvailabilityConfig{
		RefreshInterval: parseDuration(v.GetString("AVAILABILITY_REFRESH_INTERVAL"), 30*time.Second),
		CacheEnabled:    v.GetBool("ENABLE_MEAL_TYPE_CACHE"),
		CacheTTL:        parseDuration(v.GetString("MEAL_TYPE_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Redemption = RedemptionConfig{
		ShiftGracePeriod: parseDuration(v.GetString("SHIFT_GRACE_PERIOD"), 15*time.Minute),
	}

	cfg.Terminal = TerminalConfig{
		SessionTTL: parseDuration(v.GetString("TERMINAL_SESSION_TTL"), 10*time.Minute),
	}

	cfg.ExtraMeals = ExtraMealsConfig{
		Enabled: v.GetBool("ENABLE_EXTRA_MEALS"),
	}

	return cfg, nil
}

// Location resolves the configured time zone, falling back to the host zone.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("APP_TIMEZONE", "America/Sao_Paulo")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "meal_voucher")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RETRY_MAX_RETRIES", 3)
	v.SetDefault("RETRY_BASE_DELAY", "1s")
	v.SetDefault("RETRY_MAX_DELAY", "8s")
	v.SetDefault("RETRY_MAX_ELAPSED", "15s")

	v.SetDefault("AVAILABILITY_REFRESH_INTERVAL", "30s")
	v.SetDefault("ENABLE_MEAL_TYPE_CACHE", true)
	v.SetDefault("MEAL_TYPE_CACHE_TTL", "5m")

	v.SetDefault("SHIFT_GRACE_PERIOD", "15m")
	v.SetDefault("TERMINAL_SESSION_TTL", "10m")
	v.SetDefault("ENABLE_EXTRA_MEALS", true)
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
