package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Драйверы хранилища
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config - структура для хранения конфигурации приложения
type Config struct {
	DatabaseURL  string        `env:"DATABASE_URL"`
	StoreDriver  string        `env:"STORE_DRIVER" envDefault:"postgres"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	HTTPPort     string        `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`

	// Redis Config
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass     string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisCacheTTL time.Duration `env:"REDIS_CACHE_TTL" envDefault:"5m"`

	// Webhook Config
	WebhookURL        string        `env:"WEBHOOK_URL"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
	WebhookMaxRetries int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"3"`
	WebhookBaseDelay  time.Duration `env:"WEBHOOK_BASE_DELAY" envDefault:"1s"`

	// Corroboration Config
	SpatialRadiusMeters   float64 `env:"SPATIAL_RADIUS_METERS" envDefault:"200"`
	TemporalWindowMinutes int     `env:"TEMPORAL_WINDOW_MINUTES" envDefault:"30"`
	VerificationThreshold float64 `env:"VERIFICATION_THRESHOLD" envDefault:"1.8"`
	CategoriesFile        string  `env:"CATEGORIES_FILE"`
	DescriptionMaxLength  int     `env:"DESCRIPTION_MAX_LENGTH" envDefault:"2000"`

	// Trust Config
	TrustScoreCeiling    float64 `env:"TRUST_SCORE_CEILING" envDefault:"5.0"`
	TrustScoreFloor      float64 `env:"TRUST_SCORE_FLOOR" envDefault:"0.0"`
	TrustAdjustmentDelta float64 `env:"TRUST_ADJUSTMENT_DELTA" envDefault:"0.1"`
	BanOnFloor           bool    `env:"BAN_ON_FLOOR" envDefault:"true"`
	HideBans             bool    `env:"HIDE_BANS" envDefault:"true"`

	// Resolution Sweep Config
	ResolutionTTLMinutes int `env:"RESOLUTION_TTL_MINUTES" envDefault:"120"`
	SweepBatchSize       int `env:"SWEEP_BATCH_SIZE" envDefault:"100"`

	// Rate limit на устройство
	DeviceRatePerMinute int `env:"DEVICE_RATE_PER_MINUTE" envDefault:"6"`
	DeviceRateBurst     int `env:"DEVICE_RATE_BURST" envDefault:"3"`

	// API Keys for authentication
	APIKeys []string `env:"API_KEYS"`
	// Секрет для проверки токенов операторов
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`
}

// LoadConfig загружает конфигурацию из переменных окружения и .env файла
func LoadConfig() (*Config, error) {
	// Загрузка переменных окружения из .env файла (если есть)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка загрузки файла .env: %w", err)
	}

	cfg := &Config{
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		StoreDriver:           getEnv("STORE_DRIVER", StoreDriverPostgres),
		StoreTimeout:          getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvAsInt("REDIS_DB", 0),
		RedisCacheTTL:         getEnvAsDuration("REDIS_CACHE_TTL", 5*time.Minute),
		WebhookURL:            os.Getenv("WEBHOOK_URL"),
		WebhookSecret:         os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeout:        getEnvAsDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookMaxRetries:     getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
		WebhookBaseDelay:      getEnvAsDuration("WEBHOOK_BASE_DELAY", time.Second),
		SpatialRadiusMeters:   getEnvAsFloat("SPATIAL_RADIUS_METERS", 200),
		TemporalWindowMinutes: getEnvAsInt("TEMPORAL_WINDOW_MINUTES", 30),
		VerificationThreshold: getEnvAsFloat("VERIFICATION_THRESHOLD", 1.8),
		CategoriesFile:        os.Getenv("CATEGORIES_FILE"),
		DescriptionMaxLength:  getEnvAsInt("DESCRIPTION_MAX_LENGTH", 2000),
		TrustScoreCeiling:     getEnvAsFloat("TRUST_SCORE_CEILING", 5.0),
		TrustScoreFloor:       getEnvAsFloat("TRUST_SCORE_FLOOR", 0.0),
		TrustAdjustmentDelta:  getEnvAsFloat("TRUST_ADJUSTMENT_DELTA", 0.1),
		BanOnFloor:            getEnvAsBool("BAN_ON_FLOOR", true),
		HideBans:              getEnvAsBool("HIDE_BANS", true),
		ResolutionTTLMinutes:  getEnvAsInt("RESOLUTION_TTL_MINUTES", 120),
		SweepBatchSize:        getEnvAsInt("SWEEP_BATCH_SIZE", 100),
		DeviceRatePerMinute:   getEnvAsInt("DEVICE_RATE_PER_MINUTE", 6),
		DeviceRateBurst:       getEnvAsInt("DEVICE_RATE_BURST", 3),
		AdminJWTSecret:        os.Getenv("ADMIN_JWT_SECRET"),
	}

	// Загрузка API ключей
	apiKeysStr := os.Getenv("API_KEYS")
	if apiKeysStr != "" {
		cfg.APIKeys = strings.Split(apiKeysStr, ",")
		for i, key := range cfg.APIKeys {
			cfg.APIKeys[i] = strings.TrimSpace(key)
		}
	}

	if cfg.StoreDriver == StoreDriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность параметров движка
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SpatialRadiusMeters <= 0 {
		return errors.New("SPATIAL_RADIUS_METERS must be positive")
	}
	if c.TemporalWindowMinutes <= 0 {
		return errors.New("TEMPORAL_WINDOW_MINUTES must be positive")
	}
	if c.VerificationThreshold <= 0 {
		return errors.New("VERIFICATION_THRESHOLD must be positive")
	}
	if c.TrustScoreFloor < 0 || c.TrustScoreFloor >= c.TrustScoreCeiling {
		return fmt.Errorf("TRUST_SCORE_FLOOR (%.2f) must be non-negative and below TRUST_SCORE_CEILING (%.2f)", c.TrustScoreFloor, c.TrustScoreCeiling)
	}
	if c.TrustAdjustmentDelta <= 0 {
		return errors.New("TRUST_ADJUSTMENT_DELTA must be positive")
	}
	if c.ResolutionTTLMinutes <= 0 {
		return errors.New("RESOLUTION_TTL_MINUTES must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	if c.SweepBatchSize <= 0 {
		return errors.New("SWEEP_BATCH_SIZE must be positive")
	}
	if c.DescriptionMaxLength <= 0 {
		return errors.New("DESCRIPTION_MAX_LENGTH must be positive")
	}
	return nil
}

// TemporalWindow возвращает окно корроборации
func (c *Config) TemporalWindow() time.Duration {
	return time.Duration(c.TemporalWindowMinutes) * time.Minute
}

// ResolutionTTL возвращает время жизни подтвержденного инцидента без новых отчетов
func (c *Config) ResolutionTTL() time.Duration {
	return time.Duration(c.ResolutionTTLMinutes) * time.Minute
}

// getEnv возвращает значение переменной окружения или значение по умолчанию
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt возвращает значение переменной окружения как int или значение по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat возвращает значение переменной окружения как float64 или значение по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsBool возвращает значение переменной окружения как bool или значение по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration возвращает значение переменной окружения как time.Duration или значение по умолчанию
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}
