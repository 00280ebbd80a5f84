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

	Database   DatabaseConfig
	Redis      RedisConfig
	CORS       CORSConfig
	Log        LogConfig
	Automation AutomationConfig
	Scheduler  SchedulerConfig
	Board      BoardConfig
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AutomationConfig tunes the stage automation engine.
type AutomationConfig struct {
	MinPassInterval    time.Duration
	ReadyBatchSize     int
	MaxStartsPerPass   int
	MaxQueuePromotions int
	ManualCooldown     time.Duration
}

// SchedulerConfig governs the background automation loop.
type SchedulerConfig struct {
	Enabled bool
	Period  time.Duration
}

// BoardConfig tunes the cached machine status board.
type BoardConfig struct {
	CacheTTL time.Duration
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Automation = AutomationConfig{
		MinPassInterval:    parseDuration(v.GetString("AUTOMATION_MIN_PASS_INTERVAL"), 10*time.Second),
		ReadyBatchSize:     v.GetInt("AUTOMATION_READY_BATCH_SIZE"),
		MaxStartsPerPass:   v.GetInt("AUTOMATION_MAX_STARTS_PER_PASS"),
		MaxQueuePromotions: v.GetInt("AUTOMATION_MAX_QUEUE_PROMOTIONS"),
		ManualCooldown:     parseDuration(v.GetString("AUTOMATION_MANUAL_COOLDOWN"), 5*time.Second),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled: v.GetBool("SCHEDULER_ENABLED"),
		Period:  parseDuration(v.GetString("SCHEDULER_PERIOD"), 60*time.Second),
	}

	cfg.Board = BoardConfig{
		CacheTTL: parseDuration(v.GetString("BOARD_CACHE_TTL"), 15*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "mes_core")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AUTOMATION_MIN_PASS_INTERVAL", "10s")
	v.SetDefault("AUTOMATION_READY_BATCH_SIZE", 10)
	v.SetDefault("AUTOMATION_MAX_STARTS_PER_PASS", 3)
	v.SetDefault("AUTOMATION_MAX_QUEUE_PROMOTIONS", 2)
	v.SetDefault("AUTOMATION_MANUAL_COOLDOWN", "5s")

	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_PERIOD", "60s")

	v.SetDefault("BOARD_CACHE_TTL", "15s")
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
