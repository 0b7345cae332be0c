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
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Mail       MailConfig
	Dispatcher DispatcherConfig
	Uploads    UploadsConfig
	Exports    ExportsConfig
	Query      QueryConfig
	RateLimit  RateLimitConfig
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

// MailConfig carries SMTP settings for the notification mailer.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// DispatcherConfig tunes the notification outbox sweep.
type DispatcherConfig struct {
	SweepInterval time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	BatchSize     int
	// Retention bounds how long delivered tasks stay queryable before the
	// sweep loop purges them. Zero disables purging.
	Retention time.Duration
}

// UploadsConfig controls attachment storage & validation.
type UploadsConfig struct {
	StorageDir       string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// ExportsConfig configures listing export generation.
type ExportsConfig struct {
	StorageDir        string
	WorkerConcurrency int
	WorkerRetries     int
}

// QueryConfig bounds read-side listing queries.
type QueryConfig struct {
	MaxPageSize     int
	DefaultPageSize int
}

// RateLimitConfig throttles authentication endpoints.
type RateLimitConfig struct {
	Enabled     bool
	LoginLimit  int
	LoginWindow time.Duration
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Mail = MailConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USER"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("MAIL_FROM"),
		Timeout:  parseDuration(v.GetString("SMTP_TIMEOUT"), 10*time.Second),
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = cfg.Mail.Username
	}

	cfg.Dispatcher = DispatcherConfig{
		SweepInterval: parseDuration(v.GetString("DISPATCHER_SWEEP_INTERVAL"), 30*time.Second),
		MaxAttempts:   v.GetInt("DISPATCHER_MAX_ATTEMPTS"),
		RetryBackoff:  parseDuration(v.GetString("DISPATCHER_RETRY_BACKOFF"), time.Minute),
		BatchSize:     v.GetInt("DISPATCHER_BATCH_SIZE"),
		Retention:     parseDuration(v.GetString("DISPATCHER_RETENTION"), 0),
	}

	maxUploadSize := v.GetInt64("UPLOADS_MAX_FILE_SIZE")
	if maxUploadSize <= 0 {
		maxUploadSize = 5 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		StorageDir:       v.GetString("UPLOADS_STORAGE_DIR"),
		MaxFileSizeBytes: maxUploadSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("UPLOADS_ALLOWED_MIME_TYPES")),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:        v.GetString("EXPORTS_STORAGE_DIR"),
		WorkerConcurrency: v.GetInt("EXPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EXPORTS_WORKER_RETRIES"),
	}

	cfg.Query = QueryConfig{
		MaxPageSize:     v.GetInt("QUERY_MAX_PAGE_SIZE"),
		DefaultPageSize: v.GetInt("QUERY_DEFAULT_PAGE_SIZE"),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:     v.GetBool("RATE_LIMIT_ENABLED"),
		LoginLimit:  v.GetInt("RATE_LIMIT_LOGIN"),
		LoginWindow: parseDuration(v.GetString("RATE_LIMIT_LOGIN_WINDOW"), time.Minute),
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
	v.SetDefault("DB_NAME", "gestion_stages")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "")
	v.SetDefault("SMTP_TIMEOUT", "10s")

	v.SetDefault("DISPATCHER_SWEEP_INTERVAL", "30s")
	v.SetDefault("DISPATCHER_MAX_ATTEMPTS", 5)
	v.SetDefault("DISPATCHER_RETRY_BACKOFF", "1m")
	v.SetDefault("DISPATCHER_BATCH_SIZE", 50)
	v.SetDefault("DISPATCHER_RETENTION", "720h")

	v.SetDefault("UPLOADS_STORAGE_DIR", "./uploads")
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("UPLOADS_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("EXPORTS_WORKER_RETRIES", 3)

	v.SetDefault("QUERY_MAX_PAGE_SIZE", 100)
	v.SetDefault("QUERY_DEFAULT_PAGE_SIZE", 20)

	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_LOGIN", 10)
	v.SetDefault("RATE_LIMIT_LOGIN_WINDOW", "1m")
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
