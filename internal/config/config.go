package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Security SecurityConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	HandlerTimeout time.Duration
	OpsRateLimit   int
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CleanupInterval    time.Duration
	MFAEncryptionKey   []byte // nil disables MFA enrollment
	MFAIssuer          string
	TimingBaseMs       int
	TimingJitterMs     int
}

type RedisConfig struct {
	Addr     string // empty selects the in-memory store
	Password string
	DB       int
	Timeout  time.Duration
}

// SecurityConfig drives the request pipeline and the monitor.
type SecurityConfig struct {
	MaxRequestBytes      int64
	GeneralRateLimit     int
	RateLimitWindow      time.Duration
	LoginRateLimit       int
	RefreshRateLimit     int
	SensitiveRateLimit   int
	AdminWriteRateLimit  int
	DestructiveRateLimit int
	BruteForceThreshold  int
	FailedLoginTTL       time.Duration
	LoginPaths           []string
	AdminPathPrefixes    []string
	SlowRequestThreshold time.Duration
	EventRetention       time.Duration
	EventBucketCap       int
	DefaultFactoryID     int64
	IPWhitelist          []string
	Alerts               AlertConfig
}

type AlertConfig struct {
	FailedLogins       int
	SuspiciousRequests int
	RateLimitHits      int
	ServerErrors       int
	AutoBlock          bool
	AutoBlockDuration  time.Duration
}

type EmailConfig struct {
	AWSRegion       string
	FromAddress     string
	AlertRecipients []string
	NotifyTimeout   time.Duration
	NotifyInterval  time.Duration
	NotifyBurst     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: loadDatabaseConfig(),
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			HandlerTimeout: getEnvAsDuration("SERVER_HANDLER_TIMEOUT", 60*time.Second),
			OpsRateLimit:   getEnvAsInt("OPS_RATE_LIMIT", 60),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:    getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			MFAIssuer:          getEnv("MFA_ISSUER", "Crystals"),
			TimingBaseMs:       getEnvAsInt("AUTH_TIMING_BASE_MS", 100),
			TimingJitterMs:     getEnvAsInt("AUTH_TIMING_JITTER_MS", 50),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Timeout:  getEnvAsDuration("REDIS_TIMEOUT", 2*time.Second),
		},
		Security: SecurityConfig{
			MaxRequestBytes:      getEnvAsInt64("MAX_REQUEST_BYTES", 1<<20),
			GeneralRateLimit:     getEnvAsInt("GENERAL_RATE_LIMIT", 500),
			RateLimitWindow:      getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			LoginRateLimit:       getEnvAsInt("LOGIN_RATE_LIMIT", 5),
			RefreshRateLimit:     getEnvAsInt("REFRESH_RATE_LIMIT", 3),
			SensitiveRateLimit:   getEnvAsInt("SENSITIVE_RATE_LIMIT", 5),
			AdminWriteRateLimit:  getEnvAsInt("ADMIN_WRITE_RATE_LIMIT", 10),
			DestructiveRateLimit: getEnvAsInt("DESTRUCTIVE_RATE_LIMIT", 10),
			BruteForceThreshold:  getEnvAsInt("BRUTE_FORCE_THRESHOLD", 5),
			FailedLoginTTL:       getEnvAsDuration("FAILED_LOGIN_TTL", 1*time.Hour),
			LoginPaths:           getEnvAsList("LOGIN_PATHS", []string{"/auth/login", "/user/validate"}),
			AdminPathPrefixes:    getEnvAsList("ADMIN_PATH_PREFIXES", []string{"/security"}),
			SlowRequestThreshold: getEnvAsDuration("SLOW_REQUEST_THRESHOLD", 5*time.Second),
			EventRetention:       getEnvAsDuration("EVENT_RETENTION", 24*time.Hour),
			EventBucketCap:       getEnvAsInt("EVENT_BUCKET_CAP", 5000),
			DefaultFactoryID:     getEnvAsInt64("DEFAULT_FACTORY_ID", 1),
			IPWhitelist:          getEnvAsList("IP_WHITELIST", nil),
			Alerts: AlertConfig{
				FailedLogins:       getEnvAsInt("ALERT_FAILED_LOGINS", 10),
				SuspiciousRequests: getEnvAsInt("ALERT_SUSPICIOUS_REQUESTS", 5),
				RateLimitHits:      getEnvAsInt("ALERT_RATE_LIMIT_HITS", 20),
				ServerErrors:       getEnvAsInt("ALERT_SERVER_ERRORS", 15),
				AutoBlock:          getEnvAsBool("ALERT_AUTO_BLOCK", true),
				AutoBlockDuration:  getEnvAsDuration("ALERT_AUTO_BLOCK_DURATION", 24*time.Hour),
			},
		},
		Email: EmailConfig{
			AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
			FromAddress:     getEnv("SES_FROM_ADDRESS", ""),
			AlertRecipients: getEnvAsList("ALERT_RECIPIENTS", nil),
			NotifyTimeout:   getEnvAsDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second),
			NotifyInterval:  getEnvAsDuration("ALERT_NOTIFY_INTERVAL", 10*time.Second),
			NotifyBurst:     getEnvAsInt("ALERT_NOTIFY_BURST", 5),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	key, err := parseMFAKey(getEnv("MFA_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}
	cfg.Auth.MFAEncryptionKey = key

	if cfg.Security.MaxRequestBytes <= 0 {
		return nil, fmt.Errorf("MAX_REQUEST_BYTES must be positive")
	}
	if cfg.Security.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings, for tools that do not
// serve requests.
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()
	cfg := loadDatabaseConfig()
	if cfg.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	return &cfg, nil
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:              getEnv("DB_HOST", "localhost"),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "crystals"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}
}

// IsProduction reports whether ENV is production.
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseMFAKey accepts a raw 32-byte string or its base64 encoding.
func parseMFAKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be 32 bytes (raw or base64)")
	}
	return decoded, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the DSN in postgres:// form for lib/pq and goose.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS", []string{})
	}

	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
