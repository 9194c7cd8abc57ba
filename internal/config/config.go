package config

import (
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Email     EmailConfig
	OTP       OTPConfig
	Bootstrap BootstrapConfig
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
	AutoMigrate       bool
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
}

type AuthConfig struct {
	JWTSecret           string
	AccessTokenExpiry   time.Duration
	RefreshTokenExpiry  time.Duration
	CleanupInterval     time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
	CookieDomain        string
	CookieSecure        bool
	SignInPath          string
	BcryptCost          int
}

// EmailConfig selects and configures the outbound mail transport.
// An empty Provider leaves mail unconfigured; code issuance then fails with a
// service-unavailable error instead of the server refusing to start.
type EmailConfig struct {
	Provider     string // "ses", "smtp" or ""
	FromAddress  string
	AppName      string
	AWSRegion    string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SendRate     float64 // messages per second, 0 disables throttling
	SendBurst    int
}

type OTPConfig struct {
	TTL            time.Duration
	ResendCooldown time.Duration
	AttemptWindow  time.Duration
	MaxAttempts    int
	UsedRetention  time.Duration
	EventRetention time.Duration
	ExposeCodes    bool
}

type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "carelink"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			AccessTokenExpiry:   getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:  getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:     getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			CookieDomain:        getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:        getEnvAsBool("COOKIE_SECURE", env == "production"),
			SignInPath:          getEnv("SIGNIN_PATH", "/auth/signin"),
			BcryptCost:          getEnvAsInt("BCRYPT_COST", 12),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "")),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
			AppName:      getEnv("APP_NAME", "CareLink"),
			AWSRegion:    getEnv("AWS_REGION", ""),
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			SendRate:     getEnvAsFloat("EMAIL_SEND_RATE", 14),
			SendBurst:    getEnvAsInt("EMAIL_SEND_BURST", 14),
		},
		OTP: OTPConfig{
			TTL:            getEnvAsDuration("OTP_TTL", 1*time.Minute),
			ResendCooldown: getEnvAsDuration("OTP_RESEND_COOLDOWN", 1*time.Minute),
			AttemptWindow:  getEnvAsDuration("OTP_ATTEMPT_WINDOW", 15*time.Minute),
			MaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 10),
			UsedRetention:  getEnvAsDuration("OTP_USED_RETENTION", 24*time.Hour),
			EventRetention: getEnvAsDuration("OTP_EVENT_RETENTION", 30*24*time.Hour),
			ExposeCodes:    getEnvAsBool("OTP_EXPOSE_CODES", false),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("ADMIN_EMAIL", ""),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := validateEmail(&cfg.Email); err != nil {
		return nil, err
	}

	if err := validateOTP(&cfg.OTP, strings.TrimSpace(os.Getenv("ENV"))); err != nil {
		return nil, err
	}

	return cfg, nil
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

func validateEmail(cfg *EmailConfig) error {
	switch cfg.Provider {
	case "", "ses", "smtp":
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be one of ses, smtp (got %q)", cfg.Provider)
	}

	if cfg.Provider != "" && cfg.FromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_PROVIDER is set")
	}

	if cfg.FromAddress != "" {
		if _, err := mail.ParseAddress(cfg.FromAddress); err != nil {
			return fmt.Errorf("EMAIL_FROM_ADDRESS is not a valid address: %w", err)
		}
	}

	if cfg.SendRate < 0 {
		return fmt.Errorf("EMAIL_SEND_RATE cannot be negative")
	}

	return nil
}

// validateOTP rejects code exposure unless ENV is explicitly development.
// explicitEnv is the raw ENV value, so an unset ENV does not count even though
// the server otherwise defaults to development.
func validateOTP(cfg *OTPConfig, explicitEnv string) error {
	if cfg.ExposeCodes && explicitEnv != "development" {
		if explicitEnv == "" {
			explicitEnv = "unset"
		}
		return fmt.Errorf("OTP_EXPOSE_CODES is only allowed when ENV=development is set explicitly (got ENV=%s)", explicitEnv)
	}

	if cfg.TTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}

	if cfg.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}

	// Events back both the attempt guard and the 24h dashboard window
	if cfg.EventRetention < cfg.AttemptWindow || cfg.EventRetention < 24*time.Hour {
		return fmt.Errorf("OTP_EVENT_RETENTION must be at least 24h and at least OTP_ATTEMPT_WINDOW")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
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

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

func getEnvAsList(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return []string{}
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS")
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
