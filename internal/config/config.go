package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName             = "PayEase"
	defaultAppEnv              = "development"
	defaultPort                = "8080"
	defaultLogLevel            = "info"
	defaultShutdownDelay       = 10 * time.Second
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultSessionTTL          = 7 * 24 * time.Hour
	defaultChallengeTTL        = 5 * time.Minute
	defaultEnrollmentTTL       = 10 * time.Minute
	defaultChallengeAttempts   = 5
	defaultCollaboratorTimeout = 5 * time.Second
	defaultLowBalanceThreshold = 1000
	defaultLoginRatePerMinute  = 5
	defaultTOTPIssuer          = "PayEase"
	defaultPendingPolls        = 1
	devSessionSecret           = "payease-development-secret-change-me"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	RedisPoolSize  int
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	SessionSecret        string
	SessionTTL           time.Duration
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	EnrollmentTTL        time.Duration
	TOTPIssuer           string

	CollaboratorTimeout time.Duration
	LowBalanceThreshold int64
	LoginRatePerMinute  int
	// PendingPolls is how many verifications the simulated execution
	// service answers "pending" before resolving a payment.
	PendingPolls int
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:              getEnv("APP_NAME", defaultAppName),
		AppEnv:               getEnv("APP_ENV", defaultAppEnv),
		Port:                 getEnv("PORT", defaultPort),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		SessionSecret:        os.Getenv("SESSION_SECRET"),
		TOTPIssuer:           getEnv("TOTP_ISSUER", defaultTOTPIssuer),
		ChallengeMaxAttempts: defaultChallengeAttempts,
		LowBalanceThreshold:  defaultLowBalanceThreshold,
		LoginRatePerMinute:   defaultLoginRatePerMinute,
		PendingPolls:         defaultPendingPolls,
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", defaultShutdownDelay, &cfg.ShutdownPeriod},
		{"IDEMPOTENCY_TTL", defaultIdempotencyTTL, &cfg.IdempotencyTTL},
		{"SESSION_TTL", defaultSessionTTL, &cfg.SessionTTL},
		{"CHALLENGE_TTL", defaultChallengeTTL, &cfg.ChallengeTTL},
		{"ENROLLMENT_TTL", defaultEnrollmentTTL, &cfg.EnrollmentTTL},
		{"COLLABORATOR_TIMEOUT", defaultCollaboratorTimeout, &cfg.CollaboratorTimeout},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	if v := os.Getenv("CHALLENGE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid CHALLENGE_MAX_ATTEMPTS: %q", v)
		}
		cfg.ChallengeMaxAttempts = n
	}
	if v := os.Getenv("LOW_BALANCE_THRESHOLD"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOW_BALANCE_THRESHOLD: %w", err)
		}
		cfg.LowBalanceThreshold = n
	}
	if v := os.Getenv("LOGIN_RATE_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOGIN_RATE_PER_MINUTE: %w", err)
		}
		cfg.LoginRatePerMinute = n
	}

	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid REDIS_POOL_SIZE: %q", v)
		}
		cfg.RedisPoolSize = n
	}

	if v := os.Getenv("EXECUTOR_PENDING_POLLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid EXECUTOR_PENDING_POLLS: %q", v)
		}
		cfg.PendingPolls = n
	}

	if cfg.IsDev() {
		if cfg.SessionSecret == "" {
			cfg.SessionSecret = devSessionSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if len(cfg.SessionSecret) < 32 {
		return Config{}, fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a development environment, where
// missing Postgres/Redis fall back to in-memory stores.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration accepts KEY as a Go duration ("90s") or KEY_SECONDS as an integer.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
