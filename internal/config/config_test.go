package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SESSION_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultChallengeTTL, cfg.ChallengeTTL)
	require.Equal(t, defaultChallengeAttempts, cfg.ChallengeMaxAttempts)
	require.Equal(t, int64(defaultLowBalanceThreshold), cfg.LowBalanceThreshold)
	require.NotEmpty(t, cfg.SessionSecret)
	require.Equal(t, ":8080", cfg.Address())
}

func TestLoadDurationForms(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("CHALLENGE_TTL_SECONDS", "90")
	t.Setenv("SESSION_TTL", "12h")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.ChallengeTTL)
	require.Equal(t, 12*time.Hour, cfg.SessionTTL)
}

func TestLoadProductionRequiresBackends(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	_, err := Load()
	require.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/payease")
	t.Setenv("SESSION_SECRET", "short")
	_, err = Load()
	require.ErrorContains(t, err, "SESSION_SECRET")
}

func TestLoadRejectsBadAttempts(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("CHALLENGE_MAX_ATTEMPTS", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRedisPoolSize(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("REDIS_POOL_SIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 25, cfg.RedisPoolSize)

	t.Setenv("REDIS_POOL_SIZE", "-1")
	_, err = Load()
	require.ErrorContains(t, err, "REDIS_POOL_SIZE")
}
