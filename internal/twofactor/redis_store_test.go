package twofactor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/payease/payease/internal/identity"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisChallengeStoreLifecycle(t *testing.T) {
	mr, client := newRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()

	rec := ChallengeRecord{AccountID: "acc-1", Method: identity.MethodAuthenticator, ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, store.Issue(ctx, "tok-1", rec))
	require.True(t, mr.Exists(challengeKeyPrefix+"tok-1"))
	require.Greater(t, mr.TTL(challengeKeyPrefix+"tok-1"), time.Duration(0))

	attempts, err := store.ReserveAttempt(ctx, "tok-1", 2)
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
	attempts, err = store.ReserveAttempt(ctx, "tok-1", 2)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	attempts, err = store.ReserveAttempt(ctx, "tok-1", 2)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.Equal(t, 2, attempts)

	got, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, 2, got.Attempts)
	require.Greater(t, mr.TTL(challengeKeyPrefix+"tok-1"), time.Duration(0))

	won, err := store.Consume(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, won)
	won, err = store.Consume(ctx, "tok-1")
	require.NoError(t, err)
	require.False(t, won)

	_, err = store.Get(ctx, "tok-1")
	require.ErrorIs(t, err, ErrChallengeNotFound)
	_, err = store.ReserveAttempt(ctx, "tok-1", 2)
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRedisChallengeStoreReplacesPerAccount(t *testing.T) {
	mr, client := newRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()
	rec := ChallengeRecord{AccountID: "acc-1", Method: identity.MethodEmail, CodeDigest: digest("123456"), ExpiresAt: time.Now().Add(time.Minute)}

	require.NoError(t, store.Issue(ctx, "old", rec))
	require.NoError(t, store.Issue(ctx, "new", rec))

	_, err := store.Get(ctx, "old")
	require.ErrorIs(t, err, ErrChallengeNotFound)
	_, err = store.Get(ctx, "new")
	require.NoError(t, err)

	pointer, err := mr.Get(challengeAccountKey + "acc-1")
	require.NoError(t, err)
	require.Equal(t, "new", pointer)
}

func TestRedisChallengeStoreExpiry(t *testing.T) {
	mr, client := newRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()

	require.NoError(t, store.Issue(ctx, "tok", ChallengeRecord{AccountID: "acc", Method: identity.MethodAuthenticator, ExpiresAt: time.Now().Add(time.Minute)}))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "tok")
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRedisEnrollmentStoreNonce(t *testing.T) {
	_, client := newRedis(t)
	store := NewRedisEnrollmentStore(client)
	ctx := context.Background()

	first := EnrollmentRecord{Nonce: "n1", AccountID: "acc", Method: identity.MethodAuthenticator, Secret: "A", ExpiresAt: time.Now().Add(time.Minute)}
	second := first
	second.Nonce, second.Secret = "n2", "B"

	require.NoError(t, store.Put(ctx, first))
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Get(ctx, "acc")
	require.NoError(t, err)
	require.Equal(t, "B", got.Secret)

	won, err := store.Consume(ctx, "acc", "n1")
	require.NoError(t, err)
	require.False(t, won)

	won, err = store.Consume(ctx, "acc", "n2")
	require.NoError(t, err)
	require.True(t, won)

	_, err = store.Get(ctx, "acc")
	require.ErrorIs(t, err, ErrEnrollmentNotFound)
	won, err = store.Consume(ctx, "acc", "n2")
	require.NoError(t, err)
	require.False(t, won)
}
