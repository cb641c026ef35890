package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeKeyPrefix  = "2fa:challenge:"
	challengeAccountKey = "2fa:account:"
	enrollmentKeyPrefix = "2fa:enrollment:"

	maxTxRetries = 8
)

var errContention = errors.New("too much contention on two-factor state")

// RedisChallengeStore keeps challenges as expiring JSON values. A pointer key
// per account names its live challenge.
type RedisChallengeStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisChallengeStore builds a Redis-backed challenge store.
func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client, now: time.Now}
}

func (s *RedisChallengeStore) Issue(ctx context.Context, token string, rec ChallengeRecord) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrChallengeNotFound
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pointer := challengeAccountKey + rec.AccountID

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			previous, err := tx.Get(ctx, pointer).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if previous != "" {
					pipe.Del(ctx, challengeKeyPrefix+previous)
				}
				pipe.Set(ctx, challengeKeyPrefix+token, payload, ttl)
				pipe.Set(ctx, pointer, token, ttl)
				return nil
			})
			return err
		}, pointer)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errContention
}

func (s *RedisChallengeStore) Get(ctx context.Context, token string) (ChallengeRecord, error) {
	data, err := s.client.Get(ctx, challengeKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ChallengeRecord{}, ErrChallengeNotFound
		}
		return ChallengeRecord{}, err
	}
	var rec ChallengeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ChallengeRecord{}, err
	}
	if !s.now().Before(rec.ExpiresAt) {
		return ChallengeRecord{}, ErrChallengeNotFound
	}
	return rec, nil
}

func (s *RedisChallengeStore) ReserveAttempt(ctx context.Context, token string, limit int) (int, error) {
	key := challengeKeyPrefix + token
	for i := 0; i < maxTxRetries; i++ {
		var attempts int
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var rec ChallengeRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			ttl := rec.ExpiresAt.Sub(s.now())
			if ttl <= 0 {
				return redis.Nil
			}
			if rec.Attempts >= limit {
				attempts = rec.Attempts
				return ErrAttemptsExhausted
			}
			rec.Attempts++
			attempts = rec.Attempts
			updated, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return 0, ErrChallengeNotFound
		}
		return attempts, err
	}
	return 0, errContention
}

func (s *RedisChallengeStore) Consume(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Del(ctx, challengeKeyPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RedisEnrollmentStore keeps one pending enrollment per account.
type RedisEnrollmentStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisEnrollmentStore builds a Redis-backed enrollment store.
func NewRedisEnrollmentStore(client *redis.Client) *RedisEnrollmentStore {
	return &RedisEnrollmentStore{client: client, now: time.Now}
}

func (s *RedisEnrollmentStore) Put(ctx context.Context, rec EnrollmentRecord) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrEnrollmentNotFound
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, enrollmentKeyPrefix+rec.AccountID, payload, ttl).Err()
}

func (s *RedisEnrollmentStore) Get(ctx context.Context, accountID string) (EnrollmentRecord, error) {
	data, err := s.client.Get(ctx, enrollmentKeyPrefix+accountID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return EnrollmentRecord{}, ErrEnrollmentNotFound
		}
		return EnrollmentRecord{}, err
	}
	var rec EnrollmentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return EnrollmentRecord{}, err
	}
	if !s.now().Before(rec.ExpiresAt) {
		return EnrollmentRecord{}, ErrEnrollmentNotFound
	}
	return rec, nil
}

func (s *RedisEnrollmentStore) Consume(ctx context.Context, accountID, nonce string) (bool, error) {
	key := enrollmentKeyPrefix + accountID
	for i := 0; i < maxTxRetries; i++ {
		var won bool
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var rec EnrollmentRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.Nonce != nonce {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			won = err == nil
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return won, err
	}
	return false, errContention
}
