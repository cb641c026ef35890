package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the shared Redis client. Zero values keep the go-redis
// defaults.
type RedisOptions struct {
	PoolSize int
	// Timeout bounds dialing and each command round trip.
	Timeout time.Duration
	// ConnectAttempts is how many pings are tried before giving up.
	ConnectAttempts uint
}

// NewRedisClient builds the client behind sessions, challenges, idempotency
// keys and the notification outbox, and waits until the server answers.
func NewRedisClient(ctx context.Context, url string, opts RedisOptions) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}
	if opts.Timeout > 0 {
		opt.DialTimeout = opts.Timeout
		opt.ReadTimeout = opts.Timeout
		opt.WriteTimeout = opts.Timeout
	}
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = 1
	}

	client := redis.NewClient(opt)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx).Err()
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(opts.ConnectAttempts))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
