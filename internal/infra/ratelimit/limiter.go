// Package ratelimit counts failed attempts per key inside a fixed window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 上限に達している
var ErrLimited = errors.New("too many attempts")

// AttemptLimiter は失敗回数を数える。成功時はResetで消す。
type AttemptLimiter interface {
	// 上限に達していれば ErrLimited
	Check(ctx context.Context, key string) error
	// 失敗を1回記録する
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

type RedisLimiter struct {
	client *redis.Client
	prefix string
	max    int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "talentauth:attempts:",
		max:    int64(max),
		window: window,
	}
}

func (l *RedisLimiter) Check(ctx context.Context, key string) error {
	n, err := l.client.Get(ctx, l.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get attempts: %w", err)
	}
	if n >= l.max {
		return ErrLimited
	}
	return nil
}

// 最初の失敗でwindowの期限を付ける
func (l *RedisLimiter) Fail(ctx context.Context, key string) error {
	k := l.prefix + key
	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("incr attempts: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return fmt.Errorf("expire attempts: %w", err)
		}
	}
	if n >= l.max {
		return ErrLimited
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}

// Redis未設定時に使う
type NoopLimiter struct{}

func (NoopLimiter) Check(context.Context, string) error { return nil }
func (NoopLimiter) Fail(context.Context, string) error  { return nil }
func (NoopLimiter) Reset(context.Context, string) error { return nil }
