// Package cache keeps resolved students in Redis so repeated risk events for
// the same student do not hit the school database every time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"student_risk_notifier/internal/domain/student"

	"github.com/redis/go-redis/v9"
)

// PrefixStudent namespaces student keys.
const PrefixStudent = "risk-notifier:student:"

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// StudentCache implements student.Cache on top of Redis.
type StudentCache struct {
	client redis.Cmdable
}

func NewStudentCache(client redis.Cmdable) *StudentCache {
	return &StudentCache{client: client}
}

// StudentKey returns the cache key for a student id.
func StudentKey(studentID string) string {
	return PrefixStudent + studentID
}

// Get returns student.ErrCacheMiss when nothing is cached.
func (c *StudentCache) Get(ctx context.Context, studentID string) (*student.NotifiableStudent, error) {
	data, err := c.client.Get(ctx, StudentKey(studentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, student.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", studentID, err)
	}
	var s student.NotifiableStudent
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode cached student %s: %w", studentID, err)
	}
	return &s, nil
}

func (c *StudentCache) Set(ctx context.Context, s *student.NotifiableStudent, ttl time.Duration) error {
	if s == nil {
		return nil
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid cache ttl %s", ttl)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode student %s: %w", s.ID, err)
	}
	return c.client.Set(ctx, StudentKey(s.ID), data, ttl).Err()
}

func (c *StudentCache) Delete(ctx context.Context, studentID string) error {
	return c.client.Del(ctx, StudentKey(studentID)).Err()
}
