package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elkanatum/tarpaulin-api/internal/model"
)

// UserCache maps token subjects to user records.
type UserCache interface {
	Get(ctx context.Context, subject string) (model.User, bool, error)
	Set(ctx context.Context, user model.User) error
}

type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, subject string) (model.User, bool, error) {
	value, err := c.redis.Get(ctx, userSubjectKey(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	var user model.User
	if err := json.Unmarshal([]byte(value), &user); err != nil {
		return model.User{}, false, err
	}
	return user, true, nil
}

func (c *RedisCache) Set(ctx context.Context, user model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, userSubjectKey(user.Subject), data, c.ttl).Err()
}

func userSubjectKey(subject string) string {
	return fmt.Sprintf("tarpaulin:user:sub:%s", subject)
}
