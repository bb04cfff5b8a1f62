package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sentinel/internal/model"
	redisSvc "sentinel/internal/service/redis"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions as JSON snapshots that expire after ttl.
type RedisStore struct {
	redisService *redisSvc.RedisService
	ttl          time.Duration
}

func NewRedisStore(redisService *redisSvc.RedisService, ttl time.Duration) *RedisStore {
	return &RedisStore{
		redisService: redisService,
		ttl:          ttl,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("sentinel:session:%s", sessionID)
}

func (c *RedisStore) Create(ctx context.Context, session *model.VerificationSession) (bool, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return false, err
	}
	return c.redisService.SetNX(ctx, sessionKey(session.SessionID), data, c.ttl)
}

func (c *RedisStore) Get(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
	v, err := c.redisService.Get(ctx, sessionKey(sessionID))
	if err == redis.Nil {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var session model.VerificationSession
	err = json.Unmarshal([]byte(v), &session)
	if err != nil {
		return nil, err
	}

	return &session, nil
}

func (c *RedisStore) Save(ctx context.Context, session *model.VerificationSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.redisService.Set(ctx, sessionKey(session.SessionID), data, c.ttl)
}

func (c *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return c.redisService.Del(ctx, sessionKey(sessionID))
}
