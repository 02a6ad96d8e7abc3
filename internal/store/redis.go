package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"interview_room/native/internal/domain"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 24 * time.Hour

// RedisConfig selects the Redis server holding room state.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis stores each snapshot as JSON under interview:room:<id>:<role>:state.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func redisKey(room domain.RoomID, role domain.Role) string {
	return fmt.Sprintf("interview:room:%s:%s:state", room, role)
}

func (r *Redis) Save(ctx context.Context, s domain.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(s.RoomID, s.Role), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, room domain.RoomID, role domain.Role) (domain.Snapshot, error) {
	data, err := r.client.Get(ctx, redisKey(room, role)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis get: %w", err)
	}

	var s domain.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
