package session

import (
	"context"
	"fmt"
	"time"

	"user_console/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// SetupRedis connects to the configured Redis and checks the connection,
// retrying a few times while the server comes up.
func SetupRedis(cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	var err error
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = rdb.Ping(ctx).Result()
		cancel()
		if err == nil {
			logrus.WithField("addr", cfg.RedisAddr()).Info("Connected to Redis")
			return rdb, nil
		}

		logrus.WithError(err).Warnf("Redis not ready, retrying... (%d/5)", i+1)
		time.Sleep(2 * time.Second)
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("failed to connect to Redis: %w", err)
}

// RedisStore keeps sessions in Redis so every console replica sees them.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Get session from Redis
func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	val, err := s.client.Get(ctx, Key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil // expired or never stored
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set session with TTL, refreshing its expiry
func (s *RedisStore) Set(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return ErrEmptyID
	}
	return s.client.Set(ctx, Key(id), data, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, Key(id)).Err()
}
