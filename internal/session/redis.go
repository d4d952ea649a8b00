// Package session stores opaque session tokens bound to auth nullifiers.
// Tokens are bearer credentials with a short TTL; the session value carries
// no secrets, only public protocol state.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/protocol"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore keeps sessions in Redis so multiple trust-anchor instances
// share them. Expiry is enforced by Redis TTLs.
type RedisStore struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects and verifies the connection. Unlike the audit bus,
// sessions are load-bearing, so an unreachable Redis fails startup.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect session store: %w", err)
	}

	logger.Info("Session store connected to Redis", zap.String("addr", cfg.Addr))
	return &RedisStore{redis: client, logger: logger}, nil
}

func sessionKey(token string) string {
	return fmt.Sprintf("zkvote:session:%s", token)
}

// Create stores a session under token with the given TTL.
func (s *RedisStore) Create(ctx context.Context, token string, sess protocol.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.redis.Set(ctx, sessionKey(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get looks a session up; the second return is false when the token is
// unknown or expired.
func (s *RedisStore) Get(ctx context.Context, token string) (protocol.Session, bool, error) {
	data, err := s.redis.Get(ctx, sessionKey(token)).Bytes()
	if err == redis.Nil {
		return protocol.Session{}, false, nil
	}
	if err != nil {
		return protocol.Session{}, false, fmt.Errorf("failed to read session: %w", err)
	}

	var sess protocol.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// Corrupted entry; treat as absent so the holder re-authenticates.
		s.logger.Warn("Dropping corrupted session entry", zap.Error(err))
		_ = s.redis.Del(ctx, sessionKey(token))
		return protocol.Session{}, false, nil
	}

	return sess, true, nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.redis.Del(ctx, sessionKey(token)).Err()
}

// HealthCheck verifies the Redis connection.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
