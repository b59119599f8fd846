package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisPingTimeout bounds the connectivity check in NewRedisMirror.
const redisPingTimeout = 5 * time.Second

// RedisConfig configures the redis mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces all keys, e.g. "voicebridge".
	Prefix string

	// TTL expires a session hash that was never removed (process crash).
	TTL time.Duration
}

// RedisMirror publishes active session membership to redis:
//
//	{prefix}:session:{device}:{session}  hash with device_id, session_id, created_at
//	{prefix}:active_sessions             set of "{device}/{session}"
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror connects to redis and verifies it with a ping.
func NewRedisMirror(cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrMirrorUnavailable, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "voicebridge"
	}

	return &RedisMirror{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Add records an admitted session.
func (m *RedisMirror) Add(ctx context.Context, snap Snapshot) error {
	key := Key{DeviceID: snap.DeviceID, SessionID: snap.SessionID}
	hashKey := m.sessionKey(key)

	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, hashKey, map[string]interface{}{
		"device_id":  snap.DeviceID,
		"session_id": snap.SessionID,
		"created_at": snap.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.SAdd(ctx, m.activeKey(), key.String())
	if m.ttl > 0 {
		pipe.Expire(ctx, hashKey, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirroring session %s: %w", key, err)
	}
	return nil
}

// Remove deletes a released session.
func (m *RedisMirror) Remove(ctx context.Context, key Key) error {
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.sessionKey(key))
	pipe.SRem(ctx, m.activeKey(), key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing mirrored session %s: %w", key, err)
	}
	return nil
}

// Members returns the mirrored "{device}/{session}" entries.
func (m *RedisMirror) Members(ctx context.Context) ([]string, error) {
	members, err := m.client.SMembers(ctx, m.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing mirrored sessions: %w", err)
	}
	return members, nil
}

// Reset clears the active set. Called at startup because sessions never
// survive a restart.
func (m *RedisMirror) Reset(ctx context.Context) error {
	if err := m.client.Del(ctx, m.activeKey()).Err(); err != nil {
		return fmt.Errorf("resetting mirrored sessions: %w", err)
	}
	return nil
}

// HealthCheck pings redis.
func (m *RedisMirror) HealthCheck(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func (m *RedisMirror) sessionKey(key Key) string {
	return fmt.Sprintf("%s:session:%s:%s", m.prefix, key.DeviceID, key.SessionID)
}

func (m *RedisMirror) activeKey() string {
	return m.prefix + ":active_sessions"
}
