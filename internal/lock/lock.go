// Package lock implements the two capabilities C10 exposes on the shared
// blob cache: named single-holder locks with TTL, and last-seen service
// health heartbeats. Token blacklisting for the auth collaborator lives
// alongside it since it shares the same store and fail-open/fail-closed
// split.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
)

const namespace = "spotgrid"

// Store wraps a go-zero redis client with the lock/health/blacklist
// capability set. It holds no other state; every call is a single round
// trip to Redis.
type Store struct {
	rds *redis.Redis
}

// New constructs a Store from a go-zero RedisConf.
func New(conf redis.RedisConf) (*Store, error) {
	rds, err := redis.NewRedis(conf)
	if err != nil {
		return nil, err
	}
	return &Store{rds: rds}, nil
}

func key(parts ...string) string {
	out := namespace
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

// AcquireLock attempts to take the named lock for ownerID with the given
// TTL. It fails closed: any store error is reported as "not acquired"
// rather than silently granting the lock.
func (s *Store) AcquireLock(ctx context.Context, name, ownerID string, ttl time.Duration) (bool, error) {
	k := key("lock", name)
	ok, err := s.rds.SetnxExCtx(ctx, k, ownerID, int(ttl.Seconds()))
	if err != nil {
		logx.WithContext(ctx).Errorf("lock: acquire %s failed: %v", name, err)
		return false, err
	}
	return ok, nil
}

// ReleaseLock releases the named lock only if ownerID still holds it,
// preventing a slow holder from releasing a lock acquired by someone
// else after its own TTL expired.
func (s *Store) ReleaseLock(ctx context.Context, name, ownerID string) error {
	k := key("lock", name)
	current, err := s.rds.GetCtx(ctx, k)
	if err != nil {
		logx.WithContext(ctx).Errorf("lock: release %s failed: %v", name, err)
		return err
	}
	if current != ownerID {
		return nil
	}
	_, err = s.rds.DelCtx(ctx, k)
	return err
}

// NewOwnerID mints a unique lock-holder identifier for a single
// acquire/release pair.
func NewOwnerID() string { return uuid.NewString() }

// Health is a background loop's last-seen heartbeat.
type Health struct {
	Name      string
	Status    string
	Timestamp time.Time
	Detail    string
}

// SetServiceHealth publishes a heartbeat for a named background loop.
func (s *Store) SetServiceHealth(ctx context.Context, h Health) error {
	payload, err := msgpack.Marshal(h)
	if err != nil {
		return err
	}
	return s.rds.SetexCtx(ctx, key("health", h.Name), string(payload), 120)
}

// GetServiceHealth fetches the last heartbeat for a named loop.
func (s *Store) GetServiceHealth(ctx context.Context, name string) (*Health, error) {
	raw, err := s.rds.GetCtx(ctx, key("health", name))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var h Health
	if err := msgpack.Unmarshal([]byte(raw), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// BlacklistToken marks a JWT id (jti) revoked for ttl.
func (s *Store) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	return s.rds.SetexCtx(ctx, key("blacklist", jti), "1", int(ttl.Seconds()))
}

// IsTokenBlacklisted reports whether jti has been revoked. It fails open:
// when the store is unreachable, availability wins over strictness and
// the token is treated as not blacklisted.
func (s *Store) IsTokenBlacklisted(ctx context.Context, jti string) bool {
	val, err := s.rds.GetCtx(ctx, key("blacklist", jti))
	if err != nil {
		logx.WithContext(ctx).Errorf("lock: blacklist check unavailable, failing open: %v", err)
		return false
	}
	return val != ""
}
