package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. A zero max disables that throttle.
type Config struct {
	EnableIPThrottle bool

	MaxMagicLinkRequests   int
	MaxMagicLinkRequestsIP int
	MagicLinkWindow        time.Duration

	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// Limiter enforces per-identifier and per-IP budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// AllowMagicLinkRequest counts one magic-link request for identifier and ip
// and returns ErrRateLimited once either window budget is exceeded. The
// request is counted even when it ends up rejected.
func (l *Limiter) AllowMagicLinkRequest(ctx context.Context, identifier, ip string) error {
	if l.config.MaxMagicLinkRequests > 0 {
		count, err := l.incrementWithTTL(ctx, magicLinkKey(identifier), l.config.MagicLinkWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxMagicLinkRequests) {
			return ErrRateLimited
		}
	}

	if l.config.EnableIPThrottle && ip != "" && l.config.MaxMagicLinkRequestsIP > 0 {
		count, err := l.incrementWithTTL(ctx, magicLinkIPKey(ip), l.config.MagicLinkWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxMagicLinkRequestsIP) {
			return ErrRateLimited
		}
	}

	return nil
}

// CheckLogin checks whether the identifier+IP pair is within
// the login attempt budget. Returns an error if rate-limited.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if err := l.checkCounter(ctx, loginKey(identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed login attempt for the identifier+IP pair.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	if l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, loginKey(identifier), l.config.LoginCooldownDuration)
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginCooldownDuration)
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the per-identifier failed-login counter after a
// successful login. The IP counter is left to expire.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginAttempts returns the current failed-login counter for an identifier.
// Missing keys return zero and do not reveal principal existence.
func (l *Limiter) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, loginKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: TTL is set only on the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func magicLinkKey(identifier string) string { return "lmr:" + normalizeIdentifier(identifier) }
func magicLinkIPKey(ip string) string       { return "lmri:" + ip }
func loginKey(identifier string) string     { return "ll:" + normalizeIdentifier(identifier) }
func loginIPKey(ip string) string           { return "lli:" + ip }
