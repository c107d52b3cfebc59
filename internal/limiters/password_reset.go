package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrResetRateLimited      = errors.New("reset rate limited")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

type PasswordResetConfig struct {
	Realm                    string
	Provider                 string
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	Window                   time.Duration
	MaxRequests              int
}

// PasswordResetLimiter counts reset requests and key checks in fixed windows.
// A nil limiter allows everything.
type PasswordResetLimiter struct {
	redis  redis.UniversalClient
	config PasswordResetConfig
	scope  string
}

func NewPasswordResetLimiter(redisClient redis.UniversalClient, cfg PasswordResetConfig) *PasswordResetLimiter {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 5
	}
	return &PasswordResetLimiter{
		redis:  redisClient,
		config: cfg,
		scope:  scopeKey(cfg.Realm, cfg.Provider),
	}
}

// CheckRequest counts one reset request for identifier and ip.
func (l *PasswordResetLimiter) CheckRequest(ctx context.Context, identifier, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if l.config.EnableIdentifierThrottle && identifier != "" {
		if err := l.enforceFixedWindow(ctx, "prr:"+l.scope+":"+strings.ToLower(identifier)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, "prrip:"+l.scope+":"+ip); err != nil {
			return err
		}
	}
	return nil
}

// CheckConfirm counts one key check from ip. Keys are never counted, so a
// guessed key does not burn the budget of the real one.
func (l *PasswordResetLimiter) CheckConfirm(ctx context.Context, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	return l.enforceFixedWindow(ctx, "prcip:"+l.scope+":"+ip)
}

func (l *PasswordResetLimiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.config.Window
}

func (l *PasswordResetLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRequests) {
		return ErrResetRateLimited
	}

	return nil
}

func scopeKey(realm, provider string) string {
	if realm == "" {
		realm = "0"
	}
	if provider == "" {
		return realm
	}
	return realm + ":" + provider
}
