package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brokerdesk/callbonus/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyDeclarationAgent = "declaration:create:agent:%s"
	keyReversalRunLock  = "reversal:run:lock"
)

// DeclarationLimiter throttles per-agent declaration submissions and
// guards the reversal batch with a run lock. A nil limiter allows
// everything.
type DeclarationLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	agentRate  float64
	agentBurst int
	lockTTL    time.Duration
}

func NewDeclarationLimiter(cfg config.Config) (*DeclarationLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.DeclarationRate <= 0 || limitCfg.DeclarationBurst <= 0 {
		return nil, errors.New("declaration rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &DeclarationLimiter{
		enabled:    true,
		bucket:     NewTokenBucket(client),
		locker:     NewLocker(client),
		agentRate:  limitCfg.DeclarationRate,
		agentBurst: limitCfg.DeclarationBurst,
		lockTTL:    time.Duration(limitCfg.ReversalLockTTLSeconds) * time.Second,
	}, nil
}

func (l *DeclarationLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *DeclarationLimiter) AllowAgent(ctx context.Context, agentID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyDeclarationAgent, strings.TrimSpace(agentID)), l.agentRate, l.agentBurst)
}

func (l *DeclarationLimiter) TryLockReversalRun(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keyReversalRunLock, l.lockTTL)
}

func (l *DeclarationLimiter) ReleaseReversalRun(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keyReversalRunLock, token)
}
