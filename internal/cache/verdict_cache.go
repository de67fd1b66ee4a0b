// Package cache provides Redis-based caching for delivered verdicts with
// graceful degradation. When Redis is unavailable, reads miss and writes are
// dropped; scoring always proceeds without it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"signal-council/internal/combiner"
	"signal-council/internal/logging"
)

// Config holds Redis configuration.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VerdictTTL keeps a cached verdict fresh for one broadcast window.
const VerdictTTL = 60 * time.Second

const verdictKey = "verdict:%s" // symbol

// VerdictCache caches delivered verdicts keyed by symbol.
type VerdictCache struct {
	client *redis.Client
	log    *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewVerdictCache connects to Redis. A failed initial connection returns the
// cache in degraded mode, not an error; it recovers on its own.
func NewVerdictCache(cfg Config) (*VerdictCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	vc := &VerdictCache{
		client:        client,
		log:           logging.WithComponent("cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		vc.log.WithError(err).Warn("initial Redis connection failed, running degraded")
		return vc, nil
	}

	vc.healthy = true
	vc.lastCheck = time.Now()
	vc.log.Info("Redis connected", "address", cfg.Address)
	return vc, nil
}

// IsHealthy returns whether Redis is currently usable.
func (vc *VerdictCache) IsHealthy() bool {
	vc.mu.RLock()
	healthy := vc.healthy
	lastCheck := vc.lastCheck
	vc.mu.RUnlock()

	if !healthy && time.Since(lastCheck) >= vc.checkInterval {
		vc.tryRecover()
		vc.mu.RLock()
		healthy = vc.healthy
		vc.mu.RUnlock()
	}
	return healthy
}

func (vc *VerdictCache) tryRecover() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := vc.client.Ping(ctx).Err()

	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.lastCheck = time.Now()
	if err == nil {
		vc.healthy = true
		vc.failureCount = 0
		vc.log.Info("Redis connection recovered")
	}
}

func (vc *VerdictCache) recordFailure(err error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.failureCount++
	if vc.failureCount >= vc.maxFailures && vc.healthy {
		vc.healthy = false
		vc.lastCheck = time.Now()
		vc.log.WithError(err).Warn("Redis circuit opened", "failures", vc.failureCount)
	}
}

func (vc *VerdictCache) recordSuccess() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.failureCount = 0
}

// GetVerdict returns the cached verdict for a symbol, or miss=false when the
// cache is cold, degraded or the entry expired.
func (vc *VerdictCache) GetVerdict(ctx context.Context, symbol string) (*combiner.StrategicVerdict, bool) {
	if !vc.IsHealthy() {
		return nil, false
	}

	data, err := vc.client.Get(ctx, fmt.Sprintf(verdictKey, symbol)).Bytes()
	if err == redis.Nil {
		vc.recordSuccess()
		return nil, false
	}
	if err != nil {
		vc.recordFailure(err)
		return nil, false
	}
	vc.recordSuccess()

	var verdict combiner.StrategicVerdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		vc.log.WithError(err).Warn("corrupt cached verdict, dropping", "symbol", symbol)
		vc.client.Del(ctx, fmt.Sprintf(verdictKey, symbol))
		return nil, false
	}
	return &verdict, true
}

// SetVerdict stores a verdict for one TTL window. Failures degrade silently.
func (vc *VerdictCache) SetVerdict(ctx context.Context, symbol string, verdict *combiner.StrategicVerdict) {
	if !vc.IsHealthy() {
		return
	}
	data, err := json.Marshal(verdict)
	if err != nil {
		vc.log.WithError(err).Error("failed to marshal verdict", "symbol", symbol)
		return
	}
	if err := vc.client.Set(ctx, fmt.Sprintf(verdictKey, symbol), data, VerdictTTL).Err(); err != nil {
		vc.recordFailure(err)
		return
	}
	vc.recordSuccess()
}

// InvalidateVerdict drops a symbol's cached verdict, e.g. after an amendment
// changes the weights it was scored with.
func (vc *VerdictCache) InvalidateVerdict(ctx context.Context, symbol string) {
	if !vc.IsHealthy() {
		return
	}
	if err := vc.client.Del(ctx, fmt.Sprintf(verdictKey, symbol)).Err(); err != nil {
		vc.recordFailure(err)
	}
}

// Close releases the Redis connection.
func (vc *VerdictCache) Close() error {
	return vc.client.Close()
}
