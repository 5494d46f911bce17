// Package client composes the resource-control plane around a cryptographic
// provider: admission control first, then either the batch executor (cached,
// concurrency-gated fan-out) or the worker pool (individual background
// tasks).
package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cryptolane/cryptolane/pkg/batch"
	"github.com/cryptolane/cryptolane/pkg/cache"
	"github.com/cryptolane/cryptolane/pkg/crypto"
	"github.com/cryptolane/cryptolane/pkg/ratelimit"
	"github.com/cryptolane/cryptolane/pkg/scheduler"
)

// Config holds client construction parameters. The zero value is usable: it
// selects the default provider, CPU-count workers, a 1000-entry cache and no
// rate limiting.
type Config struct {
	// Provider performs the cryptography. Nil selects the default
	// AES provider with PBKDF2 key derivation.
	Provider crypto.Provider

	// Workers and TaskTimeout configure the background pool.
	Workers     int
	TaskTimeout time.Duration

	// CacheCapacity and CacheTTL configure the result cache. A negative
	// capacity disables caching.
	CacheCapacity int
	CacheTTL      time.Duration

	// CacheSweepInterval is how often expired entries are reclaimed in the
	// background; without it entries not read again linger until capacity
	// pressure. Non-positive defaults to CacheTTL. Ignored when no TTL is
	// set.
	CacheSweepInterval time.Duration

	// MaxConcurrency gates batch execution. Non-positive defaults to the
	// worker count.
	MaxConcurrency int

	// RateLimit enables per-identifier admission control when non-nil.
	RateLimit *ratelimit.Config

	// Logger is shared by all components. Nil disables logging.
	Logger *zap.Logger
}

const defaultCacheCapacity = 1000

// Client is the convenience entry point tying the control plane together.
// Construct with New, release with Close.
type Client struct {
	provider crypto.Provider
	pool     *scheduler.Pool
	cache    *cache.Cache
	executor *batch.Executor
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

// New creates a client and starts its worker pool.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := cfg.Provider
	if provider == nil {
		p, err := crypto.NewDefaultProvider(crypto.ProviderConfig{})
		if err != nil {
			return nil, err
		}
		provider = p
	}

	var resultCache *cache.Cache
	if cfg.CacheCapacity >= 0 {
		capacity := cfg.CacheCapacity
		if capacity == 0 {
			capacity = defaultCacheCapacity
		}
		sweep := cfg.CacheSweepInterval
		if sweep <= 0 {
			sweep = cfg.CacheTTL
		}
		resultCache = cache.New(cache.Config{
			Capacity:      capacity,
			TTL:           cfg.CacheTTL,
			SweepInterval: sweep,
			Logger:        logger,
		})
	}

	pool, err := scheduler.New(scheduler.Config{
		Workers:     cfg.Workers,
		TaskTimeout: cfg.TaskTimeout,
		Provider:    provider,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = pool.Stats().TotalWorkers
	}
	executor, err := batch.New(batch.Config{
		MaxConcurrency: maxConcurrency,
		Provider:       provider,
		Cache:          resultCache,
		Logger:         logger,
	})
	if err != nil {
		pool.Terminate()
		return nil, fmt.Errorf("failed to create batch executor: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit != nil {
		limiter, err = ratelimit.New(*cfg.RateLimit)
		if err != nil {
			pool.Terminate()
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
	}

	return &Client{
		provider: provider,
		pool:     pool,
		cache:    resultCache,
		executor: executor,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// EncryptAsync checks admission for the identifier and submits an encryption
// task to the worker pool. Denied admission returns *ratelimit.LimitedError.
func (c *Client) EncryptAsync(ctx context.Context, identifier, data, key, algorithm string, opts crypto.Options) (*scheduler.TaskHandle, error) {
	if err := c.admit(identifier); err != nil {
		return nil, err
	}
	return c.pool.Encrypt(ctx, data, key, algorithm, opts)
}

// DecryptAsync is the decryption counterpart of EncryptAsync.
func (c *Client) DecryptAsync(ctx context.Context, identifier, data, key, algorithm string, opts crypto.Options) (*scheduler.TaskHandle, error) {
	if err := c.admit(identifier); err != nil {
		return nil, err
	}
	return c.pool.Decrypt(ctx, data, key, algorithm, opts)
}

// ExecuteBatch checks admission once for the identifier, then runs the
// operations through the cached, concurrency-gated batch executor.
func (c *Client) ExecuteBatch(ctx context.Context, identifier string, ops []batch.Operation) ([]batch.Result, error) {
	if err := c.admit(identifier); err != nil {
		return nil, err
	}
	return c.executor.Execute(ctx, ops), nil
}

// Hash computes a digest through the provider. Hashing is synchronous and is
// not rate limited.
func (c *Client) Hash(data, algorithm string) crypto.HashResult {
	return c.provider.Hash(data, algorithm)
}

// HMAC computes a keyed digest through the provider.
func (c *Client) HMAC(data, key, algorithm string) crypto.HashResult {
	return c.provider.HMAC(data, key, algorithm)
}

// PoolStats returns the worker pool snapshot.
func (c *Client) PoolStats() scheduler.PoolStats {
	return c.pool.Stats()
}

// CacheStats returns the result cache snapshot. Zero when caching is
// disabled.
func (c *Client) CacheStats() cache.Stats {
	if c.cache == nil {
		return cache.Stats{}
	}
	return c.cache.Stats()
}

// LimiterStatus reports the identifier's admission standing. Zero when rate
// limiting is disabled.
func (c *Client) LimiterStatus(identifier string) ratelimit.Status {
	if c.limiter == nil {
		return ratelimit.Status{}
	}
	return c.limiter.Status(identifier)
}

// Close terminates the worker pool and stops the cache sweeper.
func (c *Client) Close() {
	c.pool.Terminate()
	if c.cache != nil {
		c.cache.Close()
	}
}

func (c *Client) admit(identifier string) error {
	if c.limiter == nil {
		return nil
	}
	if c.limiter.TryAcquire(identifier) {
		return nil
	}
	status := c.limiter.Status(identifier)
	return &ratelimit.LimitedError{
		Identifier: identifier,
		RetryAfter: status.RetryAfter,
	}
}
