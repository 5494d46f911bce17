// Package batch runs lists of independent cryptographic operations with a
// bounded number in flight, consulting the result cache to skip work already
// done.
package batch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cryptolane/cryptolane/pkg/cache"
	"github.com/cryptolane/cryptolane/pkg/crypto"
)

// Operation describes one independent encrypt or decrypt request.
type Operation struct {
	Kind      crypto.OpKind
	Algorithm string
	Data      string
	Key       string
	Options   crypto.Options

	// SkipCache bypasses the result cache for this operation, both lookup
	// and store.
	SkipCache bool
}

// Result is the outcome of one operation. Index is the operation's position
// in the input slice; the output slice always preserves input order even
// though execution completes out of order.
type Result struct {
	Index  int
	Value  interface{} // crypto.EncryptResult or crypto.DecryptResult
	Err    error
	Cached bool
}

// Config holds executor construction parameters.
type Config struct {
	// MaxConcurrency caps the number of operations in flight. Non-positive
	// defaults to 1.
	MaxConcurrency int

	// Provider performs the actual cryptography. Required.
	Provider crypto.Provider

	// Cache memoizes results across operations and batches. Nil disables
	// caching entirely.
	Cache *cache.Cache

	// Logger receives debug-level execution events. Nil disables logging.
	Logger *zap.Logger
}

// Executor fans operations out through a fixed-size concurrency gate. Safe
// for concurrent use; independent batches share the same gate configuration
// but not the same slots.
type Executor struct {
	maxConcurrency int
	provider       crypto.Provider
	cache          *cache.Cache
	logger         *zap.Logger
}

// New creates an executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		maxConcurrency: cfg.MaxConcurrency,
		provider:       cfg.Provider,
		cache:          cfg.Cache,
		logger:         logger,
	}, nil
}

// Execute runs all operations with at most MaxConcurrency in flight and
// returns one Result per operation, in input order. A failing operation fails
// its own entry only; Execute itself never fails.
func (e *Executor) Execute(ctx context.Context, ops []Operation) []Result {
	results := make([]Result, len(ops))
	if len(ops) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)

	for i := range ops {
		i := i
		g.Go(func() error {
			results[i] = e.run(ctx, i, ops[i])
			return nil
		})
	}
	// Errors are reported per entry, never through the group.
	_ = g.Wait()

	return results
}

func (e *Executor) run(ctx context.Context, index int, op Operation) Result {
	res := Result{Index: index}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	var fingerprint string
	if e.cache != nil && !op.SkipCache {
		fp, err := cache.Fingerprint(string(op.Kind), op.Algorithm, op.Data, op.Key, op.Options)
		if err != nil {
			res.Err = err
			return res
		}
		fingerprint = fp

		if value, ok := e.cache.Get(fingerprint); ok {
			e.logger.Debug("batch cache hit",
				zap.Int("index", index),
				zap.String("kind", string(op.Kind)))
			res.Value = value
			res.Cached = true
			return res
		}
	}

	switch op.Kind {
	case crypto.OpEncrypt:
		out := e.provider.Encrypt(ctx, op.Data, op.Key, op.Algorithm, op.Options)
		if !out.Success {
			res.Err = errors.New(out.Error)
			return res
		}
		res.Value = out
	case crypto.OpDecrypt:
		out := e.provider.Decrypt(ctx, op.Data, op.Key, op.Algorithm, op.Options)
		if !out.Success {
			res.Err = errors.New(out.Error)
			return res
		}
		res.Value = out
	default:
		res.Err = fmt.Errorf("unsupported operation kind %q", op.Kind)
		return res
	}

	if fingerprint != "" {
		e.cache.Set(fingerprint, res.Value)
	}
	return res
}
