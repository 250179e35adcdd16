// Package retry reruns atomic units that lost a lock race.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/logger"
)

const (
	DefaultMaxAttempts = 5
	DefaultInterval    = 20 * time.Millisecond
	DefaultMaxInterval = 500 * time.Millisecond
)

type Operation func() error

type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	OnRetry         func(error, time.Duration)
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// OnConflict runs fn and retries it with exponential backoff while it
// fails with ErrConcurrencyConflict. Any other error returns immediately.
// When attempts run out the caller gets a BUSY error.
func OnConflict(ctx context.Context, cfg Config, fn Operation) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInterval
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	if cfg.MaxInterval > 0 {
		bo.MaxInterval = cfg.MaxInterval
	}
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || errors.Is(err, apperr.ErrConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, next time.Duration) {
		logger.Debug("Retrying after conflict", "error", err, "next", next)
		if cfg.OnRetry != nil {
			cfg.OnRetry(err, next)
		}
	})

	if errors.Is(err, apperr.ErrConcurrencyConflict) {
		return apperr.Wrap(apperr.CodeBusy, err, "resource busy, try again")
	}
	return err
}
