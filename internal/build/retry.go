package build

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/openvoicepacks/ovp/internal/audio"
	"github.com/openvoicepacks/ovp/internal/provider"
)

// retryConfig bounds how hard the orchestrator leans on a flaky backend
// before recording a final failure for a phrase.
type retryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	Sleep       func(time.Duration) // injectable for tests
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
		Sleep:       time.Sleep,
	}
}

// withRetry invokes fn up to cfg.MaxAttempts times, backing off
// exponentially between attempts. Only errors the provider taxonomy marks
// retryable (throttling, availability) are retried; content and audio
// errors fail immediately.
func withRetry(ctx context.Context, cfg retryConfig, fn func(context.Context) (audio.Clip, error)) (audio.Clip, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return audio.Clip{}, err
		}
		clip, err := fn(ctx)
		if err == nil {
			return clip, nil
		}
		lastErr = err
		if !provider.Retryable(err) || attempt == cfg.MaxAttempts-1 {
			break
		}
		cfg.Sleep(backoffDelay(cfg, attempt))
	}
	return audio.Clip{}, lastErr
}

// backoffDelay computes the exponential delay for the given attempt with
// proportional jitter.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		spread := float64(d) * cfg.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread) //nolint:gosec
		if d < 0 {
			d = 0
		}
	}
	return d
}
