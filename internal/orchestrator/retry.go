package orchestrator

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/metrics"
)

const maxBackoff = time.Minute

// transient reports whether err is worth another inference call within the
// same attempt.
func transient(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindServiceUnavailable, apperr.KindTimeout:
		return true
	}
	return false
}

// withRetry runs fn up to retries+1 times, backing off exponentially with
// jitter between transient failures.
func withRetry[T any](ctx context.Context, logger *zap.Logger, retries int, base time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !transient(err) || attempt >= retries {
			break
		}

		backoff := backoffFor(base, attempt)
		logger.Warn("retrying after backoff",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", retries),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			metrics.InferenceRetries.Inc()
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// backoffFor is base * 2^attempt plus up to 10% jitter, capped at maxBackoff.
func backoffFor(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << attempt
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d)/10 + 1))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
