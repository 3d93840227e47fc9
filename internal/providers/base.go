package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/internal/backoff"
)

// BaseProvider holds shared retry configuration for LLM providers.
type BaseProvider struct {
	name       string
	maxRetries int
	policy     backoff.BackoffPolicy
}

// NewBaseProvider creates a base provider with sane defaults. retryDelay
// seeds the initial backoff; the remaining policy shape (cap, exponential
// factor, jitter) follows backoff.DefaultPolicy().
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	policy := backoff.DefaultPolicy()
	policy.InitialMs = float64(retryDelay.Milliseconds())
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		policy:     policy,
	}
}

// Retry executes op, sleeping with exponential backoff between attempts
// for as long as isRetryable reports the failure as transient.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		if sleepErr := backoff.SleepWithBackoff(ctx, b.policy, attempt); sleepErr != nil {
			return sleepErr
		}
	}
	return lastErr
}
