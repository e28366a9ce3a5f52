package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewgate/internal/fault"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxAttempts int           `json:"max_attempts"` // Total attempts including the first (default: 3)
	BaseDelay   time.Duration `json:"base_delay"`   // Base delay between retries (default: 1s)
	MaxDelay    time.Duration `json:"max_delay"`    // Maximum delay between retries (default: 30s)
	Multiplier  float64       `json:"multiplier"`   // Exponential backoff multiplier (default: 2.0)
	Jitter      bool          `json:"jitter"`       // Add random jitter to prevent thundering herd (default: true)

	// Sleep overrides the backoff wait, letting tests fast-forward time.
	// When nil, the real clock is used.
	Sleep func(ctx context.Context, d time.Duration) error `json:"-"`
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
	RetryReasons  []string      `json:"retry_reasons"`
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// ReviewConfig returns a retry configuration tuned for model review calls,
// which are slower and rate-limited more aggressively than plain API calls.
func ReviewConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.5,
		Jitter:      true,
	}
}

// Do executes operation with exponential backoff. Only errors classified
// retryable by fault.IsRetryable are retried; permanent errors and context
// cancellation end the loop immediately.
func Do(ctx context.Context, cfg Config, log zerolog.Logger, operation func() error) Result {
	start := time.Now()
	result := Result{RetryReasons: make([]string, 0)}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result
		}

		err := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			if attempt > 1 {
				log.Debug().Int("attempt", attempt).Dur("elapsed", result.TotalDuration).
					Msg("operation succeeded after retry")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, err.Error())

		if !fault.IsRetryable(err) {
			log.Debug().Err(err).Str("kind", fault.Kind(err)).
				Msg("non-retryable error, giving up")
			result.TotalDuration = time.Since(start)
			return result
		}

		if attempt >= maxAttempts {
			result.TotalDuration = time.Since(start)
			log.Debug().Err(err).Int("attempts", attempt).
				Msg("retries exhausted")
			return result
		}

		delay := Delay(cfg, attempt-1)
		log.Debug().Err(err).Int("attempt", attempt).Int("max_attempts", maxAttempts).
			Dur("backoff", delay).Msg("operation failed, backing off")

		if err := sleep(ctx, cfg, delay); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

func sleep(ctx context.Context, cfg Config, d time.Duration) error {
	if cfg.Sleep != nil {
		return cfg.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Delay calculates the backoff delay for the given zero-based retry number
func Delay(cfg Config, retry int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(retry))

	if maxDelay := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if cfg.Jitter {
		// up to 10% random jitter in either direction
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}

	return time.Duration(delay)
}
