package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds for the pipeline. Fatal kinds (config, auth,
// not-found) abort a run before orchestration; transient and permanent
// kinds stay scoped to a single chunk; publish errors stay scoped to a
// single comment.
var (
	ErrConfig    = errors.New("config error")
	ErrAuth      = errors.New("auth error")
	ErrNotFound  = errors.New("not found")
	ErrTransient = errors.New("transient error")
	ErrPermanent = errors.New("permanent error")
	ErrPublish   = errors.New("publish error")
)

// Config wraps an error as a fatal configuration error
func Config(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Auth wraps an error as a fatal authentication/authorization error
func Auth(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAuth, fmt.Sprintf(format, args...))
}

// NotFound wraps an error as a fatal invalid-reference error
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Transient marks err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Permanent marks err as non-retryable. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// Publish marks err as a per-comment publish failure
func Publish(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrPublish, err)
}

// IsFatal reports whether err should abort the run before orchestration
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrAuth) || errors.Is(err, ErrNotFound)
}

// retryableFragments are transport-level error strings that indicate a
// transient condition even when the error carries no explicit kind.
var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"no such host",
	"network unreachable",
	"broken pipe",
	"context deadline exceeded",
}

// IsRetryable reports whether err represents a transient failure worth
// retrying. Errors explicitly marked permanent are never retryable;
// unmarked errors fall back to transport-level string matching.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || IsFatal(err) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// Kind returns a short label for the error's taxonomy bucket, for logs
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrPermanent):
		return "permanent"
	case errors.Is(err, ErrPublish):
		return "publish"
	default:
		return "unknown"
	}
}
