package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Policy defines retry semantics for provider calls: exponential backoff from
// BaseDelay capped at MaxDelay, with jitter, for at most MaxAttempts tries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is tuned for Google API quotas.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Do invokes fn until it succeeds, returns a non-retryable error, exhausts
// the attempt budget, or the context is cancelled.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}

// Backoff computes the delay before the given attempt (1-based), doubling
// from BaseDelay up to MaxDelay, with up to 25% random jitter added.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// IsRetryable reports whether an error is a transient provider failure:
// rate limits, server errors, and network timeouts. Auth failures and
// context cancellation are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsAuthError(err) {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Unclassified errors from the transport are treated as transient.
	return true
}

// IsAuthError reports whether an error indicates an invalid or revoked
// credential. These propagate to the token vault contract and must never be
// retried.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden
	}

	var oauthErr *oauth2.RetrieveError
	if errors.As(err, &oauthErr) {
		return oauthErr.ErrorCode == "invalid_grant" ||
			oauthErr.Response != nil && oauthErr.Response.StatusCode == http.StatusUnauthorized
	}

	return false
}
