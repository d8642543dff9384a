package gmail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"

	"github.com/lu-zhengda/quotemail/internal/provider"
)

const breakerTripAfter = 5

func newBreaker(c *Client) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		IsSuccessful: func(err error) bool {
			var nbe *nonBreakerError
			return err == nil || errors.As(err, &nbe)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("circuit breaker state changed")
		},
	})
}

// call runs fn under the circuit breaker, retrying the errors retryable
// accepts with exponential backoff. Each attempt gets its own timeout.
func (c *Client) call(ctx context.Context, op string, retryable func(error) bool, fn func(ctx context.Context) error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		err := gax.Invoke(ctx, func(ctx context.Context, _ gax.CallSettings) error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return fn(callCtx)
		}, gax.WithRetry(func() gax.Retryer {
			return &retryer{
				backoff: gax.Backoff{
					Initial:    c.initialBackoff,
					Max:        10 * c.initialBackoff,
					Multiplier: 2,
				},
				max:       c.maxAttempts,
				retryable: retryable,
			}
		}))
		if err != nil && !isTransient(err) {
			// Client errors say nothing about the health of the API.
			return nil, &nonBreakerError{err: err}
		}
		return nil, err
	})

	var nbe *nonBreakerError
	if errors.As(err, &nbe) {
		err = nbe.err
	}
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("failed to %s: %w", op, provider.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

type retryer struct {
	backoff   gax.Backoff
	attempt   int
	max       int
	retryable func(error) bool
}

func (r *retryer) Retry(err error) (time.Duration, bool) {
	r.attempt++
	if r.attempt >= r.max || !r.retryable(err) {
		return 0, false
	}
	return r.backoff.Pause(), true
}

type nonBreakerError struct {
	err error
}

func (e *nonBreakerError) Error() string { return e.err.Error() }

// isTransient reports failures worth retrying: rate limits, server errors
// and timeouts.
func isTransient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// isRateLimited is the retry policy for sends: only a 429 proves the
// message was not accepted, anything else could produce a duplicate.
func isRateLimited(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
