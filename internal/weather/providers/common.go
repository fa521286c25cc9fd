package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPClientConfig bundles the shared HTTP client and pacing settings.
type HTTPClientConfig struct {
	Client *http.Client
	// Timeout bounds each individual call.
	Timeout time.Duration
	// PauseAfterCall is slept after every upstream call to stay under the
	// provider rate limit.
	PauseAfterCall time.Duration
	Breaker        BreakerConfig
}

// BreakerConfig tunes the provider circuit breaker. Zero fields take the
// defaults below.
type BreakerConfig struct {
	// Threshold is the run of consecutive failed calls that opens the breaker.
	Threshold uint32
	// Timeout is how long an open breaker rejects calls before half-opening.
	Timeout time.Duration
	// MaxRequests is how many calls a half-open breaker lets through. Set it
	// to at least the group size so a recovering upstream serves a whole group.
	MaxRequests uint32
}

const (
	defaultBreakerThreshold   = 10
	defaultBreakerTimeout     = 30 * time.Second
	defaultBreakerMaxRequests = 25
)

// maxBodyBytes caps how much of an upstream response we read.
const maxBodyBytes = 1 << 20

var (
	errRateLimited  = errors.New("rate limited")
	errServerError  = errors.New("server error")
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// newBreaker builds the per-provider circuit breaker. It trips after a run of
// consecutive failures so a dead upstream does not keep eating the group's
// rate budget.
func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultBreakerThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = defaultBreakerMaxRequests
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    1 * time.Minute,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Threshold
		},
	})
}

// doRequest executes one GET through the circuit breaker and returns the
// response body. There are no retries: a failed call fails the location for
// this run. Rate limiting and 5xx responses count as breaker failures;
// any other status is handed back with its body so the caller can inspect
// the provider's own status field.
func doRequest(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	req, err := buildRequest(ctx)
	if err != nil {
		return nil, err
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := cfg.Client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, errRateLimited
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if readErr != nil {
			return nil, readErr
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		return nil, err
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, nil
}

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
