// Package upstream talks to the third-party APIs the calendar depends on:
// the results provider's registration lookup and the event source used to
// import races by URL.
package upstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cyclecal/internal/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable is returned while a breaker is open or the upstream answers
// with a server error.
var ErrUnavailable = errors.New("upstream unavailable")

// BreakerSettings configures the circuit breaker of one upstream.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func newBreaker(name string, s BreakerSettings, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > s.ConsecutiveFailures
		},
		// Client errors (bad input, not found) must not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// execute runs fn through cb and records the outcome under target.
func execute[T any](cb *gobreaker.CircuitBreaker, target string, fn func() (T, error)) (T, error) {
	var zero T
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.UpstreamRequests.WithLabelValues(target, "rejected").Inc()
		return zero, fmt.Errorf("%s: %w: %v", target, ErrUnavailable, err)
	case err != nil:
		metrics.UpstreamRequests.WithLabelValues(target, "error").Inc()
		return zero, err
	}
	metrics.UpstreamRequests.WithLabelValues(target, "ok").Inc()
	return res.(T), nil
}

// checkStatus turns a non-2xx response into an error. 5xx responses count
// as unavailability.
func checkStatus(target string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned %d: %w", target, resp.StatusCode, ErrUnavailable)
	}
	return fmt.Errorf("%s returned %d: %s", target, resp.StatusCode, string(body))
}
