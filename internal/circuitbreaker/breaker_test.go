package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig(name string) *Config {
	cfg := DefaultConfig(name)
	cfg.OnStateChange = nil
	return cfg
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := New(quietConfig("test"))

	for i := 0; i < 10; i++ {
		_, err := cb.Execute(context.Background(), func(context.Context) (any, error) {
			return "ok", nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cfg := ModelConfig()
	cfg.OnStateChange = nil
	cb := New(cfg)

	boom := errors.New("backend down")
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), func(context.Context) (any, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, cb.State())

	// While open, calls fail fast without invoking the function.
	called := false
	_, err := cb.Execute(context.Background(), func(context.Context) (any, error) {
		called = true
		return nil, nil
	})
	assert.False(t, called)

	retryAfter, open := IsOpen(err)
	require.True(t, open)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, 30*time.Second)
	assert.Contains(t, err.Error(), "Retry after")
}

func TestOpenErrorRetryAfterWholeSeconds(t *testing.T) {
	oe := &OpenError{Name: "model", RetryAfter: 30 * time.Second}
	assert.Contains(t, oe.Error(), "Retry after 30s")
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cfg := quietConfig("recover")
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRequests = 1
	cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 1 }
	cb := New(cfg)

	_, _ = cb.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("fail")
	})
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// A successful probe closes the breaker again.
	_, err := cb.Execute(context.Background(), func(context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := quietConfig("reopen")
	cfg.Timeout = 20 * time.Millisecond
	cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 1 }
	cb := New(cfg)

	_, _ = cb.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("fail")
	})
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_, _ = cb.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("still failing")
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestIsOpenOtherErrors(t *testing.T) {
	_, open := IsOpen(errors.New("plain"))
	assert.False(t, open)

	_, open = IsOpen(nil)
	assert.False(t, open)
}

func TestAllow(t *testing.T) {
	cfg := quietConfig("allow")
	cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 1 }
	cb := New(cfg)

	assert.NoError(t, cb.Allow())

	_, _ = cb.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, errors.New("fail")
	})
	_, open := IsOpen(cb.Allow())
	assert.True(t, open)
}
