package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
	})
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	fail := func() error { return boom }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Execute(fail), boom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(fail), boom)
	assert.Equal(t, StateOpen, cb.GetState())

	assert.ErrorIs(t, cb.Execute(ok), ErrCircuitBreakerOpen)

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, HalfOpenMaxRequests: 1})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errors.New("x") })
	assert.Equal(t, StateOpen, cb.GetState())

	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "closed", cb.GetState().String())
}
