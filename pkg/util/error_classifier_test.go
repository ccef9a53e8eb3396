package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError(t *testing.T) {
	syntaxErr := json.Unmarshal([]byte("{"), &struct{}{})

	tests := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"serialization", &pgconn.PgError{Code: "40001"}, true, ErrorKindSerialization},
		{"wrapped deadlock", fmt.Errorf("commit tx: %w", &pgconn.PgError{Code: "40P01"}), true, ErrorKindDeadlock},
		{"unique", &pgconn.PgError{Code: "23505"}, false, ErrorKindUnique},
		{"connection", &pgconn.PgError{Code: "08006"}, true, ErrorKindConnection},
		{"other pg", &pgconn.PgError{Code: "42P01"}, false, ErrorKindUnknown},
		{"no rows", pgx.ErrNoRows, false, ErrorKindNoRows},
		{"json", syntaxErr, false, ErrorKindJSON},
		{"canceled", context.Canceled, false, ErrorKindCanceled},
		{"deadline", context.DeadlineExceeded, false, ErrorKindTimeout},
		{"unknown", errors.New("boom"), false, ErrorKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, kind := IsRetryableError(tt.err)
			assert.Equal(t, tt.retryable, retryable)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(1, 3, true))
	assert.True(t, ShouldRetry(3, 3, true))
	assert.False(t, ShouldRetry(4, 3, true))
	assert.False(t, ShouldRetry(1, 3, false))
}
