package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error kinds reported by IsRetryableError.
const (
	ErrorKindSerialization = "serialization_failure"
	ErrorKindDeadlock      = "deadlock"
	ErrorKindUnique        = "duplicate_key"
	ErrorKindNoRows        = "not_found"
	ErrorKindJSON          = "json_decode_error"
	ErrorKindConnection    = "db_connection_error"
	ErrorKindNetwork       = "network_error"
	ErrorKindTimeout       = "timeout"
	ErrorKindCanceled      = "context_canceled"
	ErrorKindUnknown       = "unknown_error"
)

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, ErrorKindJSON
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrorKindNoRows
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001":
			// 并发事务冲突 - 整个事务重跑即可
			return true, ErrorKindSerialization
		case "40P01":
			return true, ErrorKindDeadlock
		case "23505":
			// 唯一约束冲突 - 不可重试（幂等性）
			return false, ErrorKindUnique
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return true, ErrorKindConnection
		}
		return false, ErrorKindUnknown
	}

	// Context - 调用方已放弃，不重试
	if errors.Is(err, context.Canceled) {
		return false, ErrorKindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, ErrorKindTimeout
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, ErrorKindTimeout
		}
		return true, ErrorKindNetwork
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, ErrorKindUnknown
}

// ShouldRetry checks if an error should be retried based on retry count
func ShouldRetry(retryCount int64, maxRetries int64, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount <= maxRetries
}
