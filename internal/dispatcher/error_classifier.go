package dispatcher

import (
	"context"
	"errors"
	"strings"
)

// isTransientError checks if error is transient and worth another attempt
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// 5xx, 408 and 429 are transient
		if httpErr.StatusCode >= 500 && httpErr.StatusCode < 600 {
			return true
		}
		return httpErr.StatusCode == 429 || httpErr.StatusCode == 408
	}

	// Network errors (connection issues, timeouts)
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof") {
		return true
	}

	return false
}

// isFatalError checks if error is fatal and should not be retried
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}

	// HTTP 4xx errors (except 408 and 429); the body text is not inspected
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
			httpErr.StatusCode != 429 && httpErr.StatusCode != 408
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "invalid request") ||
		strings.Contains(errStr, "validation failed") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "malformed") {
		return true
	}

	return false
}

// classify maps an error to the metrics label used for processor calls.
func classify(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case isFatalError(err):
		return "fatal"
	case isTransientError(err):
		return "transient"
	default:
		return "unknown"
	}
}
