package dispatcher

import "fmt"

// HTTPError represents a non-2xx answer from the range processor
type HTTPError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// ValidationError represents a job that can never succeed, e.g. a malformed
// message or a range outside the document.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}
