package clients

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means a base URL or credential is missing.
	ErrNotConfigured = errors.New("client not configured")
	// ErrRateLimited is returned once rate-limit retries are exhausted.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-success answer from a remote API.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: status=%d, body=%s", e.Op, e.Status, e.Body)
}

// Transient reports whether repeating the request may succeed.
func (e *APIError) Transient() bool {
	return e.Status == 429 || e.Status >= 500
}
