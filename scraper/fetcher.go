// Package scraper defines the provider contract. Each provider lives in its
// own subpackage.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"flat-notifier/models"
)

// UserAgent is sent on every provider request.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0 Safari/537.36"

// Fetcher retrieves the current candidate listings from one provider.
type Fetcher interface {
	Source() models.Source
	FetchCandidates(ctx context.Context) ([]*models.RawListing, error)
}

// FetchError reports a provider that could not be read. The run treats the
// provider as having returned nothing.
type FetchError struct {
	Source models.Source
	Op     string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is an unexpected HTTP status from a provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// NewHTTPClient returns a client with the given overall request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
