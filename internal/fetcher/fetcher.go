package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Page is the raw markup returned by a successful fetch.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       string
	Latency    time.Duration
}

// Fetcher retrieves product pages.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindHTTPStatus ErrorKind = "http_status"
)

// FetchError is the typed failure returned by Fetch.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s (%d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindConnection:
		return true
	case KindHTTPStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// KindOf extracts the failure kind from err, or "" when err is not a FetchError.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func classifyError(err error) *FetchError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &FetchError{Kind: KindTimeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &FetchError{Kind: KindTimeout, Err: err}
	default:
		return &FetchError{Kind: KindConnection, Err: err}
	}
}
