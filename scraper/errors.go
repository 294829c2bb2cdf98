package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrSourceUnavailable matches any FetchError: the page could not be
	// fetched or did not answer 200 OK.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrEndOfCatalog is returned for a page without any product containers.
	ErrEndOfCatalog = errors.New("end of catalog")
)

// Fetch failure kinds, used as metric and log labels.
const (
	KindTimeout     = "timeout"
	KindConnection  = "connection"
	KindForbidden   = "forbidden"
	KindNotFound    = "not_found"
	KindRateLimited = "rate_limited"
	KindStatus      = "http_status"
	KindOther       = "other"
)

// FetchError describes a catalogue page that could not be fetched.
type FetchError struct {
	URL    string
	Status int
	Kind   string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes every FetchError match ErrSourceUnavailable.
func (e *FetchError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

func classifyError(url string, err error, statusCode int) *FetchError {
	if err == nil && statusCode == http.StatusOK {
		return nil
	}
	fe := &FetchError{URL: url, Status: statusCode, Err: err}
	if fe.Err == nil {
		fe.Err = fmt.Errorf("unexpected status %d", statusCode)
	}

	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fe.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		fe.Kind = KindTimeout
	case errors.As(err, &opErr):
		fe.Kind = KindConnection
	case statusCode == http.StatusForbidden:
		fe.Kind = KindForbidden
	case statusCode == http.StatusNotFound:
		fe.Kind = KindNotFound
	case statusCode == http.StatusTooManyRequests:
		fe.Kind = KindRateLimited
	case statusCode != 0:
		fe.Kind = KindStatus
	default:
		fe.Kind = KindOther
	}
	return fe
}
