// file: internal/download/errors.go
// version: 2.0.0
// guid: c82e3b94-2ab9-469d-a2ed-16a28525b03d

package download

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a download failure for the retry policy.
type Kind int

const (
	// Transient failures are retried with backoff.
	Transient Kind = iota
	// RateLimited failures are retried after the server-driven backoff.
	RateLimited
	// Permanent failures are never retried.
	Permanent
	// Cancelled covers user removal and shutdown; not counted as a failure.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Permanent:
		return "permanent"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether the retry policy applies.
func (k Kind) Retryable() bool {
	return k == Transient || k == RateLimited
}

// Error is the typed failure returned by downloaders.
type Error struct {
	Kind       Kind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " download error"
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// StatusError builds the error for an unexpected HTTP response.
func StatusError(resp *http.Response) *Error {
	e := &Error{
		Kind:       KindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("unexpected status %s", resp.Status),
	}
	if e.Kind == RateLimited || resp.StatusCode == http.StatusServiceUnavailable {
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return RateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return Transient
	case code == http.StatusBadRequest, code == http.StatusUnauthorized, code == http.StatusForbidden,
		code == http.StatusNotFound, code == http.StatusGone, code == http.StatusUnprocessableEntity:
		return Permanent
	default:
		return Transient
	}
}

// ParseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
// Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Classify maps any error to a kind.
func Classify(err error) Kind {
	if err == nil {
		return Transient
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient
	}
	return Transient
}

// RetryAfterOf extracts a server retry hint from err, if any.
func RetryAfterOf(err error) time.Duration {
	var de *Error
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}
