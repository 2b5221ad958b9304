package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindNetwork          Kind = "network"
	KindHTTPStatus       Kind = "http_status"
	KindMalformedPayload Kind = "malformed_payload"
	KindUpstreamError    Kind = "upstream_error"
)

// Error is returned for every failed fetch.
type Error struct {
	Kind   Kind
	Report string
	// StatusCode is set for KindHTTPStatus.
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: http status %d", e.Report, e.StatusCode)
	case KindUpstreamError:
		return fmt.Sprintf("fetch %s: upstream error: %s", e.Report, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %s: %v", e.Report, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %s", e.Report, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind carried by err, or "" when err is not a
// fetch error.
func KindOf(err error) Kind {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return ""
}
