package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnsupportedEndpoint = errors.New("unsupported endpoint")
	ErrAuthentication      = errors.New("provider authentication failed")
	ErrRateLimited         = errors.New("provider rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrProviderError       = errors.New("provider error")
)

// Error carries the failure kind plus the context of the call that produced it.
// errors.Is matches both the kind sentinel and the wrapped cause.
type Error struct {
	Kind       error
	Provider   string
	Endpoint   string
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s %s", e.Kind, e.Provider, e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Short machine readable code for a provider error kind
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedEndpoint):
		return "unsupported_endpoint"
	case errors.Is(err, ErrAuthentication):
		return "authentication_error"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderTimeout):
		return "provider_timeout"
	case errors.Is(err, ErrProviderError):
		return "provider_error"
	default:
		return ""
	}
}
