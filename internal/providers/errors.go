package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

// Throttled is true for failures that clear by waiting: rate limits and
// exhausted quota.
func (t ErrorType) Throttled() bool {
	return t == ErrorRate || t == ErrorQuota
}

// StatusError is a provider answering an embedding request with an HTTP error.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s embedding error %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

func statusError(provider string, resp *http.Response, body []byte) error {
	return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}

// ClassifyError prefers the HTTP status when one is known and falls back to
// the error text for SDK errors.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		body := strings.ToLower(se.Body)
		switch {
		case strings.Contains(body, "insufficient_quota"), se.StatusCode == http.StatusPaymentRequired:
			return ErrorQuota
		case se.StatusCode == http.StatusTooManyRequests:
			return ErrorRate
		case se.StatusCode >= 500:
			return ErrorTransient
		case strings.Contains(body, "context_length"), strings.Contains(body, "too long"):
			return ErrorContext
		default:
			return ErrorPermanent
		}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return ErrorTransient
	}

	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}
