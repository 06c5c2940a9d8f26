package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind categorizes a completion-endpoint failure.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindRateLimit  ErrorKind = "rate_limit"
	KindConnection ErrorKind = "connection"
	KindStatus     ErrorKind = "status"
	KindUnknown    ErrorKind = "unknown"
)

// ProviderError is the single typed signal for completion-endpoint faults.
// Recoverable tells the caller whether retrying later may succeed.
type ProviderError struct {
	Kind        ErrorKind
	Provider    string
	Model       string
	Status      int
	Code        string
	Message     string
	Recoverable bool
	Cause       error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// UserMessage renders the fault for a chat user.
func (e *ProviderError) UserMessage() string {
	name := e.Provider
	if name == "" {
		name = "the model provider"
	}
	switch e.Kind {
	case KindAuth:
		return fmt.Sprintf("Authentication with %s failed. The API key may be invalid or expired.", name)
	case KindRateLimit:
		return fmt.Sprintf("%s rate limit reached. Please try again in a moment.", name)
	case KindConnection:
		return fmt.Sprintf("Cannot reach %s. The service may be down.", name)
	case KindStatus:
		return fmt.Sprintf("%s returned an error (HTTP %d). The service may be experiencing issues.", name, e.Status)
	default:
		return fmt.Sprintf("%s request failed: %s", name, e.Message)
	}
}

// NewStatusError classifies an HTTP status returned by a completion endpoint.
func NewStatusError(providerName, model string, status int, code, message string, cause error) *ProviderError {
	kind, recoverable := ClassifyStatus(status)
	return &ProviderError{
		Kind:        kind,
		Provider:    providerName,
		Model:       model,
		Status:      status,
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
		Cause:       cause,
	}
}

// ClassifyStatus maps an HTTP status code to an error kind and a recoverable
// flag. Authentication failures are never recoverable; rate limits and 5xx
// are; other 4xx codes are recoverable only when transient.
func ClassifyStatus(status int) (ErrorKind, bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth, false
	case status == http.StatusTooManyRequests:
		return KindRateLimit, true
	case status >= 500:
		return KindStatus, true
	case status == http.StatusRequestTimeout, status == http.StatusConflict, status == http.StatusTooEarly:
		return KindStatus, true
	case status >= 400:
		return KindStatus, false
	default:
		return KindUnknown, false
	}
}

// WrapError converts an arbitrary client error into a ProviderError. Errors
// that already are ProviderErrors pass through unchanged.
func WrapError(providerName, model string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	out := &ProviderError{Kind: KindUnknown, Provider: providerName, Model: model, Message: err.Error(), Cause: err}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		out.Kind = KindConnection
		out.Recoverable = true
	case errors.Is(err, context.Canceled):
		out.Recoverable = true
	}
	return out
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
