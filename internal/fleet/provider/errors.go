package provider

import (
	"errors"
	"fmt"
)

// Common error types for categorizing provider failures
var (
	// Transient errors - safe to retry
	ErrNetworkTimeout   = errors.New("network timeout")
	ErrAPIRateLimit     = errors.New("API rate limit exceeded")
	ErrTemporaryFailure = errors.New("temporary provider failure")

	// Permanent errors - don't retry
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrQuotaExceeded      = errors.New("provider quota exceeded")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrInstanceNotFound   = errors.New("instance not found")
)

// ProviderError provides structured error information for a failed provider
// call. Operation tracks which call failed and Retryable whether a retry can
// succeed.
type ProviderError struct {
	Provider  string
	Operation string
	Message   string
	Err       error
	Retryable bool
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %s: %v", e.Provider, e.Operation, e.Message, e.Err)
}

// Unwrap allows errors.Is and errors.As to work with wrapped errors.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the call can be retried.
func (e *ProviderError) IsRetryable() bool {
	return e.Retryable
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, operation, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Operation: operation,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// IsTransientError checks if an error is transient and can be retried.
func IsTransientError(err error) bool {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.Retryable
	}
	return errors.Is(err, ErrNetworkTimeout) ||
		errors.Is(err, ErrAPIRateLimit) ||
		errors.Is(err, ErrTemporaryFailure)
}

// IsPermanentError checks if an error is permanent and should not be retried.
func IsPermanentError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrQuotaExceeded)
}
