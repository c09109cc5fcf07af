package provider

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// classifyHTTPStatus maps a REST API response to the error taxonomy. Bodies
// of failed responses are read in full so the underlying connection can be
// reused.
func classifyHTTPStatus(providerName, operation string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	httpErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return NewProviderError(providerName, operation, "resource not found",
			fmt.Errorf("%w: %v", ErrInstanceNotFound, httpErr), false)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewProviderError(providerName, operation, "authentication rejected",
			fmt.Errorf("%w: %v", ErrInvalidCredentials, httpErr), false)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewProviderError(providerName, operation, "rate limited",
			fmt.Errorf("%w: %v", ErrAPIRateLimit, httpErr), true)
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return NewProviderError(providerName, operation, "request rejected",
			fmt.Errorf("%w: %v", ErrQuotaExceeded, httpErr), false)
	case resp.StatusCode >= 500:
		return NewProviderError(providerName, operation, "provider-side failure",
			fmt.Errorf("%w: %v", ErrTemporaryFailure, httpErr), true)
	default:
		return NewProviderError(providerName, operation, "request failed", httpErr, false)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}
