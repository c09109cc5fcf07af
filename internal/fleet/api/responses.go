package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vpnfleet/vpnfleet/internal/fleet/provider"
	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
	"github.com/vpnfleet/vpnfleet/internal/fleet/wgconf"
	"github.com/vpnfleet/vpnfleet/pkg/api"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response.
func WriteSuccess[T any](w http.ResponseWriter, statusCode int, data T) error {
	return WriteJSON(w, statusCode, api.Response[T]{
		Success: true,
		Data:    data,
	})
}

// WriteError writes a failed JSON response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) error {
	return WriteJSON(w, statusCode, api.Response[any]{
		Success: false,
		Error: &api.ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

// WriteDomainError translates a domain error into the matching HTTP response.
func WriteDomainError(w http.ResponseWriter, err error) error {
	statusCode, code := mapDomainError(err)
	if statusCode == http.StatusServiceUnavailable || errors.Is(err, server.ErrServerNotReady) {
		w.Header().Set("Retry-After", "30")
	}
	return WriteError(w, statusCode, code, err.Error())
}

// mapDomainError maps a domain error to an HTTP status and a stable error code.
func mapDomainError(err error) (int, string) {
	var validationErr *server.ValidationError
	switch {
	case errors.Is(err, server.ErrServerNotFound):
		return http.StatusNotFound, "server_not_found"
	case errors.Is(err, server.ErrPeerNotFound):
		return http.StatusNotFound, "peer_not_found"
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusBadRequest, "unknown_provider"
	case errors.Is(err, server.ErrPeerNameConflict):
		return http.StatusConflict, "peer_name_conflict"
	case errors.Is(err, server.ErrAddressConflict):
		return http.StatusConflict, "address_conflict"
	case errors.Is(err, wgconf.ErrAddressSpaceExhausted):
		return http.StatusConflict, "address_space_exhausted"
	case errors.Is(err, server.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, server.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, server.ErrServerNotReady):
		return http.StatusConflict, "server_not_ready"
	case errors.Is(err, provider.ErrQuotaExceeded), errors.Is(err, provider.ErrAPIRateLimit):
		return http.StatusServiceUnavailable, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
