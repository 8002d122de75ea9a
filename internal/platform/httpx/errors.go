// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// StatusFor maps domain errors to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a client-safe description of err. Configuration and
// transport details never leave the server.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return err.Error()
	case errors.Is(err, shared.ErrNotFound):
		return "not found"
	case errors.Is(err, shared.ErrTransport):
		return "could not deliver the code, try again later"
	default:
		return http.StatusText(http.StatusInternalServerError)
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	Problem(w, status, http.StatusText(status), PublicMessage(err))
}
