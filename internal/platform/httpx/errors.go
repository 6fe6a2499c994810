package httpx

import (
	"errors"
	"net/http"

	"github.com/school-portal/portal/internal/shared"
)

// ErrBadRequest marks a body that could not be decoded.
var ErrBadRequest = errors.New("malformed request body")

// Stable machine readable error codes.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeConflict            = "CONFLICT"
	CodeForbidden           = "FORBIDDEN"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeAllocationExhausted = "ALLOCATION_EXHAUSTED"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// DataError is implemented by errors that carry a response payload.
type DataError interface {
	error
	ErrorData() any
}

// RespondError maps domain errors to the JSON envelope.
func RespondError(w http.ResponseWriter, err error) {
	var data any
	var de DataError
	if errors.As(err, &de) {
		data = de.ErrorData()
	}
	switch {
	case errors.Is(err, ErrBadRequest):
		Fail(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, shared.ErrValidation):
		var ve *shared.ValidationError
		if errors.As(err, &ve) && !ve.Empty() {
			data = map[string]any{"fields": ve.Fields}
		}
		Fail(w, http.StatusBadRequest, CodeValidation, err.Error(), data)
	case errors.Is(err, shared.ErrNotFound):
		Fail(w, http.StatusNotFound, CodeNotFound, err.Error(), data)
	case errors.Is(err, shared.ErrConflict):
		Fail(w, http.StatusConflict, CodeConflict, err.Error(), data)
	case errors.Is(err, shared.ErrForbidden):
		Fail(w, http.StatusForbidden, CodeForbidden, err.Error(), nil)
	case errors.Is(err, shared.ErrUnauthorized):
		Fail(w, http.StatusUnauthorized, CodeUnauthorized, err.Error(), nil)
	case errors.Is(err, shared.ErrAllocationExhausted):
		Fail(w, http.StatusUnprocessableEntity, CodeAllocationExhausted, err.Error(), data)
	case errors.Is(err, shared.ErrStoreUnavailable):
		Fail(w, http.StatusServiceUnavailable, CodeStoreUnavailable, shared.UserSafeMessage(err), nil)
	default:
		Fail(w, http.StatusInternalServerError, CodeInternal, shared.UserSafeMessage(err), nil)
	}
}
