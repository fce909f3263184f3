package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the domain layer. Packages wrap these so handlers can
// map failures without knowing every package's own sentinels.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807. Extra
// sentinels can be mapped by the caller through Classify before falling
// back here.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// Classify rewraps err with the httpx sentinel registered for the first
// matching domain error, so RespondError picks the right status code.
func Classify(err error, mapping map[error]error) error {
	for domainErr, httpErr := range mapping {
		if errors.Is(err, domainErr) {
			return errors.Join(httpErr, err)
		}
	}
	return err
}
