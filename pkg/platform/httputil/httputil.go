// Package httputil maps domain errors onto HTTP responses so handlers never
// hand-pick status codes.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "capstate/pkg/domain-errors"
	"capstate/pkg/platform/sentinel"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode parses the request body into T. On failure it writes the error
// response itself and returns ok=false.
func Decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "malformed request body", err))
		return v, false
	}
	return v, true
}

// DecodeOptional parses the request body into T, treating an empty body as
// the zero value.
func DecodeOptional[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	err := json.NewDecoder(r.Body).Decode(&v)
	if err == nil || errors.Is(err, io.EOF) {
		return v, true
	}
	WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "malformed request body", err))
	return v, false
}

// WriteError writes err as a JSON error response. Internal errors never leak
// their message to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := codeFor(err)
	status := statusFor(code)

	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.Description = err.Error()
	}
	WriteJSON(w, status, body)
}

// codeFor normalizes sentinel errors and coded errors onto one code space.
func codeFor(err error) dErrors.Code {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.CodeNotFound
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.CodeConflict
	case errors.Is(err, sentinel.ErrLocked):
		return dErrors.CodeLocked
	case errors.Is(err, sentinel.ErrImmutable):
		return dErrors.CodeImmutable
	case errors.Is(err, sentinel.ErrOutOfOrder):
		return dErrors.CodeOutOfOrder
	case errors.Is(err, sentinel.ErrSchemaVersion):
		return dErrors.CodeSchemaVersion
	case errors.Is(err, sentinel.ErrUnknownAction):
		return dErrors.CodeUnknownAction
	}
	return dErrors.CodeOf(err)
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeUnknownAction:
		return http.StatusBadRequest
	case dErrors.CodeNotFound, dErrors.CodeUnknownProduct:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeImmutable, dErrors.CodeOutOfOrder:
		return http.StatusConflict
	case dErrors.CodeLocked:
		return http.StatusLocked
	case dErrors.CodeSchemaVersion, dErrors.CodeInvariantViolation, dErrors.CodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
