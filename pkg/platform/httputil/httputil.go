// Package httputil centralizes JSON response writing and domain error translation
// so every handler produces the same envelope.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "intake/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope returned by every endpoint.
type ErrorResponse struct {
	Error            string               `json:"error"`
	ErrorDescription string               `json:"error_description,omitempty"`
	RequestID        string               `json:"request_id,omitempty"`
	Fields           []dErrors.FieldError `json:"fields,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err to a status code and JSON envelope.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorWithRequestID(w, err, "")
}

// WriteErrorWithRequestID is WriteError with the correlation id attached so
// callers can quote it to support.
func WriteErrorWithRequestID(w http.ResponseWriter, err error, requestID string) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code), RequestID: requestID}

	switch code {
	case dErrors.CodeInternal:
		// internal detail stays in the logs
	case dErrors.CodeAdapter:
		resp.ErrorDescription = adapterDescription(err)
	case dErrors.CodeValidation:
		var ve *dErrors.ValidationError
		if errors.As(err, &ve) {
			resp.Fields = ve.Fields
		}
		resp.ErrorDescription = "one or more fields are invalid"
	case dErrors.CodeUnauthorized:
		resp.ErrorDescription = "missing or invalid signature"
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.ErrorDescription = de.Message
		}
	default:
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.ErrorDescription = de.Message
		}
	}
	WriteJSON(w, StatusFor(code), resp)
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func adapterDescription(err error) string {
	var ae *dErrors.AdapterError
	if !errors.As(err, &ae) {
		return "upstream call failed"
	}
	if ae.Phase != "" {
		return string(ae.Phase) + " phase failed"
	}
	return ae.Adapter + " call failed"
}
