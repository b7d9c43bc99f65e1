package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "intake/pkg/domain-errors"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func TestWriteErrorEnvelope(t *testing.T) {
	ve := &dErrors.ValidationError{}
	ve.Add("name", "is required")
	ve.Add("email", "is required")

	tests := []struct {
		name   string
		err    error
		status int
		code   dErrors.Code
		desc   string
	}{
		{"plain error is internal and silent", errors.New("pq: connection refused"), 500, dErrors.CodeInternal, ""},
		{"internal hides message", dErrors.New(dErrors.CodeInternal, "db failed"), 500, dErrors.CodeInternal, ""},
		{"bad request keeps message", dErrors.New(dErrors.CodeBadRequest, "body must be a JSON object"), 400, dErrors.CodeBadRequest, "body must be a JSON object"},
		{"validation", ve, 400, dErrors.CodeValidation, "one or more fields are invalid"},
		{"wrapped not found", fmt.Errorf("resync: %w", dErrors.NotFound("record %s not found", "r-1")), 404, dErrors.CodeNotFound, "record r-1 not found"},
		{"signature", &dErrors.SignatureError{Reason: "mismatch"}, 401, dErrors.CodeUnauthorized, "missing or invalid signature"},
		{"conflict", dErrors.New(dErrors.CodeConflict, "already synced"), 409, dErrors.CodeConflict, "already synced"},
		{"unavailable", dErrors.New(dErrors.CodeUnavailable, "index is down"), 503, dErrors.CodeUnavailable, "index is down"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteError(rr, tc.err)

			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			body := decode(t, rr)
			assert.Equal(t, string(tc.code), body.Error)
			assert.Equal(t, tc.desc, body.ErrorDescription)
			assert.Empty(t, body.RequestID)
		})
	}
}

func TestWriteErrorListsEveryInvalidField(t *testing.T) {
	ve := &dErrors.ValidationError{}
	ve.Add("name", "is required")
	ve.Add("email", "is required")

	rr := httptest.NewRecorder()
	WriteError(rr, ve)

	assert.Len(t, decode(t, rr).Fields, 2)
}

func TestAdapterErrorsNamePhaseNotRemoteDetail(t *testing.T) {
	err := &dErrors.AdapterError{
		Phase:      dErrors.PhaseCommit,
		Adapter:    "github",
		Op:         "create branch",
		StatusCode: http.StatusBadGateway,
		Err:        errors.New("remote body with secrets"),
	}
	rr := httptest.NewRecorder()
	WriteErrorWithRequestID(rr, fmt.Errorf("submit: %w", err), "req-1")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, "commit phase failed", body.ErrorDescription)
	assert.NotContains(t, rr.Body.String(), "secrets")

	rr = httptest.NewRecorder()
	WriteError(rr, &dErrors.AdapterError{Adapter: "downstream", Op: "health"})
	assert.Equal(t, "downstream call failed", decode(t, rr).ErrorDescription)
}
