package testutil

import (
	"net/http"

	"intake/pkg/requestcontext"
)

// WithRequestID attaches a correlation id, as the RequestID middleware would.
func WithRequestID(req *http.Request, id string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), id))
}

// WithActor attaches the acting identity, as ClientMetadata would for X-Actor.
func WithActor(req *http.Request, actor string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}
