package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/platform/logger"
	"intake/pkg/requestcontext"
)

func TestMemoryStoreSlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	for i := range 3 {
		res, err := s.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		now = now.Add(10 * time.Second)
	}

	res, err := s.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.RetryAfter)

	other, err := s.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	now = now.Add(31 * time.Second)
	res, err = s.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "oldest hit left the window")
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("redis down")
}

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/submissions", nil)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "curl/8"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })

	t.Run("rejects over the limit", func(t *testing.T) {
		h := New(NewMemoryStore(), 2, time.Minute, logger.Discard(), nil).Middleware(ok)

		assert.Equal(t, http.StatusCreated, serve(h, "10.0.0.1").Code)
		first := serve(h, "10.0.0.1")
		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

		rejected := serve(h, "10.0.0.1")
		assert.Equal(t, http.StatusTooManyRequests, rejected.Code)
		assert.Equal(t, "60", rejected.Header().Get("Retry-After"))
		assert.Contains(t, rejected.Body.String(), "rate_limit_exceeded")

		assert.Equal(t, http.StatusCreated, serve(h, "10.0.0.2").Code)
	})

	t.Run("fails open", func(t *testing.T) {
		h := New(failingStore{}, 1, time.Minute, logger.Discard(), nil).Middleware(ok)
		assert.Equal(t, http.StatusCreated, serve(h, "10.0.0.1").Code)
		assert.Equal(t, http.StatusCreated, serve(h, "10.0.0.1").Code)
	})

	t.Run("disabled", func(t *testing.T) {
		assert.Nil(t, New(NewMemoryStore(), 0, time.Minute, nil, nil))
		assert.Nil(t, New(nil, 5, time.Minute, nil, nil))
	})
}
