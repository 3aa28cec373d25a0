package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithRequestID(t *testing.T, header string) (seen string, chiSeen string, echoed string) {
	t.Helper()
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		chiSeen = middleware.GetReqID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/parkings/37709/live", nil)
	if header != "" {
		req.Header.Set(RequestIDHeader, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, chiSeen, rec.Header().Get(RequestIDHeader)
}

func TestRequestIDKeepsInboundHeader(t *testing.T) {
	seen, chiSeen, echoed := serveWithRequestID(t, "abc-123")
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", chiSeen)
	assert.Equal(t, "abc-123", echoed)
}

func TestRequestIDGeneratesWhenMissingOrMalformed(t *testing.T) {
	for _, header := range []string{"", "has space", strings.Repeat("x", maxRequestIDLength+1), "line\nbreak"} {
		seen, _, echoed := serveWithRequestID(t, header)
		require.NotEqual(t, header, seen)
		_, err := uuid.Parse(seen)
		assert.NoError(t, err, "header %q", header)
		assert.Equal(t, seen, echoed)
	}
}

func TestGetRequestIDNilContext(t *testing.T) {
	//nolint:staticcheck // nil context is handled explicitly
	assert.Empty(t, GetRequestID(nil))
}
