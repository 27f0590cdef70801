package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approvalgate/internal/platform/logger"
	"approvalgate/pkg/requestcontext"
)

func TestClientIDFromKey(t *testing.T) {
	id := ClientIDFromKey("test-api-key")
	require.Len(t, id, 12)

	assert.Equal(t, id, ClientIDFromKey("test-api-key"), "derivation is deterministic")
	assert.NotEqual(t, id, ClientIDFromKey("other-key"))
	assert.NotContains(t, id, "test-api-key", "raw key never leaks into the id")
}

func TestRequireAPIKey(t *testing.T) {
	var gotClientID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID = requestcontext.ClientID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAPIKey([]string{"key-one", "key-two"}, logger.NewNop())(next)

	run := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/approvals/appr_x", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid key injects client id", func(t *testing.T) {
		rec := run("Bearer key-two")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ClientIDFromKey("key-two"), gotClientID)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, run("").Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, run("Basic key-one").Code)
	})

	t.Run("unknown key", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, run("Bearer nope").Code)
	})

	t.Run("empty key set fails closed", func(t *testing.T) {
		empty := RequireAPIKey(nil, logger.NewNop())(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer key-one")
		rec := httptest.NewRecorder()
		empty.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
