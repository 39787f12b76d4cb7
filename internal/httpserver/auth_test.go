package httpserver_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockleague/engine/internal/httpserver"
)

func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := httpserver.UserID(r.Context())
		require.True(t, ok)
		assert.EqualValues(t, 42, id)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestWithAuth(t *testing.T) {
	v := httpserver.NewVerifier("secret", "host")
	h := httpserver.WithAuth(v)(echoUser(t))

	token, err := v.Issue(42, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestWithAuthRejects(t *testing.T) {
	v := httpserver.NewVerifier("secret", "host")
	h := httpserver.WithAuth(v)(echoUser(t))

	otherIssuer, err := httpserver.NewVerifier("secret", "elsewhere").Issue(42, time.Hour)
	require.NoError(t, err)
	wrongKey, err := httpserver.NewVerifier("nope", "host").Issue(42, time.Hour)
	require.NoError(t, err)
	expired, err := v.Issue(42, -time.Minute)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"garbage":    "Bearer abc.def.ghi",
		"issuer":     "Bearer " + otherIssuer,
		"signature":  "Bearer " + wrongKey,
		"expired":    "Bearer " + expired,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, name)
	}
}

func TestInternalAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	h := httpserver.InternalAuth("tok")(ok)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Internal-Token", "tok")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req.Header.Set("X-Internal-Token", "bad")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// An unset token never authorizes.
	h = httpserver.InternalAuth("")(ok)
	req.Header.Del("X-Internal-Token")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
