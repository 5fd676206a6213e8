package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkngo/backend/libs/token"
)

func TestInternalAuth(t *testing.T) {
	tokens := token.NewService("test-secret", time.Minute)
	var called bool
	handler := InternalAuth(tokens)(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	bearer, err := tokens.Issue("meter-service")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/release", nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestInternalAuthMissingHeader(t *testing.T) {
	tokens := token.NewService("test-secret", time.Minute)
	handler := InternalAuth(tokens)(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodPost, "/release", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalAuthMalformedHeader(t *testing.T) {
	tokens := token.NewService("test-secret", time.Minute)
	handler := InternalAuth(tokens)(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodPost, "/release", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalAuthWrongSecret(t *testing.T) {
	issuer := token.NewService("other-secret", time.Minute)
	verifier := token.NewService("test-secret", time.Minute)
	handler := InternalAuth(verifier)(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	bearer, err := issuer.Issue("meter-service")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/release", nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
