package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func authedRequest(t *testing.T, method, path, token string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req, httptest.NewRecorder()
}

const testSecret = "test-secret"

func signToken(t *testing.T, secret, issuer string, expiry time.Duration) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dashboard",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestAuthenticator_Validate(t *testing.T) {
	a := NewAuthenticator(testSecret, "chat-bridge")

	token := signToken(t, testSecret, "chat-bridge", time.Hour)
	claims, err := a.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "dashboard" {
		t.Errorf("subject = %q", claims.Subject)
	}
}

func TestAuthenticator_RejectsBadTokens(t *testing.T) {
	a := NewAuthenticator(testSecret, "chat-bridge")

	cases := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other-secret", "chat-bridge", time.Hour)},
		{"wrong issuer", signToken(t, testSecret, "someone-else", time.Hour)},
		{"expired", signToken(t, testSecret, "chat-bridge", -time.Hour)},
		{"garbage", "not.a.token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.Validate(tc.token); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewAuthenticator_EmptySecretDisablesAuth(t *testing.T) {
	if a := NewAuthenticator("", "chat-bridge"); a != nil {
		t.Error("empty secret must return nil authenticator")
	}
}

func TestAuthMiddleware(t *testing.T) {
	s, _, _, _, _ := testServer(t)
	s.auth = NewAuthenticator(testSecret, "chat-bridge")

	// No token.
	rec := doRequest(t, s, http.MethodGet, "/api/v1/sessions", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", rec.Code)
	}

	// Header token.
	token := signToken(t, testSecret, "chat-bridge", time.Hour)
	req, rec2 := authedRequest(t, http.MethodGet, "/api/v1/sessions", token)
	s.Router().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with bearer token", rec2.Code)
	}

	// Query-parameter token, for websocket clients.
	rec3 := doRequest(t, s, http.MethodGet, "/api/v1/sessions?token="+token, "")
	if rec3.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with query token", rec3.Code)
	}

	// Health stays public.
	rec4 := doRequest(t, s, http.MethodGet, "/healthz", "")
	if rec4.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for public health", rec4.Code)
	}
}
