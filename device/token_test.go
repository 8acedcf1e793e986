package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiry(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &LocalTokenSource{
		Secret:   []byte("secret"),
		Identity: "alice",
		TTL:      30 * time.Minute,
		Now:      func() time.Time { return issued },
	}

	token, err := src.Token(context.Background())
	require.NoError(t, err)

	expiry, err := TokenExpiry(token)
	require.NoError(t, err)
	assert.True(t, expiry.Equal(issued.Add(30*time.Minute)))
}

func TestTokenExpiryErrors(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		// {"alg":"HS256","typ":"JWT"}.{"sub":"alice"} with no exp
		{"no exp", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJhbGljZSJ9.c2ln"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TokenExpiry(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestHTTPTokenSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer app", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"abc.def.ghi"}`))
	}))
	defer srv.Close()

	src := &HTTPTokenSource{Endpoint: srv.URL, Headers: map[string]string{"Authorization": "Bearer app"}}
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestHTTPTokenSourceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"empty token", http.StatusOK, `{"token":""}`},
		{"bad json", http.StatusOK, `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := (&HTTPTokenSource{Endpoint: srv.URL}).Token(context.Background())
			assert.Error(t, err)
		})
	}
}
