package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
)

func newTestAuthClient(baseURL string) *AuthClient {
	return NewAuthClient(AuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:8080/auth/callback",
		BaseURL:      baseURL,
		Scope:        "user_read",
	})
}

func TestAuthClient_AuthorizationURL(t *testing.T) {
	client := newTestAuthClient("https://id.twitch.tv/oauth2/")

	raw := client.AuthorizationURL("state-123")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "id.twitch.tv", parsed.Host)
	assert.Equal(t, "/oauth2/authorize", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "user_read", q.Get("scope"))
	assert.Equal(t, "state-123", q.Get("state"))
}

func TestAuthClient_ExchangeCode(t *testing.T) {
	t.Run("returns access token", func(t *testing.T) {
		var form url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/oauth2/token", r.URL.Path)
			require.NoError(t, r.ParseForm())
			form = r.Form
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok-abc","token_type":"bearer","expires_in":3600}`))
		}))
		defer srv.Close()

		token, err := newTestAuthClient(srv.URL+"/oauth2/").ExchangeCode(context.Background(), "the-code")
		require.NoError(t, err)
		assert.Equal(t, "tok-abc", token)

		assert.Equal(t, "client-id", form.Get("client_id"))
		assert.Equal(t, "client-secret", form.Get("client_secret"))
		assert.Equal(t, "the-code", form.Get("code"))
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "http://localhost:8080/auth/callback", form.Get("redirect_uri"))
	})

	t.Run("missing access_token field is an auth error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":400,"message":"Invalid authorization code"}`))
		}))
		defer srv.Close()

		_, err := newTestAuthClient(srv.URL).ExchangeCode(context.Background(), "bad")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuth))
	})

	t.Run("upstream error status is an auth error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":400,"message":"Invalid authorization code"}`))
		}))
		defer srv.Close()

		_, err := newTestAuthClient(srv.URL).ExchangeCode(context.Background(), "bad")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuth))
	})

	t.Run("unreachable provider is an auth error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		base := srv.URL
		srv.Close()

		_, err := newTestAuthClient(base).ExchangeCode(context.Background(), "code")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuth))
	})

	t.Run("empty code is rejected without a request", func(t *testing.T) {
		_, err := newTestAuthClient("http://127.0.0.1:1").ExchangeCode(context.Background(), "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
	})
}
