package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/middleware"
	"github.com/streamrelay/relay-server-go/internal/model"
	"github.com/streamrelay/relay-server-go/internal/service"
)

type stubAuthenticator struct {
	token string
	err   error
	codes []string
}

func (s *stubAuthenticator) AuthorizationURL(state string) string {
	return "https://id.example.com/oauth2/authorize?state=" + url.QueryEscape(state)
}

func (s *stubAuthenticator) ExchangeCode(ctx context.Context, code string) (string, error) {
	s.codes = append(s.codes, code)
	return s.token, s.err
}

func newTestAuthHandler(t *testing.T) (*AuthHandler, *stubAuthenticator, *service.SessionService) {
	t.Helper()
	sessions := newTestSessions(t)
	auth := &stubAuthenticator{token: "tok-abc"}
	return NewAuthHandler(auth, sessions), auth, sessions
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	code, _ := resp["code"].(string)
	return code
}

func TestAuthHandler_Login(t *testing.T) {
	h, _, sessions := newTestAuthHandler(t)

	rec := httptest.NewRecorder()
	h.Login(rec, withSessionKey(httptest.NewRequest(http.MethodGet, "/auth/login", nil), testSessionKey))

	assert.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	assert.NotEmpty(t, state)

	stored, err := sessions.Get(context.Background(), testSessionKey, model.SessionFieldOAuthState)
	require.NoError(t, err)
	assert.Equal(t, state, stored)
}

func TestAuthHandler_Callback(t *testing.T) {
	ctx := context.Background()

	callback := func(h *AuthHandler, query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
		h.Callback(rec, withSessionKey(req, testSessionKey))
		return rec
	}

	t.Run("stores token and moves on to streamer selection", func(t *testing.T) {
		h, auth, sessions := newTestAuthHandler(t)
		require.NoError(t, sessions.SetOAuthState(ctx, testSessionKey, "state-1"))

		rec := callback(h, "code=the-code&state=state-1")

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/streamer", rec.Header().Get("Location"))
		assert.Equal(t, []string{"the-code"}, auth.codes)

		token, err := sessions.AccessToken(ctx, testSessionKey)
		require.NoError(t, err)
		assert.Equal(t, "tok-abc", token)

		state, err := sessions.Get(ctx, testSessionKey, model.SessionFieldOAuthState)
		require.NoError(t, err)
		assert.Empty(t, state)
	})

	t.Run("missing code", func(t *testing.T) {
		h, auth, _ := newTestAuthHandler(t)

		rec := callback(h, "state=state-1")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "No authentication code received")
		assert.Empty(t, auth.codes)
	})

	t.Run("state mismatch", func(t *testing.T) {
		h, auth, sessions := newTestAuthHandler(t)
		require.NoError(t, sessions.SetOAuthState(ctx, testSessionKey, "state-1"))

		rec := callback(h, "code=the-code&state=forged")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
		assert.Empty(t, auth.codes)
	})

	t.Run("no login in progress", func(t *testing.T) {
		h, _, _ := newTestAuthHandler(t)

		rec := callback(h, "code=the-code&state=")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("exchange failure", func(t *testing.T) {
		h, auth, sessions := newTestAuthHandler(t)
		auth.err = apperrors.AuthError("Failed to obtain access token, please retry login", errors.New("invalid code"))
		require.NoError(t, sessions.SetOAuthState(ctx, testSessionKey, "state-1"))

		rec := callback(h, "code=bad&state=state-1")

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "AUTH_ERROR", errorCode(t, rec))

		token, err := sessions.AccessToken(ctx, testSessionKey)
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("provider reported an error", func(t *testing.T) {
		h, auth, _ := newTestAuthHandler(t)

		rec := callback(h, "error=access_denied&error_description=user+denied")

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "user denied")
		assert.Empty(t, auth.codes)
	})
}

func TestAuthHandler_SetStreamer(t *testing.T) {
	ctx := context.Background()

	t.Run("form body", func(t *testing.T) {
		h, _, sessions := newTestAuthHandler(t)
		req := httptest.NewRequest(http.MethodPost, "/streamer", strings.NewReader("username=somestreamer"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()

		h.SetStreamer(rec, withSessionKey(req, testSessionKey))

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/stream", rec.Header().Get("Location"))
		name, err := sessions.StreamerName(ctx, testSessionKey)
		require.NoError(t, err)
		assert.Equal(t, "somestreamer", name)
	})

	t.Run("json body", func(t *testing.T) {
		h, _, sessions := newTestAuthHandler(t)
		req := httptest.NewRequest(http.MethodPost, "/streamer", strings.NewReader(`{"username":" other "}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		rec := httptest.NewRecorder()

		h.SetStreamer(rec, withSessionKey(req, testSessionKey))

		assert.Equal(t, http.StatusFound, rec.Code)
		name, _ := sessions.StreamerName(ctx, testSessionKey)
		assert.Equal(t, "other", name)
	})

	t.Run("missing username", func(t *testing.T) {
		h, _, _ := newTestAuthHandler(t)
		req := httptest.NewRequest(http.MethodPost, "/streamer", strings.NewReader("username="))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()

		h.SetStreamer(rec, withSessionKey(req, testSessionKey))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_REQUIRED", errorCode(t, rec))
	})

	t.Run("malformed json", func(t *testing.T) {
		h, _, _ := newTestAuthHandler(t)
		req := httptest.NewRequest(http.MethodPost, "/streamer", strings.NewReader(`{`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		h.SetStreamer(rec, withSessionKey(req, testSessionKey))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
	})
}

func TestAuthHandler_Stream(t *testing.T) {
	h, _, sessions := newTestAuthHandler(t)

	rec := httptest.NewRecorder()
	h.Stream(rec, withSessionKey(httptest.NewRequest(http.MethodGet, "/stream", nil), testSessionKey))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, sessions.SetStreamerName(context.Background(), testSessionKey, "somestreamer"))

	rec = httptest.NewRecorder()
	h.Stream(rec, withSessionKey(httptest.NewRequest(http.MethodGet, "/stream", nil), testSessionKey))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"streamerName":"somestreamer"}`, rec.Body.String())
}

func TestAuthHandler_Logout(t *testing.T) {
	ctx := context.Background()
	h, _, sessions := newTestAuthHandler(t)
	require.NoError(t, sessions.SetAccessToken(ctx, testSessionKey, "tok"))

	rec := httptest.NewRecorder()
	h.Logout(rec, withSessionKey(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), testSessionKey))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookie, cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)

	token, err := sessions.AccessToken(ctx, testSessionKey)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestAuthHandler_Routes(t *testing.T) {
	h, _, _ := newTestAuthHandler(t)
	router := middleware.NewSessionMiddleware(false, 0).Handler(h.Routes())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://id.example.com/oauth2/authorize"))
}
