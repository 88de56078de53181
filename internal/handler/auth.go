package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/streamrelay/relay-server-go/internal/audit"
	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/middleware"
	"github.com/streamrelay/relay-server-go/internal/service"
	"github.com/streamrelay/relay-server-go/internal/util"
)

const (
	streamerPath = "/streamer"
	streamPath   = "/stream"
)

// Authenticator is the identity provider side of login.
type Authenticator interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
}

type AuthHandler struct {
	auth     Authenticator
	sessions *service.SessionService
}

func NewAuthHandler(auth Authenticator, sessions *service.SessionService) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions}
}

// Routes are mounted under /auth.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/login", h.Login)
	r.Get("/callback", h.Callback)
	r.Post("/logout", h.Logout)

	return r
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sessionKey := middleware.GetSessionKey(r.Context())

	state, err := util.GenerateToken()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate oauth state")
		writeError(w, apperrors.Internal("Failed to initiate login"))
		return
	}
	if err := h.sessions.SetOAuthState(r.Context(), sessionKey, state); err != nil {
		log.Error().Err(err).Msg("failed to store oauth state")
		writeError(w, err)
		return
	}

	http.Redirect(w, r, h.auth.AuthorizationURL(state), http.StatusFound)
}

func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionKey := middleware.GetSessionKey(ctx)
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventLoginFailure,
			Details: map[string]interface{}{"error": providerErr},
		})
		writeError(w, apperrors.AuthError("Login was not authorized: "+query.Get("error_description"), nil))
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, apperrors.New(apperrors.ErrCodeMissingRequired, "No authentication code received"))
		return
	}

	expected, err := h.sessions.ConsumeOAuthState(ctx, sessionKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if expected == "" || !util.ConstantTimeEqual(expected, query.Get("state")) {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventStateMismatch})
		writeError(w, apperrors.InvalidInput("state", "does not match the login request"))
		return
	}

	token, err := h.auth.ExchangeCode(ctx, code)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginFailure})
		writeError(w, err)
		return
	}

	if err := h.sessions.SetAccessToken(ctx, sessionKey, token); err != nil {
		log.Error().Err(err).Msg("failed to store access token")
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginSuccess})
	http.Redirect(w, r, streamerPath, http.StatusFound)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionKey := middleware.GetSessionKey(r.Context())

	if err := h.sessions.Destroy(r.Context(), sessionKey); err != nil {
		log.Warn().Err(err).Msg("failed to destroy session")
	}
	middleware.ClearSessionCookie(w)

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout})
	w.WriteHeader(http.StatusNoContent)
}

type streamerRequest struct {
	Username string `json:"username"`
}

// SetStreamer records which channel the session wants to follow. Accepts a form or JSON body.
func (h *AuthHandler) SetStreamer(w http.ResponseWriter, r *http.Request) {
	var username string

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req streamerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.InvalidInput("body", "invalid JSON"))
			return
		}
		username = req.Username
	} else {
		username = r.FormValue("username")
	}

	username = strings.TrimSpace(username)
	if username == "" {
		writeError(w, apperrors.MissingRequired("username"))
		return
	}

	if err := h.sessions.SetStreamerName(r.Context(), middleware.GetSessionKey(r.Context()), username); err != nil {
		writeError(w, err)
		return
	}

	log.Info().Str("streamerName", username).Msg("streamer selected")
	http.Redirect(w, r, streamPath, http.StatusFound)
}

func (h *AuthHandler) Stream(w http.ResponseWriter, r *http.Request) {
	name, err := h.sessions.StreamerName(r.Context(), middleware.GetSessionKey(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if name == "" {
		writeError(w, apperrors.MissingRequired("streamer name"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"streamerName": name})
}
