package middleware

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/util"
)

const (
	SessionCookie = "relay_session"
	sessionKeyLen = 64
)

func GetSessionKey(ctx context.Context) string {
	if key, ok := ctx.Value(SessionKeyContextKey).(string); ok {
		return key
	}
	return ""
}

// SessionMiddleware makes sure every request carries an opaque session key, issuing a new
// cookie when the browser has none. The key itself holds no data; fields live in the session store.
type SessionMiddleware struct {
	secure bool
	maxAge time.Duration
}

func NewSessionMiddleware(secure bool, maxAge time.Duration) *SessionMiddleware {
	return &SessionMiddleware{secure: secure, maxAge: maxAge}
}

func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if cookie, err := r.Cookie(SessionCookie); err == nil && validSessionKey(cookie.Value) {
			key = cookie.Value
		}

		if key == "" {
			generated, err := util.GenerateToken()
			if err != nil {
				log.Error().Err(err).Msg("session middleware: failed to generate key")
				writeError(w, apperrors.Internal("Failed to start session"))
				return
			}
			key = generated
			SetSessionCookie(w, key, m.maxAge, m.secure)
		}

		ctx := context.WithValue(r.Context(), SessionKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validSessionKey(key string) bool {
	if len(key) != sessionKeyLen {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

func SetSessionCookie(w http.ResponseWriter, key string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    key,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
