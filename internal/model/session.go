package model

import "time"

// Session fields kept in the external session store, keyed by an opaque session key.
const (
	SessionFieldAccessToken  = "access_token"
	SessionFieldStreamerName = "streamer_name"
	SessionFieldConnectionID = "connection_id"
	SessionFieldOAuthState   = "oauth_state"
)

// SessionField is one stored attribute of a browser session.
type SessionField struct {
	SessionKeyHash string    `db:"session_key_hash"`
	Field          string    `db:"field"`
	Value          string    `db:"value"`
	ExpiresAt      time.Time `db:"expires_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}
