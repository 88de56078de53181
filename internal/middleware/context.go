package middleware

type contextKey string

const SessionKeyContextKey contextKey = "sessionKey"
