package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Subscription setup for one connection runs detached from the socket read loop. This bounds the
// session reads and user lookup; each hub request has its own API timeout.
const SubscriptionSetupTimeout = 2 * time.Minute

// Default rate limiting for hub callbacks, per connection id
const DefaultCallbackRateLimitPerMin = 120
