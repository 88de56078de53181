package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/streamrelay/relay-server-go/internal/config"
	"github.com/streamrelay/relay-server-go/internal/database"
	"github.com/streamrelay/relay-server-go/internal/handler"
	"github.com/streamrelay/relay-server-go/internal/jobs"
	"github.com/streamrelay/relay-server-go/internal/middleware"
	"github.com/streamrelay/relay-server-go/internal/redis"
	"github.com/streamrelay/relay-server-go/internal/registry"
	"github.com/streamrelay/relay-server-go/internal/repository"
	"github.com/streamrelay/relay-server-go/internal/service"
	"github.com/streamrelay/relay-server-go/internal/util"
	"github.com/streamrelay/relay-server-go/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	cipher, err := util.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	healthChecks := map[string]handler.HealthCheck{}
	var callbackLimits []func(http.Handler) http.Handler
	var sessionRepo repository.SessionRepository

	// redis backs the callback rate limit whenever it is configured, whatever the session backend
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		callbackLimits = append(callbackLimits,
			middleware.NewCallbackRateLimitMiddleware(redisClient, cfg.CallbackRateLimitPerMin).Handler)

		if cfg.SessionBackend == config.SessionBackendRedis {
			sessionRepo = repository.NewRedisSessionRepository(redisClient, cfg.SessionTTL())
		}
	}

	if cfg.SessionBackend == config.SessionBackendPostgres {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare session schema")
		}
		cancel()
		log.Info().Msg("database connected")

		pgSessions := repository.NewSessionRepository(db, cfg.SessionTTL())
		sessionRepo = pgSessions
		healthChecks["database"] = db.Ping

		cleanupJob := jobs.NewCleanupJob(map[string]jobs.Sweeper{"sessions": pgSessions}, config.CleanupJobInterval)
		cleanupJob.Start()
		defer cleanupJob.Stop()
	}

	hub := ws.NewHub()
	defer hub.Close()
	connections := registry.New()

	sessionService := service.NewSessionService(sessionRepo, cipher)
	authClient := service.NewAuthClient(service.AuthConfig{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
		BaseURL:      cfg.TwitchAuthBaseURL,
		Scope:        cfg.TwitchScope,
	})
	streamService := service.NewStreamService(sessionService, service.NewSubscriberFactory(service.SubscriptionConfig{
		APIBaseURL:         cfg.TwitchAPIBaseURL,
		ClientID:           cfg.TwitchClientID,
		CallbackBaseURL:    cfg.CallbackBaseURL,
		LeaseSeconds:       cfg.LeaseSeconds,
		IncludeUserChanges: cfg.SubscribeUserChanges,
		RequestTimeout:     cfg.APITimeout(),
		HTTPClient:         &http.Client{Timeout: cfg.APITimeout()},
	}))

	sessionMiddleware := middleware.NewSessionMiddleware(isProduction, cfg.SessionTTL())
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	authHandler := handler.NewAuthHandler(authClient, sessionService)
	callbackHandler := handler.NewCallbackHandler(connections, hub)
	socketHandler := handler.NewSocketHandler(
		hub, connections, sessionService, streamService, cfg.AllowedOrigins, config.SubscriptionSetupTimeout,
	)
	healthHandler := handler.NewHealthHandler(connections, healthChecks)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// long-lived socket: no request timeout
	r.With(sessionMiddleware.Handler).Get("/ws", socketHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Mount(cfg.CallbackPath(), callbackHandler.Routes(callbackLimits...))

		r.Group(func(r chi.Router) {
			r.Use(securityHeadersMiddleware.Handler)
			r.Use(sessionMiddleware.Handler)

			r.Mount("/auth", authHandler.Routes())
			r.Post("/streamer", authHandler.SetStreamer)
			r.Get("/stream", authHandler.Stream)
		})
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("sessionBackend", cfg.SessionBackend).
			Str("callbackPath", cfg.CallbackPath()).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	// hijacked sockets are not tracked by Shutdown; closing the hub ends them
	hub.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
