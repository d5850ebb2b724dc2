package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/minglr/match-relay/internal/config"
	"github.com/minglr/match-relay/internal/gateway"
	"github.com/minglr/match-relay/internal/handler"
	"github.com/minglr/match-relay/internal/identity"
	"github.com/minglr/match-relay/internal/middleware"
	"github.com/minglr/match-relay/internal/queue"
	"github.com/minglr/match-relay/internal/relay"
	"github.com/minglr/match-relay/internal/room"
	"github.com/minglr/match-relay/internal/safety"
	"github.com/minglr/match-relay/internal/stats"
	"github.com/minglr/match-relay/internal/store"
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

	s, err := store.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer s.Close()
	log.Info().Msg("redis connected")

	authority := identity.New(s, cfg.TokenSigningSecret, config.SessionTTL, config.TokenTTL)
	rooms := room.New(s, config.RoomTTL)
	q := queue.New(s, rooms, config.LivenessWindow, config.QueuePairScanLimit)
	sigRelay := relay.New(s, rooms)
	limiter := safety.NewRateLimiter(s)
	reports := safety.NewReportService(s, authority, config.ReportCounterWindow, config.AutoDisconnectThreshold)
	aggregator := stats.New(s)

	hub := gateway.NewHub(s, authority, aggregator)
	dispatcher := gateway.NewDispatcher(hub, authority, q, rooms, sigRelay, limiter, reports, aggregator)
	hub.SetAutoDisconnectHandler(config.AutoDisconnectWarningDelay, dispatcher.ForceLeave)
	gatewayServer := gateway.NewServer(hub, dispatcher, cfg.AllowedOrigins, config.ConnectionHeartbeatInterval, config.ConnectionIdleTimeout)

	authMiddleware := middleware.NewAuthMiddleware(authority)
	corsMiddleware := middleware.NewCORSMiddleware(cfg.AllowedOrigins)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(config.DefaultMaxBodySize)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	sessionHandler := handler.NewSessionHandler(authority, limiter)
	reportsHandler := handler.NewReportsHandler(reports, limiter, s)
	statsHandler := handler.NewStatsHandler(aggregator)
	healthHandler := handler.NewHealthHandler()

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(corsMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.Get)
	r.Get("/api/stats", statsHandler.Get)

	r.Route("/api/session", func(r chi.Router) {
		r.Post("/init", sessionHandler.Init)
		r.With(authMiddleware.Handler).Post("/verify", sessionHandler.Verify)
	})

	r.Route("/api/reports", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Post("/", reportsHandler.File)
		r.Get("/", reportsHandler.List)
	})

	r.Get("/ws", gatewayServer.ServeHTTP)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
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

	hub.Shutdown(shutdownCtx)

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
