package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zapgate/gateway-server-go/internal/chat"
	"github.com/zapgate/gateway-server-go/internal/config"
	"github.com/zapgate/gateway-server-go/internal/creds"
	"github.com/zapgate/gateway-server-go/internal/database"
	"github.com/zapgate/gateway-server-go/internal/handler"
	"github.com/zapgate/gateway-server-go/internal/jobs"
	"github.com/zapgate/gateway-server-go/internal/middleware"
	"github.com/zapgate/gateway-server-go/internal/redis"
	"github.com/zapgate/gateway-server-go/internal/repository"
	"github.com/zapgate/gateway-server-go/internal/session"
	"github.com/zapgate/gateway-server-go/internal/sse"
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

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	archiveRepo := repository.NewArchiveRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	credStore := creds.NewStore(cfg.CredentialsDir)
	dialer := chat.NewWSDialer(cfg.ChatNetworkURL)

	sessionCfg := session.DefaultConfig()
	sessionCfg.SessionCost = cfg.SessionCostCredits

	registry := session.NewRegistry()
	supervisor := session.NewSupervisor(
		sessionCfg,
		registry,
		dialer,
		credStore,
		repository.NewCreditLedger(accountRepo),
		archiveRepo,
		sse.NewNotifier(broker),
	)
	gateway := session.NewGateway(sessionCfg, registry)

	authMiddleware := middleware.NewAuthMiddleware(accountRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(config.MaxUploadBytes)

	connectionHandler := handler.NewConnectionHandler(supervisor)
	messageHandler := handler.NewMessageHandler(gateway)
	syncHandler := handler.NewSyncHandler(supervisor, gateway)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		r.Mount("/connection", connectionHandler.Routes())

		r.Post("/send-message", messageHandler.SendMessage)
		r.Post("/send-file", messageHandler.SendFile)
		r.Post("/validate-number", messageHandler.ValidateNumber)

		r.Get("/contacts/{sessionId}", syncHandler.Contacts)
		r.Get("/chats/{sessionId}", syncHandler.Chats)
		r.Get("/messages/{sessionId}", syncHandler.Messages)
		r.Get("/groups/{sessionId}", syncHandler.Groups)

		r.Get("/events", eventsHandler.ServeHTTP)
	})

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := supervisor.RestoreAll(restoreCtx); err != nil {
		log.Error().Err(err).Msg("failed to restore sessions")
	}
	restoreCancel()

	sweepJob := jobs.NewSweepJob(supervisor, archiveRepo, cfg.ArchiveRetention(), config.SweepJobInterval)
	sweepJob.Start()
	defer sweepJob.Stop()

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
