package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"amora-calls-backend/internal/config"
	"amora-calls-backend/internal/handlers"
	"amora-calls-backend/internal/middleware"
	"amora-calls-backend/internal/migrate"
	"amora-calls-backend/internal/repository"
	"amora-calls-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Apply migrations
	if err := migrate.Up(context.Background(), cfg.Database.DSN()); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	callRepo := repository.NewCallRepository(db)
	prefRepo := repository.NewPreferencesRepository(db)

	// Initialize services
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	matchService := services.NewMatchService(matchRepo, userRepo)
	prefService := services.NewPreferencesService(prefRepo, matchRepo, userRepo)
	wsHub := services.NewWSHub()

	var pushService services.PushSender
	if cfg.APNS.KeyPath != "" {
		push, err := services.NewPushService(cfg.APNS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create push service")
		}
		pushService = push
	} else {
		log.Info().Msg("APNs credentials not configured, push delivery disabled")
	}

	callService := services.NewCallService(
		callRepo,
		userRepo,
		prefService,
		wsHub,
		pushService,
		time.Duration(cfg.Call.RingTimeoutSeconds)*time.Second,
	)

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	matchHandler := handlers.NewMatchHandler(matchService, wsHub)
	callHandler := handlers.NewCallHandler(callService)
	prefHandler := handlers.NewPreferencesHandler(prefService)
	wsHandler := handlers.NewWebSocketHandler(wsHub, userService, callService, cfg.Call.STUNServers)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService))
			r.Put("/users/push-token", userHandler.UpdatePushToken)

			r.Post("/matches", matchHandler.CreateMatch)
			r.Delete("/matches/{match_id}", matchHandler.DeleteMatch)

			r.Post("/calls", callHandler.InitiateCall)
			r.Get("/calls", callHandler.GetHistory)
			r.Get("/calls/{call_id}", callHandler.GetCall)
			r.Post("/calls/{call_id}/answer", callHandler.AnswerCall)
			r.Post("/calls/{call_id}/reject", callHandler.RejectCall)
			r.Post("/calls/{call_id}/cancel", callHandler.CancelCall)
			r.Post("/calls/{call_id}/end", callHandler.EndCall)
			r.Post("/calls/{call_id}/active", callHandler.MarkActive)

			r.Get("/preferences", prefHandler.GetPreferences)
			r.Put("/preferences", prefHandler.UpdatePreferences)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Stop ring timers and close WebSocket connections
	callService.Close()
	wsHub.Close()

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

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

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
