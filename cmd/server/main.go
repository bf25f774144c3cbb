package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medipagos/be-payment-orders/internal/client"
	"github.com/medipagos/be-payment-orders/internal/config"
	"github.com/medipagos/be-payment-orders/internal/database"
	"github.com/medipagos/be-payment-orders/internal/handler"
	"github.com/medipagos/be-payment-orders/internal/logger"
	"github.com/medipagos/be-payment-orders/internal/middleware"
	"github.com/medipagos/be-payment-orders/internal/repository"
	"github.com/medipagos/be-payment-orders/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Payment Orders Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Apply migrations before opening the pool
	dbCfg := database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}
	if err := database.Migrate(dbCfg, cfg.Database.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	log.Info().Str("dir", cfg.Database.MigrationsDir).Msg("Migrations applied")

	// Initialize database
	db, err := database.New(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize notification publisher
	notifier, err := client.NewNotificationPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer notifier.Close()
	if cfg.NATS.URL == "" {
		log.Warn().Msg("NATS URL not configured; notifications disabled")
	}

	// Initialize repositories and services
	ledger := repository.NewLedger(db)
	profileRepo := repository.NewProfileRepository(db)

	orderService := service.NewOrderService(ledger, notifier, log)
	profileService := service.NewProfileService(profileRepo, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(orderService, profileService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Order routes
	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListOrders(w, r)
		case http.MethodPost:
			httpHandler.CreateOrder(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("GET /api/v1/orders/get", httpHandler.GetOrder)
	mux.HandleFunc("POST /api/v1/orders/links/add", httpHandler.AddLink)
	mux.HandleFunc("POST /api/v1/orders/links/remove", httpHandler.RemoveLink)
	mux.HandleFunc("POST /api/v1/orders/submit", httpHandler.Submit)
	mux.HandleFunc("POST /api/v1/orders/approve", httpHandler.Approve)
	mux.HandleFunc("POST /api/v1/orders/reject", httpHandler.Reject)
	mux.HandleFunc("POST /api/v1/orders/cancel", httpHandler.Cancel)
	mux.HandleFunc("POST /api/v1/orders/payment", httpHandler.RecordPayment)
	mux.HandleFunc("GET /api/v1/orders/approvals", httpHandler.GetApprovals)
	mux.HandleFunc("GET /api/v1/orders/pending", httpHandler.GetPendingForUser)
	mux.HandleFunc("GET /api/v1/orders/audit", httpHandler.GetAuditTrail)

	// Profile administration routes
	mux.HandleFunc("/api/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListProfiles(w, r)
		case http.MethodPost:
			httpHandler.CreateProfile(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("POST /api/v1/profiles/users/assign", httpHandler.AssignProfileUser)
	mux.HandleFunc("DELETE /api/v1/profiles/users", httpHandler.RemoveProfileUser)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Timeout(30 * time.Second)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
