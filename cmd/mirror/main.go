package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	cfg "github.com/sand/blue-carbon-registry/backend/config"
	"github.com/sand/blue-carbon-registry/backend/internal/handlers"
	"github.com/sand/blue-carbon-registry/backend/internal/usecases"
	"github.com/sand/blue-carbon-registry/backend/internal/usecases/repository"
	"github.com/sand/blue-carbon-registry/backend/pkg/database"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	time.Local = time.UTC

	// .env is optional
	_ = godotenv.Load()

	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()}))
	logger.Warn("Starting mirror with configuration",
		"environment", config.App.Environment,
		"debug", config.App.Debug,
		"server_port", config.HTTP.MirrorPort)

	if config.DB.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	// Connect to Database
	pg, err := database.New(config,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		logger.Error("Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	migrationsPath := database.MigrationsPath()
	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Create repositories and usecases
	mirrorService := usecases.NewMirrorService(logger, repository.NewTransactionsRepository(logger, pg))
	badgeService := usecases.NewBadgeService(logger, repository.NewBadgesRepository(logger, pg))

	router := mux.NewRouter()
	handlers.NewMirrorHandler(logger, mirrorService, badgeService).RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	server := &http.Server{
		Addr:         ":" + config.HTTP.MirrorPort,
		Handler:      c.Handler(router),
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	go func() {
		logger.Info("Starting mirror server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}
