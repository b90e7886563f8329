package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	cfg "github.com/sand/blue-carbon-registry/backend/config"
	"github.com/sand/blue-carbon-registry/backend/internal/address"
	"github.com/sand/blue-carbon-registry/backend/internal/badges"
	"github.com/sand/blue-carbon-registry/backend/internal/chain"
	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/handlers"
	"github.com/sand/blue-carbon-registry/backend/internal/journal"
	"github.com/sand/blue-carbon-registry/backend/internal/marketplace"
	"github.com/sand/blue-carbon-registry/backend/internal/mirror"
	"github.com/sand/blue-carbon-registry/backend/internal/projects"
	"github.com/sand/blue-carbon-registry/backend/internal/storage"
	"github.com/sand/blue-carbon-registry/backend/internal/wallet"
	"github.com/sand/blue-carbon-registry/backend/internal/workers"
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
	logger.Warn("Starting registry with configuration",
		"environment", config.App.Environment,
		"debug", config.App.Debug,
		"rpc_url", config.Chain.RPCURL,
		"network", config.Chain.Network,
		"real_transactions", config.RealTransactionsEnabled(),
		"mirror", config.Mirror.BaseURL,
		"server_port", config.HTTP.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, logger, config); err != nil {
		logger.Error("Registry stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exited properly")
}

func run(ctx context.Context, logger *slog.Logger, config *cfg.Config) error {
	store, err := openStore(logger, config)
	if err != nil {
		return err
	}
	defer store.Close()

	chainClient := dialChain(ctx, logger, config)
	defer chainClient.Close()

	// Mirror replication is optional
	var (
		replicator  *mirror.Replicator
		journalOpts = []journal.Option{
			journal.WithConfirmer(chainClient),
			journal.WithNetwork(config.Chain.Network, config.Chain.ExplorerBase),
			journal.WithRealTransactions(config.RealTransactionsEnabled()),
			journal.WithSimulatedDelay(config.Journal.SimulatedDelay),
			journal.WithConfirmationTimeout(config.Chain.ConfirmationTimeout),
		}
	)
	if config.Mirror.BaseURL != "" {
		replicator = mirror.NewReplicator(logger,
			mirror.NewClient(logger, config.Mirror.BaseURL, config.Mirror.Timeout),
			mirror.WithQueueSize(config.Mirror.QueueSize),
			mirror.WithRetry(config.Mirror.MaxAttempts, config.Mirror.RetryBaseDelay),
		)
		journalOpts = append(journalOpts, journal.WithReplicator(replicator), journal.WithRemoteSource(replicator))
	}

	txJournal := journal.New(logger, store, journalOpts...)
	if err = txJournal.Init(); err != nil {
		return fmt.Errorf("failed to init journal: %w", err)
	}
	defer txJournal.Close()

	projectStore := projects.New(logger, store, projects.WithDemoSeed(config.Storage.SeedDemoProjects))
	if err = projectStore.Init(); err != nil {
		return fmt.Errorf("failed to init project store: %w", err)
	}
	defer projectStore.Close()

	var recorder wallet.BadgeRecorder
	if config.Badges.BaseURL != "" {
		recorder = badges.NewClient(logger, config.Badges.BaseURL, config.Mirror.Timeout)
	}

	session := wallet.New(logger, txJournal, chainClient, recorder, wallet.Config{
		TreasuryAddress: config.Chain.TreasuryAddress,
		RegistryAddress: config.Chain.RegistryAddress,
	})
	defer session.Close()

	market := marketplace.New(logger, projectStore)

	pool, err := chain.NewPoolReader(logger, chainClient.Backend(), config.Chain.PoolContract)
	if err != nil {
		return fmt.Errorf("failed to create pool reader: %w", err)
	}

	adapters, err := walletAdapters(logger, config, chainClient)
	if err != nil {
		return err
	}

	// Create handlers
	websocketManager := handlers.NewWebSocketManager(logger)
	defer websocketManager.CloseAll()

	projectStore.Subscribe(func(list []entities.Project) {
		websocketManager.Broadcast(handlers.KindProjects, list)
	})
	txJournal.Subscribe(func(list []entities.Transaction) {
		websocketManager.Broadcast(handlers.KindTransactions, list)
	})
	session.Subscribe(func(snapshot wallet.Snapshot) {
		websocketManager.Broadcast(handlers.KindSession, snapshot)
	})

	var syncStatus handlers.SyncStatusSource
	if replicator != nil {
		syncStatus = replicator
	}

	httpHandler := handlers.NewHTTPHandler(logger, projectStore, market, pool, txJournal, session, adapters, syncStatus).
		WithPaymentTimeout(config.Chain.ConfirmationTimeout + config.Journal.SimulatedDelay + writeTimeoutSeconds*time.Second)
	wsHandler := handlers.NewWebSocketHandler(logger, projectStore, txJournal, session, websocketManager)

	router := mux.NewRouter()

	// Register WebSocket routes before HTTP routes
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if replicator != nil {
		replicator.Start(gctx)
		defer replicator.Close()

		mirrorSync, err := workers.NewMirrorSync(logger, txJournal, config.Mirror.SyncInterval)
		if err != nil {
			return err
		}
		g.Go(func() error { return mirrorSync.Start(gctx) })
	}

	reconciler := workers.NewPendingReconciler(logger, txJournal,
		config.Workers.PendingStaleAfter,
		config.Workers.PendingReconcileInterval,
	)
	g.Go(func() error {
		reconciler.Start(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(logger *slog.Logger, config *cfg.Config) (storage.Store, error) {
	if config.Storage.InMemory {
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStore(), nil
	}

	store, err := storage.OpenBadger(logger, config.Storage.Path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return store, nil
}

// dialChain connects to the configured RPC. Without one every chain call falls back.
func dialChain(ctx context.Context, logger *slog.Logger, config *cfg.Config) *chain.Client {
	opts := []chain.Option{
		chain.WithPollInterval(config.Chain.ConfirmationPoll),
		chain.WithFallbackBalance(decimal.NewFromFloat(config.Chain.FallbackBalance)),
	}

	if config.Chain.RPCURL != "" {
		client, err := chain.Dial(ctx, logger, config.Chain.RPCURL, opts...)
		if err == nil {
			return client
		}
		logger.Error("Chain RPC unavailable, running without it", "rpc_url", config.Chain.RPCURL, "error", err)
	}
	return chain.NewClient(logger, nil, opts...)
}

// walletAdapters connects the signing wallet when a seed is configured; any other
// address connects as a watch-only wallet whose spends are simulated.
func walletAdapters(logger *slog.Logger, config *cfg.Config, chainClient *chain.Client) (handlers.AdapterFactory, error) {
	var signer *chain.KeyWallet
	if config.Chain.WalletSeed != "" {
		var err error
		signer, err = chain.NewKeyWallet(logger, chainClient.Backend(), config.Chain.WalletSeed, config.Chain.DerivationIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to create signing wallet: %w", err)
		}
	}

	return func(addr string) (wallet.Adapter, error) {
		if signer != nil && (addr == "" || address.Equal(addr, signer.Account())) {
			return signer, nil
		}
		if addr == "" {
			return nil, wallet.ErrAddressUnresolved
		}
		return chain.NewWatchWallet(addr), nil
	}, nil
}
