package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/rs/cors"

	cfg "github.com/yoonil-computeportal/market-transaction-uex-sub001/config"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/core/ports"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/fees"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/handlers"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/mgmt"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/rates"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/reconciler"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/swap"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/swap/clients"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases/mocked"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases/repository"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/workers"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/pkg/database"
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

	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Info("Starting processing tier",
		"environment", config.App.Environment,
		"server_port", config.HTTP.Port,
		"management_url", config.Management.BaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Database
	pg, err := database.New(config,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		logger.Error("postgres connection failed", "error", err)
		return
	}
	defer pg.Close()

	migrationsPath := findMigrationsPath()
	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		log.Fatal(err)
	}

	// Create repositories
	transactionsRepository := repository.NewTransactionsRepository(logger, pg)
	stepsRepository := repository.NewStepsRepository(logger, pg)
	ratesRepository := repository.NewRatesRepository(logger, pg)
	payoutsRepository := repository.NewPayoutsRepository(logger, pg)
	syncRepository := repository.NewSyncRepository(logger, pg)

	// Management tier client and fee schedule
	managementClient := mgmt.NewClient(logger, config.Management.BaseURL,
		config.Management.APIKey, time.Duration(config.Management.TimeoutSeconds)*time.Second)

	feeStore := fees.NewScheduleStore(fees.DefaultSchedule())
	if schedule, feeErr := managementClient.FetchFeeConfig(ctx); feeErr != nil {
		logger.Warn("Fee config fetch failed, using built-in schedule", "error", feeErr)
	} else {
		feeStore.Replace(*schedule)
		logger.Info("Fee schedule loaded from management tier", "tiers", len(schedule.Tiers))
	}
	policy := fees.NewPolicy(feeStore)

	// Core services
	ledgerService := usecases.NewLedgerService(logger, transactionsRepository, syncRepository, policy, pg.Transactor)
	ratesProvider := rates.NewProvider(logger, ratesRepository)

	var rateSource usecases.RateSource
	if config.Rates.APIURL != "" {
		rateSource = rates.NewUpstreamClient(logger, config.Rates.APIURL)
	} else {
		logger.Warn("No rate API configured, serving the seeded rate table")
		rateSource = rates.NewStaticSource(rates.DefaultStaticRates(), 0)
	}

	var swapProvider ports.SwapProvider
	if config.Swap.ProviderURL != "" {
		swapProvider = clients.NewUexchangeClient(logger, config.Swap.ProviderURL, config.Swap.ProviderAPIKey)
	} else {
		logger.Warn("No swap provider configured, running the sandbox provider")
		swapProvider, err = clients.NewSandboxProvider(logger, config.Swap.SandboxSeed)
		if err != nil {
			logger.Error("Failed to create sandbox swap provider", "error", err)
			log.Fatal(err)
		}
	}
	swapGateway := swap.NewGateway(logger, swapProvider, ledgerService)

	dataService := mocked.NewDataService(logger)
	payoutService := usecases.NewPayoutService(payoutsRepository)
	clusterDirectory := usecases.NewClusterDirectory(logger, managementClient, dataService)

	orchestrator := usecases.NewWorkflowOrchestrator(
		logger,
		ledgerService,
		stepsRepository,
		payoutsRepository,
		policy,
		ratesProvider,
		rateSource,
		managementClient,
		swapGateway,
		syncRepository,
		dataService,
		config.Workers.StepRetryLimit,
		time.Duration(config.Workers.StepRetryBackoffMs)*time.Millisecond,
	)

	// Workers
	rec := reconciler.New(logger, syncRepository, managementClient)
	sweepWorker := workers.NewReconcilerSweep(logger, rec,
		time.Duration(config.Workers.SweepInterval)*time.Minute)
	go sweepWorker.Start(ctx)

	feeScheduler := workers.NewFeeScheduler(logger, feeStore,
		time.Duration(config.Workers.FeeScheduleCheck)*time.Minute)
	go feeScheduler.Start(ctx)

	swapPoller := workers.NewSwapPoller(ctx, logger, swapGateway,
		time.Duration(config.Workers.PollInterval)*time.Second)

	// Create handlers
	websocketManager := handlers.NewManager(logger)
	ledgerService.SetNotifier(websocketManager)

	httpHandler := handlers.NewHTTPHandler(logger, ledgerService, orchestrator,
		swapGateway, payoutService, clusterDirectory, swapPoller)
	wsHandler := handlers.NewWebSocketHandler(logger, ledgerService, websocketManager)

	// Create router; websocket routes go first
	router := mux.NewRouter()
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
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

	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	cancel()
	swapPoller.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer shutdownCancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}

// findMigrationsPath locates the migrations directory relative to the
// working directory, falling back one level up for tests and tooling.
func findMigrationsPath() string {
	migrationsPath := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		if _, statErr := os.Stat(filepath.Join(workDir, "migrations")); statErr == nil {
			migrationsPath = filepath.Join(workDir, "migrations")
		} else if _, statErr := os.Stat(filepath.Join(workDir, "..", "migrations")); statErr == nil {
			migrationsPath = filepath.Join(workDir, "..", "migrations")
		}
	}
	return migrationsPath
}
