package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/ferrotech/filestore/internal/config"
	"github.com/ferrotech/filestore/internal/repository/blob"
	"github.com/ferrotech/filestore/internal/usecase"
	"github.com/ferrotech/filestore/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (optional)")
	timeout    = flag.Duration("timeout", 30*time.Second, "Overall check timeout")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Initialize Vault client if enabled
	vaultClient, err := config.NewVaultClient(&cfg.Vault)
	if err != nil {
		appLogger.Fatal("Failed to create Vault client", logger.Error(err))
	}

	if vaultClient != nil {
		appLogger.Info("Loading secrets from Vault")
		if err := config.ApplyVaultSecrets(ctx, cfg, vaultClient); err != nil {
			appLogger.Fatal("Failed to apply Vault secrets", logger.Error(err))
		}
	}

	// Initialize storage backend
	appLogger.Info("Checking storage backend",
		logger.String("backend", cfg.Storage.Backend),
		logger.String("endpoint", cfg.Storage.Endpoint),
		logger.String("container", cfg.Storage.Container),
	)

	storage, err := blob.New(&cfg.Storage, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create storage backend", logger.Error(err))
	}

	fileUC := usecase.NewFileUseCase(storage, appLogger)
	if err := fileUC.HealthCheck(ctx); err != nil {
		appLogger.Fatal("Storage backend unhealthy", logger.Error(err))
	}

	appLogger.Info("Storage backend healthy",
		logger.String("backend", cfg.Storage.Backend),
		logger.String("container", cfg.Storage.Container),
	)
}
