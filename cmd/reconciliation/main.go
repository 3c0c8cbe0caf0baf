package main

import (
	directoryrepo "medbook/internal/directory/repository"
	directoryservice "medbook/internal/directory/service"
	"medbook/internal/notifications"
	paymentsrepo "medbook/internal/payments/repository"
	"medbook/internal/reconciliation/handler"
	"medbook/internal/reconciliation/repository"
	"medbook/internal/reconciliation/service"
	"medbook/pkg/app"
	"medbook/pkg/config"
)

const ServiceName = "reconciliation"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	publisher, closePublisher := notifications.NewPublisherFromEnv(ServiceName, cfg.Log)
	defer closePublisher()

	cfg.Log.Info("Starting Reconciliation service")
	reconciliationService := initServices(cfg, publisher)

	serverApp := app.NewApplication()
	serverApp.SetApp(cfg, handler.NewReconciliationHandler(reconciliationService, cfg, cfg.Log))
	serverApp.Run()
}

func initServices(cfg *config.Config, publisher notifications.Publisher) service.ReconciliationService {
	reconciliationRepo := repository.NewMongoReconciliationRepository(cfg)
	txRepo := paymentsrepo.NewMongoTransactionRepository(cfg)
	balanceRepo := paymentsrepo.NewMongoBalanceRepository(cfg)
	ledgerRepo := paymentsrepo.NewMongoLedgerRepository(cfg)

	directory := directoryservice.NewDirectoryService(directoryrepo.NewMongoDirectoryRepository(cfg), cfg)

	reconciliationService := service.NewReconciliationService(
		reconciliationRepo,
		txRepo,
		balanceRepo,
		ledgerRepo,
		directory,
		publisher,
		cfg,
	)

	cfg.Log.Info("Reconciliation service initialized", "database", cfg.MongoDatabaseName)
	return reconciliationService
}
