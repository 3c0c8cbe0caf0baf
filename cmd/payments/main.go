package main

import (
	bookingrepo "medbook/internal/bookings/repository"
	directoryrepo "medbook/internal/directory/repository"
	directoryservice "medbook/internal/directory/service"
	"medbook/internal/notifications"
	"medbook/internal/payments/handler"
	"medbook/internal/payments/repository"
	"medbook/internal/payments/service"
	"medbook/pkg/app"
	"medbook/pkg/config"
)

const ServiceName = "payments"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	cfg.SetGateway()
	defer cfg.GracefulShutdown()

	publisher, closePublisher := notifications.NewPublisherFromEnv(ServiceName, cfg.Log)
	defer closePublisher()

	cfg.Log.Info("Starting Payments service")
	paymentService, distributor := initServices(cfg, publisher)

	serverApp := app.NewApplication()
	serverApp.SetApp(cfg, handler.NewPaymentHandler(paymentService, distributor, cfg, cfg.Log))
	serverApp.SetWebhook(cfg, handler.NewGatewayWebhookHandler(paymentService, cfg.Log))
	serverApp.Run()
}

func initServices(cfg *config.Config, publisher notifications.Publisher) (service.PaymentService, service.RevenueDistributor) {
	txRepo := repository.NewMongoTransactionRepository(cfg)
	balanceRepo := repository.NewMongoBalanceRepository(cfg)
	ledgerRepo := repository.NewMongoLedgerRepository(cfg)
	bookingRepo := bookingrepo.NewMongoBookingRepository(cfg)

	directory := directoryservice.NewDirectoryService(directoryrepo.NewMongoDirectoryRepository(cfg), cfg)

	distributor := service.NewRevenueDistributor(
		txRepo,
		balanceRepo,
		ledgerRepo,
		directory,
		publisher,
		cfg,
	)

	paymentService := service.NewPaymentService(
		txRepo,
		bookingRepo,
		directory,
		distributor,
		cfg.Client.Gateway,
		publisher,
		cfg,
	)

	cfg.Log.Info("Payment service initialized",
		"database", cfg.MongoDatabaseName,
		"gateway", cfg.GatewayBaseURL,
	)
	return paymentService, distributor
}
