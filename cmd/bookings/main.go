package main

import (
	"context"
	"time"

	"medbook/internal/bookings/handler"
	"medbook/internal/bookings/repository"
	"medbook/internal/bookings/service"
	"medbook/internal/bookings/validator"
	directoryrepo "medbook/internal/directory/repository"
	directoryservice "medbook/internal/directory/service"
	"medbook/internal/notifications"
	resourcerepo "medbook/internal/resources/repository"
	resourceservice "medbook/internal/resources/service"
	"medbook/pkg/app"
	"medbook/pkg/config"
)

const ServiceName = "bookings"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	publisher, closePublisher := notifications.NewPublisherFromEnv(ServiceName, cfg.Log)
	defer closePublisher()

	cfg.Log.Info("Starting Bookings service")
	bookingService := initServices(cfg, publisher)

	go runExpirySweep(bookingService, cfg)

	serverApp := app.NewApplication()
	serverApp.SetApp(cfg, handler.NewBookingHandler(bookingService, cfg, cfg.Log))
	serverApp.Run()
}

func initServices(cfg *config.Config, publisher notifications.Publisher) service.BookingService {
	bookingValidator := validator.NewBookingValidator(cfg.Log, cfg.MaxBookingQuantity)
	bookingRepo := repository.NewMongoBookingRepository(cfg)
	historyRepo := repository.NewMongoHistoryRepository(cfg)
	lockRepo := repository.NewTransitionLockRepository(cfg)

	poolRepo := resourcerepo.NewMongoPoolRepository(cfg)
	auditRepo := resourcerepo.NewMongoAuditRepository(cfg)
	allocator := resourceservice.NewResourceService(poolRepo, auditRepo, bookingRepo, cfg)

	directory := directoryservice.NewDirectoryService(directoryrepo.NewMongoDirectoryRepository(cfg), cfg)

	bookingService := service.NewBookingService(
		bookingRepo,
		historyRepo,
		lockRepo,
		allocator,
		directory,
		bookingValidator,
		publisher,
		cfg,
	)

	cfg.Log.Info("Booking service initialized", "database", cfg.MongoDatabaseName)
	return bookingService
}

// runExpirySweep periodically closes approved bookings whose payment
// window lapsed. Each sweep is bounded by its own timeout so a slow pass
// never blocks the next interval indefinitely.
func runExpirySweep(bookingService service.BookingService, cfg *config.Config) {
	ticker := time.NewTicker(cfg.ExpirySweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ExpirySweepInterval)
		expired, err := bookingService.ExpireOverdue(ctx)
		cancel()

		if err != nil {
			cfg.Log.Error("Expiry sweep failed", "error", err)
			continue
		}
		if expired > 0 {
			cfg.Log.Info("Expiry sweep closed overdue bookings", "count", expired)
		}
	}
}
