package main

import (
	bookingrepo "medbook/internal/bookings/repository"
	"medbook/internal/resources/handler"
	"medbook/internal/resources/repository"
	"medbook/internal/resources/service"
	"medbook/pkg/app"
	"medbook/pkg/config"
)

const ServiceName = "resources"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting Resources service")
	resourceService := initServices(cfg)

	serverApp := app.NewApplication()
	serverApp.SetApp(cfg, handler.NewResourceHandler(resourceService, cfg.Log))
	serverApp.Run()
}

func initServices(cfg *config.Config) service.ResourceService {
	poolRepo := repository.NewMongoPoolRepository(cfg)
	auditRepo := repository.NewMongoAuditRepository(cfg)
	bookingRepo := bookingrepo.NewMongoBookingRepository(cfg)
	resourceService := service.NewResourceService(poolRepo, auditRepo, bookingRepo, cfg)

	cfg.Log.Info("Resource service initialized", "database", cfg.MongoDatabaseName)
	return resourceService
}
