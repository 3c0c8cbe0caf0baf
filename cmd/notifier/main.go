package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"medbook/internal/notifications"
	"medbook/pkg/kafka"
	kafka_config "medbook/pkg/kafka/config"
	kafka_middleware "medbook/pkg/kafka/middleware"
	"medbook/pkg/logger"
)

const ServiceName = "notifier"

const consumerGroup = "medbook-notifier"

func main() {
	log := logger.New(logger.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  logger.JSON,
		Service: ServiceName,
	})

	cfg, err := kafka_config.Load()
	if err != nil {
		log.Fatal("Invalid Kafka configuration", "error", err)
	}

	dispatcher := notifications.NewDispatcher(log)

	bookingConsumer, err := kafka.NewConsumer(
		cfg,
		notifications.TopicBookingEvents,
		consumerGroup,
		notifications.TopicBookingEventsDLQ,
		dispatcher.HandleBookingMessage,
	)
	if err != nil {
		log.Fatal("Failed to create booking events consumer", "error", err)
	}

	paymentConsumer, err := kafka.NewConsumer(
		cfg,
		notifications.TopicPaymentEvents,
		consumerGroup,
		notifications.TopicPaymentEventsDLQ,
		dispatcher.HandlePaymentMessage,
	)
	if err != nil {
		log.Fatal("Failed to create payment events consumer", "error", err)
	}

	logging := kafka_middleware.LoggingConsumerMiddleware(log)
	bookingConsumer.Use(logging)
	paymentConsumer.Use(logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("Starting notifier", "brokers", cfg.Brokers, "group", consumerGroup)

	var wg sync.WaitGroup
	for _, consumer := range []*kafka.Consumer{bookingConsumer, paymentConsumer} {
		wg.Add(1)
		go func(c *kafka.Consumer) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Consumer stopped", "error", err)
			}
		}(consumer)
	}

	<-ctx.Done()
	log.Info("Shutdown signal received")

	wg.Wait()
	if err := bookingConsumer.Close(); err != nil {
		log.Error("Failed to close booking events consumer", "error", err)
	}
	if err := paymentConsumer.Close(); err != nil {
		log.Error("Failed to close payment events consumer", "error", err)
	}

	log.Info("Notifier stopped gracefully")
}
