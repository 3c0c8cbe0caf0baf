package notifications

import (
	"os"

	"medbook/pkg/kafka"
	kafka_config "medbook/pkg/kafka/config"
	kafka_middleware "medbook/pkg/kafka/middleware"
	"medbook/pkg/logger"
)

// NewPublisherFromEnv builds a Kafka-backed publisher when brokers are
// configured and falls back to a no-op otherwise. Services stay usable
// without a broker; they just stop emitting events.
func NewPublisherFromEnv(source string, log *logger.Logger) (Publisher, func()) {
	if os.Getenv(kafka_config.EnvKafkaBrokers) == "" {
		log.Warn("Kafka brokers not configured, event publishing disabled", "source", source)
		return NoopPublisher{}, func() {}
	}

	cfg, err := kafka_config.Load()
	if err != nil {
		log.Error("Invalid Kafka configuration, event publishing disabled", "source", source, "error", err)
		return NoopPublisher{}, func() {}
	}

	bookingProducer, err := kafka.NewProducer(cfg, TopicBookingEvents, TopicBookingEventsDLQ)
	if err != nil {
		log.Error("Failed to create booking producer, event publishing disabled", "error", err)
		return NoopPublisher{}, func() {}
	}
	paymentProducer, err := kafka.NewProducer(cfg, TopicPaymentEvents, TopicPaymentEventsDLQ)
	if err != nil {
		log.Error("Failed to create payment producer, event publishing disabled", "error", err)
		bookingProducer.Close()
		return NoopPublisher{}, func() {}
	}
	reconciliationProducer, err := kafka.NewProducer(cfg, TopicReconciliationEvents, "")
	if err != nil {
		log.Error("Failed to create reconciliation producer, event publishing disabled", "error", err)
		bookingProducer.Close()
		paymentProducer.Close()
		return NoopPublisher{}, func() {}
	}

	logging := kafka_middleware.LoggingProducerMiddleware(log)
	bookingProducer.Use(logging)
	paymentProducer.Use(logging)
	reconciliationProducer.Use(logging)

	log.Info("Kafka event publishing enabled", "source", source, "brokers", cfg.Brokers)

	closeAll := func() {
		if err := bookingProducer.Close(); err != nil {
			log.Error("Failed to close booking producer", "error", err)
		}
		if err := paymentProducer.Close(); err != nil {
			log.Error("Failed to close payment producer", "error", err)
		}
		if err := reconciliationProducer.Close(); err != nil {
			log.Error("Failed to close reconciliation producer", "error", err)
		}
	}

	return NewKafkaPublisher(bookingProducer, paymentProducer, reconciliationProducer, source, log), closeAll
}
