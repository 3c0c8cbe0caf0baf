package notifications

import (
	"context"

	"medbook/pkg/kafka"
	"medbook/pkg/logger"
)

// Publisher emits platform events. Publishing is fire-and-forget: the
// core operation has already committed, so delivery failures are logged
// and never propagated back to the caller.
type Publisher interface {
	PublishBookingEvent(ctx context.Context, eventType string, event BookingEvent)
	PublishPaymentEvent(ctx context.Context, eventType string, event PaymentEvent)
	PublishDiscrepancyEvent(ctx context.Context, event DiscrepancyEvent)
}

type kafkaPublisher struct {
	bookingProducer        *kafka.Producer
	paymentProducer        *kafka.Producer
	reconciliationProducer *kafka.Producer
	source                 string
	log                    *logger.Logger
}

func NewKafkaPublisher(bookingProducer, paymentProducer, reconciliationProducer *kafka.Producer, source string, log *logger.Logger) Publisher {
	return &kafkaPublisher{
		bookingProducer:        bookingProducer,
		paymentProducer:        paymentProducer,
		reconciliationProducer: reconciliationProducer,
		source:                 source,
		log:                    log,
	}
}

func (p *kafkaPublisher) PublishBookingEvent(ctx context.Context, eventType string, event BookingEvent) {
	p.publish(ctx, p.bookingProducer, eventType, event.BookingID, event)
}

func (p *kafkaPublisher) PublishPaymentEvent(ctx context.Context, eventType string, event PaymentEvent) {
	p.publish(ctx, p.paymentProducer, eventType, event.TransactionID, event)
}

func (p *kafkaPublisher) PublishDiscrepancyEvent(ctx context.Context, event DiscrepancyEvent) {
	p.publish(ctx, p.reconciliationProducer, EventDiscrepancyFound, event.BalanceID, event)
}

func (p *kafkaPublisher) publish(ctx context.Context, producer *kafka.Producer, eventType, key string, payload any) {
	if producer == nil {
		return
	}

	msg, err := kafka.NewMessage().
		WithKey(key).
		WithValue(payload).
		WithEventType(eventType).
		WithSource(p.source).
		WithSchemaVersion("1").
		Build()
	if err != nil {
		p.log.Error("Failed to build notification message",
			"event_type", eventType,
			"key", key,
			"error", err,
		)
		return
	}

	if err := producer.Publish(ctx, msg); err != nil {
		p.log.Error("Failed to publish notification",
			"event_type", eventType,
			"key", key,
			"error", err,
		)
		return
	}

	p.log.Debug("Notification published",
		"event_type", eventType,
		"key", key,
	)
}

// NoopPublisher drops all events. Used where no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishBookingEvent(context.Context, string, BookingEvent) {}
func (NoopPublisher) PublishPaymentEvent(context.Context, string, PaymentEvent) {}
func (NoopPublisher) PublishDiscrepancyEvent(context.Context, DiscrepancyEvent) {}
