package notifications

import (
	"context"
	"fmt"

	"medbook/pkg/kafka"
	"medbook/pkg/logger"
)

// Dispatcher turns consumed platform events into user-facing
// notifications. Delivery is a structured log line for now; the channel
// integration (SMS, push) sits behind the same entry points.
type Dispatcher struct {
	log *logger.Logger
}

func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

// HandleBookingMessage is the consumer handler for the booking events
// topic. Decode failures are permanent: retrying a malformed payload can
// never succeed, so it goes straight to the DLQ.
func (d *Dispatcher) HandleBookingMessage(ctx context.Context, msg kafka.Message) error {
	var event BookingEvent
	if err := msg.DecodeValue(&event); err != nil {
		return kafka.NewPermanentError("failed to decode booking event", err)
	}

	d.log.Info("Booking notification dispatched",
		"event_type", msg.GetEventType(),
		"event_id", msg.GetEventID(),
		"booking_id", event.BookingID,
		"hospital_id", event.HospitalID,
		"user_id", event.UserID,
		"status", event.Status,
		"message", bookingMessage(msg.GetEventType(), event),
	)
	return nil
}

// HandlePaymentMessage is the consumer handler for the payment events
// topic.
func (d *Dispatcher) HandlePaymentMessage(ctx context.Context, msg kafka.Message) error {
	var event PaymentEvent
	if err := msg.DecodeValue(&event); err != nil {
		return kafka.NewPermanentError("failed to decode payment event", err)
	}

	d.log.Info("Payment notification dispatched",
		"event_type", msg.GetEventType(),
		"event_id", msg.GetEventID(),
		"transaction_id", event.TransactionID,
		"booking_id", event.BookingID,
		"user_id", event.UserID,
		"amount", event.Amount,
		"message", paymentMessage(msg.GetEventType(), event),
	)
	return nil
}

func bookingMessage(eventType string, event BookingEvent) string {
	switch eventType {
	case EventBookingCreated:
		return fmt.Sprintf("Your %s booking request was received and is pending approval.", event.ResourceType)
	case EventBookingApproved:
		return fmt.Sprintf("Your %s booking was approved. Please complete payment.", event.ResourceType)
	case EventBookingDeclined:
		return fmt.Sprintf("Your %s booking was declined: %s", event.ResourceType, event.Reason)
	case EventBookingCancelled:
		return fmt.Sprintf("Your %s booking was cancelled.", event.ResourceType)
	case EventBookingCompleted:
		return fmt.Sprintf("Your %s booking is complete. Thank you.", event.ResourceType)
	case EventBookingExpired:
		return fmt.Sprintf("Your approved %s booking passed its scheduled window and was closed.", event.ResourceType)
	default:
		return fmt.Sprintf("Your %s booking is now %s.", event.ResourceType, event.Status)
	}
}

func paymentMessage(eventType string, event PaymentEvent) string {
	switch eventType {
	case EventPaymentCompleted:
		return fmt.Sprintf("Payment of %.2f received for booking %s.", event.Amount, event.BookingID)
	case EventPaymentFailed:
		return fmt.Sprintf("Payment for booking %s failed: %s", event.BookingID, event.Reason)
	case EventPaymentRefunded:
		return fmt.Sprintf("A refund for booking %s was processed.", event.BookingID)
	case EventDistributionCompleted:
		return fmt.Sprintf("Settlement for transaction %s completed.", event.TransactionID)
	default:
		return fmt.Sprintf("Payment update for booking %s: %s.", event.BookingID, event.Status)
	}
}
