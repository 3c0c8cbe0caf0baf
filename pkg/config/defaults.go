package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "medbook"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultGatewayBaseURL = "http://localhost:9200"

	DefaultRateLimitRequests = 20
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Platform cut of a booking payment when the hospital has no
	// configured rate. Rates outside [MinServiceChargeRate,
	// MaxServiceChargeRate] are rejected at capture time.
	DefaultServiceChargeRate = 0.05
	MinServiceChargeRate     = 0.0
	MaxServiceChargeRate     = 0.5

	// Bounded retry budget for contended pool/balance mutations.
	DefaultAllocationAttempts = 3
	DefaultAllocationBackoff  = 50 * time.Millisecond

	// Advisory lock lifetime for booking transitions. Long enough to
	// cover one transaction, short enough that a crashed holder does not
	// wedge the booking.
	DefaultTransitionLockTTL = 10 * time.Second

	// How often the bookings service sweeps approved bookings past their
	// payment window.
	DefaultExpirySweepInterval = 1 * time.Minute

	// Discrepancies above this absolute amount are HIGH severity.
	DefaultHighSeverityAmount = 1000.0

	DefaultMaxBookingQuantity = 50

	DefaultPaginationLimit = 100
)
