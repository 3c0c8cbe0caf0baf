package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvGatewayBaseURL       = "GATEWAY_BASE_URL"
	EnvGatewayWebhookSecret = "GATEWAY_WEBHOOK_SECRET"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvServiceChargeRate   = "SERVICE_CHARGE_RATE"
	EnvAllocationAttempts  = "ALLOCATION_RETRY_ATTEMPTS"
	EnvAllocationBackoff   = "ALLOCATION_RETRY_BACKOFF"
	EnvTransitionLockTTL   = "TRANSITION_LOCK_TTL"
	EnvExpirySweepInterval = "EXPIRY_SWEEP_INTERVAL"
	EnvHighSeverityAmount  = "HIGH_SEVERITY_AMOUNT"
	EnvMaxBookingQuantity  = "MAX_BOOKING_QUANTITY"
)
