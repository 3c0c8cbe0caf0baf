package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"medbook/pkg/client"
	"medbook/pkg/logger"
)

type Config struct {
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	Port string

	GatewayBaseURL       string
	GatewayWebhookSecret string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	ServiceChargeRate   float64
	AllocationAttempts  int
	AllocationBackoff   time.Duration
	TransitionLockTTL   time.Duration
	ExpirySweepInterval time.Duration
	HighSeverityAmount  float64
	MaxBookingQuantity  int

	Log    *logger.Logger
	Client *client.Client
}

func Load(serviceName string) *Config {
	cfg := &Config{
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		Port: getEnvStr(EnvPort, DefaultPort),

		GatewayBaseURL:       getEnvStr(EnvGatewayBaseURL, DefaultGatewayBaseURL),
		GatewayWebhookSecret: getEnvStr(EnvGatewayWebhookSecret, ""),

		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		ServiceChargeRate:   getEnvFloat(EnvServiceChargeRate, DefaultServiceChargeRate),
		AllocationAttempts:  getEnvNum(EnvAllocationAttempts, DefaultAllocationAttempts),
		AllocationBackoff:   getEnvDuration(EnvAllocationBackoff, DefaultAllocationBackoff),
		TransitionLockTTL:   getEnvDuration(EnvTransitionLockTTL, DefaultTransitionLockTTL),
		ExpirySweepInterval: getEnvDuration(EnvExpirySweepInterval, DefaultExpirySweepInterval),
		HighSeverityAmount:  getEnvFloat(EnvHighSeverityAmount, DefaultHighSeverityAmount),
		MaxBookingQuantity:  getEnvNum(EnvMaxBookingQuantity, DefaultMaxBookingQuantity),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
			Format:    logger.JSON,
			AddSource: true,
			Service:   serviceName,
		}),
		Client: client.NewClient(),
	}

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

func (cfg *Config) SetGateway() {
	cfg.Client.SetGateway(cfg.GatewayBaseURL)
}

func (cfg *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	if cfg.MongoURI == "" {
		problems = append(problems, "MongoURI cannot be empty")
	} else if !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
		problems = append(problems, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", cfg.MongoURI))
	}

	if cfg.MongoDatabaseName == "" {
		problems = append(problems, "MongoDatabaseName cannot be empty")
	}

	if cfg.MongoConnTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
	}
	if cfg.RateLimitWindow <= 0 {
		problems = append(problems, fmt.Sprintf("RateLimitWindow must be positive, got: %s", cfg.RateLimitWindow))
	}
	if cfg.RequestTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("RequestTimeout must be positive, got: %s", cfg.RequestTimeout))
	}
	if cfg.IdempotencyTTL <= 0 {
		problems = append(problems, fmt.Sprintf("IdempotencyTTL must be positive, got: %s", cfg.IdempotencyTTL))
	}
	if cfg.ReadTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("ReadTimeout must be positive, got: %s", cfg.ReadTimeout))
	}
	if cfg.WriteTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("WriteTimeout must be positive, got: %s", cfg.WriteTimeout))
	}
	if cfg.IdleTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("IdleTimeout must be positive, got: %s", cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("ShutdownTimeout must be positive, got: %s", cfg.ShutdownTimeout))
	}
	if cfg.RateLimitRequests <= 0 {
		problems = append(problems, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}
	if cfg.MaxRequestSize <= 0 {
		problems = append(problems, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}

	if cfg.ServiceChargeRate < MinServiceChargeRate || cfg.ServiceChargeRate > MaxServiceChargeRate {
		problems = append(problems, fmt.Sprintf("ServiceChargeRate must be in [%v, %v], got: %v",
			MinServiceChargeRate, MaxServiceChargeRate, cfg.ServiceChargeRate))
	}
	if cfg.AllocationAttempts < 1 {
		problems = append(problems, fmt.Sprintf("AllocationAttempts must be at least 1, got: %d", cfg.AllocationAttempts))
	}
	if cfg.AllocationBackoff < 0 {
		problems = append(problems, fmt.Sprintf("AllocationBackoff cannot be negative, got: %s", cfg.AllocationBackoff))
	}
	if cfg.TransitionLockTTL <= 0 {
		problems = append(problems, fmt.Sprintf("TransitionLockTTL must be positive, got: %s", cfg.TransitionLockTTL))
	}
	if cfg.ExpirySweepInterval <= 0 {
		problems = append(problems, fmt.Sprintf("ExpirySweepInterval must be positive, got: %s", cfg.ExpirySweepInterval))
	}
	if cfg.HighSeverityAmount <= 0 {
		problems = append(problems, fmt.Sprintf("HighSeverityAmount must be positive, got: %v", cfg.HighSeverityAmount))
	}
	if cfg.MaxBookingQuantity < 1 {
		problems = append(problems, fmt.Sprintf("MaxBookingQuantity must be at least 1, got: %d", cfg.MaxBookingQuantity))
	}

	if len(problems) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, p := range problems {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, p)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"port", cfg.Port,
		"gateway_base_url", cfg.GatewayBaseURL,
		"gateway_webhook_secret_set", cfg.GatewayWebhookSecret != "",
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"service_charge_rate", cfg.ServiceChargeRate,
		"allocation_attempts", cfg.AllocationAttempts,
		"allocation_backoff", cfg.AllocationBackoff,
		"transition_lock_ttl", cfg.TransitionLockTTL,
		"expiry_sweep_interval", cfg.ExpirySweepInterval,
		"high_severity_amount", cfg.HighSeverityAmount,
		"max_booking_quantity", cfg.MaxBookingQuantity,
	)
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown()
}

func NormalizePaginationLimit(limit int) int {
	if limit <= 0 {
		limit = 10
	} else if limit > DefaultPaginationLimit {
		limit = DefaultPaginationLimit
	}
	return limit
}

func NormalizeOffset(offset int64) int64 {
	return max(0, offset)
}
