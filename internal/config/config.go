package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	LogLevel     string
	ListenAddr   string
	ProcessorURL string

	// DisputeWindow is how long after the performance end either party may
	// block the fee release.
	DisputeWindow time.Duration
	// SweepInterval is how often the escrow worker re-derives releasable fees.
	SweepInterval  time.Duration
	IdempotencyTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	disputeWindow, _ := time.ParseDuration(os.Getenv("DISPUTE_WINDOW"))
	if disputeWindow == 0 {
		disputeWindow = 48 * time.Hour
	}
	sweepInterval, _ := time.ParseDuration(os.Getenv("SWEEP_INTERVAL"))
	if sweepInterval == 0 {
		sweepInterval = time.Minute
	}
	idempTTL, _ := time.ParseDuration(os.Getenv("IDEMPOTENCY_TTL"))
	if idempTTL == 0 {
		idempTTL = time.Hour
	}
	mongoDB := os.Getenv("MONGO_DB")
	if mongoDB == "" {
		mongoDB = "gigs"
	}
	listen := os.Getenv("LISTEN_ADDR")
	if listen == "" {
		listen = ":8080"
	}
	processorURL := os.Getenv("PROCESSOR_URL")
	if processorURL == "" {
		processorURL = "http://localhost:9090"
	}

	return &Config{
		CRDBDSN:        os.Getenv("CRDB_DSN"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        mongoDB,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBIT_URL"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		ListenAddr:     listen,
		ProcessorURL:   processorURL,
		DisputeWindow:  disputeWindow,
		SweepInterval:  sweepInterval,
		IdempotencyTTL: idempTTL,
	}, nil
}
