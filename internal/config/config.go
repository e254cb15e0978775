package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PGDSN               string
	MongoURI            string
	RedisAddr           string
	RabbitURL           string
	StripeKey           string
	StripeWebhookSecret string
	Currency            string
	QRSigningKey        string
	ArtifactBucket      string
	ArtifactEndpoint    string
	ArtifactRegion      string
	ArtifactAccessKey   string
	ArtifactSecretKey   string
	GatewayTimeout      time.Duration
	OTLPEndpoint        string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	gatewayTimeout, _ := time.ParseDuration(os.Getenv("GATEWAY_TIMEOUT"))
	if gatewayTimeout == 0 {
		gatewayTimeout = 30 * time.Second
	}

	currency := os.Getenv("CURRENCY")
	if currency == "" {
		currency = "usd"
	}

	return &Config{
		PGDSN:               os.Getenv("PG_DSN"),
		MongoURI:            os.Getenv("MONGO_URI"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RabbitURL:           os.Getenv("RABBIT_URL"),
		StripeKey:           os.Getenv("STRIPE_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:            currency,
		QRSigningKey:        os.Getenv("QR_SIGNING_KEY"),
		ArtifactBucket:      os.Getenv("ARTIFACT_BUCKET"),
		ArtifactEndpoint:    os.Getenv("ARTIFACT_ENDPOINT"),
		ArtifactRegion:      os.Getenv("ARTIFACT_REGION"),
		ArtifactAccessKey:   os.Getenv("ARTIFACT_ACCESS_KEY"),
		ArtifactSecretKey:   os.Getenv("ARTIFACT_SECRET_KEY"),
		GatewayTimeout:      gatewayTimeout,
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}
