package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (idempotency ledger, circuit state, rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Shared secrets for the external surface
	CronSecret    string // bearer secret for periodic trigger endpoints
	WebhookSecret string // HMAC secret for payment webhook signatures

	// Twilio (WhatsApp channel)
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string

	// Telegram bot channel
	TelegramBotToken string

	// AWS services (SNS for SMS, SES for email fallback, SQS for DLQ export)
	AWSRegion    string
	SESFromEmail string
	SQSDLQURL    string

	// Follow-up content generation
	AIEnabled    bool
	OpenAIAPIKey string
	OpenAIModel  string

	// Worker cadence
	DispatchInterval time.Duration // queue dispatcher period
	DetectorInterval time.Duration // stale conversation scan period
	DispatchBatch    int
	DetectorBatch    int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "relay",
		DBName:    "relay",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		TwilioWhatsAppNumber: "whatsapp:+14155238886",

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@relay.local",

		OpenAIModel: "gpt-4o-mini",

		DispatchInterval: 5 * time.Minute,
		DetectorInterval: 1 * time.Hour,
		DispatchBatch:    20,
		DetectorBatch:    50,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")

	cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	if num := os.Getenv("TWILIO_WHATSAPP_NUMBER"); num != "" {
		cfg.TwilioWhatsAppNumber = num
	}

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if url := os.Getenv("SQS_DLQ_URL"); url != "" {
		cfg.SQSDLQURL = url
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAIAPIKey = key
		cfg.AIEnabled = true
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.OpenAIModel = model
	}

	if interval := os.Getenv("DISPATCH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_INTERVAL: %w", err)
		}
		cfg.DispatchInterval = d
	}

	if interval := os.Getenv("DETECTOR_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid DETECTOR_INTERVAL: %w", err)
		}
		cfg.DetectorInterval = d
	}

	if batch := os.Getenv("DISPATCH_BATCH"); batch != "" {
		b, err := strconv.Atoi(batch)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_BATCH: %w", err)
		}
		cfg.DispatchBatch = b
	}

	if batch := os.Getenv("DETECTOR_BATCH"); batch != "" {
		b, err := strconv.Atoi(batch)
		if err != nil {
			return nil, fmt.Errorf("invalid DETECTOR_BATCH: %w", err)
		}
		cfg.DetectorBatch = b
	}

	return cfg, nil
}
