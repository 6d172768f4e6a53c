package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"school_mailman/internal/domain/mail"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ProviderSendGrid = "sendgrid"
	ProviderLog      = "log"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	// AutoMigrate applies migrations on startup; used for local sqlite runs.
	AutoMigrate bool `env:"DATABASE_AUTO_MIGRATE" envDefault:"false"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	Environment  string `env:"ENVIRONMENT" envDefault:"development"`
	BuildVersion string `env:"BUILD_VERSION" envDefault:"dev"`
	TimeZone     string `env:"TIMEZONE" envDefault:"UTC"`

	CronSpecReminders string        `env:"CRON_SPEC_REMINDERS" envDefault:"0 * * * *"`
	CronSpecNurturing string        `env:"CRON_SPEC_NURTURING" envDefault:"0 10 * * *"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT" envDefault:"10m"`

	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	AMQPURL   string `env:"AMQP_URL"`
	AMQPQueue string `env:"AMQP_QUEUE" envDefault:"mailman.events"`

	Email     Email     `envPrefix:"EMAIL_"`
	Templates Templates `envPrefix:"TEMPLATE_"`

	SendGridAPIKey  string `env:"SENDGRID_API_KEY"`
	FrontendBaseURL string `env:"FRONTEND_BASE_URL" envDefault:"http://localhost:3000"`
	CampaignsFile   string `env:"CAMPAIGNS_FILE"`

	RollbarToken    string `env:"ROLLBAR_TOKEN"`
	TelegramToken   string `env:"TELEGRAM_TOKEN"`
	AdminTelegramID int64  `env:"ADMIN_TELEGRAM_ID"`
	OTelEndpoint    string `env:"OTEL_ENDPOINT"`

	location *time.Location
}

// Email configures the notification sink.
type Email struct {
	Provider    string        `env:"PROVIDER" envDefault:"log"`
	Sandbox     bool          `env:"SANDBOX" envDefault:"true"`
	BatchSize   int           `env:"BATCH_SIZE" envDefault:"750"`
	MinInterval time.Duration `env:"MIN_INTERVAL" envDefault:"100ms"`
	FromAddress string        `env:"FROM_ADDRESS" envDefault:"no-reply@example.com"`
	FromName    string        `env:"FROM_NAME" envDefault:"Mailman"`
}

// Templates maps each reminder and event email to a provider template.
type Templates struct {
	PreClass          string `env:"PRE_CLASS" envDefault:"d-1b7e3f2a9c4d4e6f8a0b2c4d6e8f0a12"`
	PostClass         string `env:"POST_CLASS" envDefault:"d-2c8f4a3b0d5e4f7a9b1c3d5e7f9a1b23"`
	NoShow            string `env:"NO_SHOW" envDefault:"d-3d9a5b4c1e6f4a8b0c2d4e6f8a0b2c34"`
	TeacherSchedule   string `env:"TEACHER_SCHEDULE" envDefault:"d-4e0b6c5d2f7a4b9c1d3e5f7a9b1c3d45"`
	TeacherReflection string `env:"TEACHER_REFLECTION" envDefault:"d-5f1c7d6e3a8b4c0d2e4f6a8b0c2d4e56"`
	Credits           string `env:"CREDITS" envDefault:"d-6a2d8e7f4b9c4d1e3f5a7b9c1d3e5f67"`
	ClassroomActivity string `env:"CLASSROOM_ACTIVITY" envDefault:"d-7b3e9f8a5c0d4e2f4a6b8c0d2e4f6a78"`
	AutoEnroll        string `env:"AUTO_ENROLL" envDefault:"d-8c4f0a9b6d1e4f3a5b7c9d1e3f5a7b89"`
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.Environment = strings.ToLower(c.Environment)
	c.DatabaseDriver = strings.ToLower(c.DatabaseDriver)
	c.Email.Provider = strings.ToLower(c.Email.Provider)

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.Email.Provider {
	case ProviderSendGrid:
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is not set")
		}
	case ProviderLog:
	default:
		return fmt.Errorf("unsupported EMAIL_PROVIDER %q", c.Email.Provider)
	}
	if c.Email.BatchSize < 1 || c.Email.BatchSize > mail.DefaultBatchLimit {
		return fmt.Errorf("EMAIL_BATCH_SIZE must be within 1..%d, got %d", mail.DefaultBatchLimit, c.Email.BatchSize)
	}
	if c.Email.MinInterval < 0 {
		return fmt.Errorf("EMAIL_MIN_INTERVAL must not be negative")
	}

	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	c.location = loc

	if c.TelegramToken != "" && c.AdminTelegramID == 0 {
		return fmt.Errorf("ADMIN_TELEGRAM_ID is required when TELEGRAM_TOKEN is set")
	}
	return nil
}

// Location is the zone reminder windows are computed in.
func (c *AppConfig) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
