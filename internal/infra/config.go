package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/domain"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5435"`
	PGUser      string `env:"PGUSER" envDefault:"commission"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"commission"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"commission"`
	PGMaxConns  int32  `env:"PG_MAX_CONNS" envDefault:"20"`

	// MigrationsDir overrides the db/migrations lookup.
	MigrationsDir string `env:"MIGRATIONS_DIR"`

	// Redis balance projection
	RedisURL     string        `env:"REDIS_URL" envDefault:"redis://localhost:6380"`
	RedisEnabled bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RedisTTL     time.Duration `env:"REDIS_BALANCE_TTL" envDefault:"10m"`

	// JWT
	JWTSecret          string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTAgentExpiry     string `env:"JWT_AGENT_EXPIRY" envDefault:"24h"`
	JWTAffiliateExpiry string `env:"JWT_AFFILIATE_EXPIRY" envDefault:"12h"`
	JWTAdminExpiry     string `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`

	// Collaborator tokens for /internal routes
	ServiceTokenSecret string `env:"SERVICE_TOKEN_SECRET" envDefault:"change-me-in-production"`

	// Server
	APIPort int `env:"API_PORT" envDefault:"3100"`

	// Kafka
	KafkaBrokers     string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled     bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopicPrefix string `env:"KAFKA_TOPIC_PREFIX" envDefault:"commission"`

	// Outbox
	OutboxInProcess bool          `env:"OUTBOX_IN_PROCESS" envDefault:"false"`
	OutboxInterval  time.Duration `env:"OUTBOX_INTERVAL" envDefault:"500ms"`
	OutboxBatchSize int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// SMTP notifications
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"payouts@localhost"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// Payment processor
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	ProcessorFailures   int           `env:"PROCESSOR_CIRCUIT_THRESHOLD" envDefault:"5"`
	ProcessorResetAfter time.Duration `env:"PROCESSOR_CIRCUIT_RESET" envDefault:"30s"`

	// Payout engine
	SnowflakeNode       int64         `env:"SNOWFLAKE_NODE" envDefault:"1"`
	AllocationRetries   int           `env:"ALLOCATION_RETRY_ATTEMPTS" envDefault:"2"`
	PayoutRateLimit     int           `env:"PAYOUT_RATE_LIMIT" envDefault:"10"`
	PayoutRateWindow    time.Duration `env:"PAYOUT_RATE_WINDOW" envDefault:"1m"`
	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
	ReconcileBatchSize  int           `env:"RECONCILE_BATCH_SIZE" envDefault:"200"`
	ReconcileAutoRepair bool          `env:"RECONCILE_AUTO_REPAIR" envDefault:"false"`
	ReleaseDueInterval  time.Duration `env:"RELEASE_DUE_INTERVAL" envDefault:"1m"`

	// Tier minimums
	TierMinStarter  string `env:"TIER_MIN_STARTER" envDefault:"100"`
	TierMinBronze   string `env:"TIER_MIN_BRONZE" envDefault:"50"`
	TierMinSilver   string `env:"TIER_MIN_SILVER" envDefault:"25"`
	TierMinGold     string `env:"TIER_MIN_GOLD" envDefault:"10"`
	TierMinPlatinum string `env:"TIER_MIN_PLATINUM" envDefault:"1"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	if _, err := c.TierMinimums(); err != nil {
		return err
	}
	if c.AllocationRetries < 1 {
		return fmt.Errorf("ALLOCATION_RETRY_ATTEMPTS must be at least 1, got %d", c.AllocationRetries)
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if c.ServiceTokenSecret == "change-me-in-production" || len(c.ServiceTokenSecret) < 32 {
		return fmt.Errorf("SERVICE_TOKEN_SECRET must be set to at least 32 characters")
	}
	if c.ServiceTokenSecret == c.JWTSecret {
		return fmt.Errorf("SERVICE_TOKEN_SECRET must differ from JWT_SECRET")
	}
	return nil
}

// TierMinimums parses the configured per-tier payout thresholds.
func (c *Config) TierMinimums() (domain.TierMinimums, error) {
	raw := map[domain.Tier]string{
		domain.TierStarter:  c.TierMinStarter,
		domain.TierBronze:   c.TierMinBronze,
		domain.TierSilver:   c.TierMinSilver,
		domain.TierGold:     c.TierMinGold,
		domain.TierPlatinum: c.TierMinPlatinum,
	}
	out := make(domain.TierMinimums, len(raw))
	for tier, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("tier minimum for %s: %w", tier, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("tier minimum for %s must not be negative", tier)
		}
		out[tier] = d
	}
	return out, nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
