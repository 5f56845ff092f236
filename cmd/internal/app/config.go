package app

import (
	"strings"
	"time"

	"cupid/cmd/internal/invitation"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"CUPID_HTTP_ADDR"  envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"CUPID_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"CUPID_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"CUPID_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"CUPID_HTTP_READ_TIMEOUT"        envDefault:"15s"`
	WriteTimeout      time.Duration `env:"CUPID_HTTP_WRITE_TIMEOUT"       envDefault:"15s"`
	IdleTimeout       time.Duration `env:"CUPID_HTTP_IDLE_TIMEOUT"        envDefault:"60s"`
	MaxHeaderBytes    int           `env:"CUPID_HTTP_MAX_HEADER_BYTES"    envDefault:"1048576"`
	APIMaxBodyBytes   int64         `env:"CUPID_API_MAX_BODY_BYTES"       envDefault:"65536"`

	// The Postgres store needs both the URL and the service credential. The credential
	// becomes the connection password when the URL carries none.
	DatabaseURL        string `env:"CUPID_DATABASE_URL"`
	DatabaseServiceKey string `env:"CUPID_DATABASE_SERVICE_KEY"`
	DatabaseSchema     string `env:"CUPID_DATABASE_SCHEMA"       envDefault:"cupid"`
	DBApplySchema      bool   `env:"CUPID_DB_APPLY_SCHEMA"       envDefault:"true"`
	DBMaxConns         int32  `env:"CUPID_DB_MAX_CONNS"          envDefault:"10"`
	DBMinConns         int32  `env:"CUPID_DB_MIN_CONNS"          envDefault:"0"`

	// DevInMemory backs the service with the in-process store when no database is configured.
	DevInMemory bool `env:"CUPID_DEV_INMEMORY"`

	// If true, /readyz returns 503 unless the store is configured and reachable.
	ReadinessRequireDB bool `env:"CUPID_READINESS_REQUIRE_DB"`

	PaymentWebhookSecret    string        `env:"CUPID_PAYMENT_WEBHOOK_SECRET"`
	PaymentWebhookTolerance time.Duration `env:"CUPID_PAYMENT_WEBHOOK_TOLERANCE" envDefault:"5m"`
	PaymentAPIKey           string        `env:"CUPID_PAYMENT_API_KEY"`
	PaymentAPIBaseURL       string        `env:"CUPID_PAYMENT_API_BASE_URL"`
	PaymentPriceBasic       string        `env:"CUPID_PAYMENT_PRICE_BASIC"`
	PaymentPriceSpy         string        `env:"CUPID_PAYMENT_PRICE_SPY"`

	// Security policy: when true, CUPID_TOKEN_HMAC_KEY must be set (>= 32 bytes)
	// and admin-token hashing must be HMAC-based.
	RequireTokenHMAC bool `env:"CUPID_REQUIRE_TOKEN_HMAC"`

	WSAllowedOrigins    []string      `env:"CUPID_WS_ALLOWED_ORIGINS"     envSeparator:","`
	WSOriginRequired    bool          `env:"CUPID_WS_ORIGIN_REQUIRED"`
	WSDevInsecure       bool          `env:"CUPID_WS_DEV_INSECURE"`
	WSHeartbeatInterval time.Duration `env:"CUPID_WS_HEARTBEAT_INTERVAL" envDefault:"25s"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	return cfg, nil
}

// PaymentPrices maps plans to the configured processor price ids.
func (c Config) PaymentPrices() map[invitation.Plan]string {
	return map[invitation.Plan]string{
		invitation.PlanBasic: c.PaymentPriceBasic,
		invitation.PlanSpy:   c.PaymentPriceSpy,
	}
}
