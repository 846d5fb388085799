package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port               int           `mapstructure:"port"`
		CorsAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
		CorsAllowedMethods []string      `mapstructure:"cors_allowed_methods"`
		CorsAllowedHeaders []string      `mapstructure:"cors_allowed_headers"`
		ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		MaxConns int32  `mapstructure:"max_conns"`
		MinConns int32  `mapstructure:"min_conns"`
	} `mapstructure:"database"`

	JWT struct {
		Secret          string `mapstructure:"secret"`
		ExpirationHours int    `mapstructure:"expiration_hours"`
		Issuer          string `mapstructure:"issuer"`
	} `mapstructure:"jwt"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Cache struct {
		KPITTL time.Duration `mapstructure:"kpi_ttl"`
	} `mapstructure:"cache"`

	Webhook struct {
		Secret          string `mapstructure:"secret"`
		Provider        string `mapstructure:"provider"`
		SignatureHeader string `mapstructure:"signature_header"`
		MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
	} `mapstructure:"webhook"`

	Ledger struct {
		DefaultCurrency string `mapstructure:"default_currency"`
		InvoiceAttempts int    `mapstructure:"invoice_attempts"`
		CompanyName     string `mapstructure:"company_name"`
	} `mapstructure:"ledger"`

	Occupancy struct {
		Timezone        string        `mapstructure:"timezone"`
		CalendarTimeout time.Duration `mapstructure:"calendar_timeout"`
		ICalStaleAfter  time.Duration `mapstructure:"ical_stale_after"`
		Concurrency     int           `mapstructure:"concurrency"`
		MaxRetries      int           `mapstructure:"max_retries"`
	} `mapstructure:"occupancy"`

	PMS struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
	} `mapstructure:"pms"`

	Renewal struct {
		MaxRenewals   int `mapstructure:"max_renewals"`
		WindowDays    int `mapstructure:"window_days"`
		DefaultMonths int `mapstructure:"default_months"`
	} `mapstructure:"renewal"`

	Scheduler struct {
		Enabled      bool   `mapstructure:"enabled"`
		SnapshotSpec string `mapstructure:"snapshot_spec"`
		ICalSyncSpec string `mapstructure:"ical_sync_spec"`
		ExportSpec   string `mapstructure:"export_spec"`
	} `mapstructure:"scheduler"`

	Storage StorageConfig `mapstructure:"storage"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Load reads configs/config.yaml (optional), .env (optional) and the
// environment. Environment keys use underscores, e.g. WEBHOOK_SECRET.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile("configs/config.yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat("configs/config.yaml"); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	// Override database settings from DB_* environment variables
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Database.Port = n
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if pass := os.Getenv("DB_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Database.Name = name
	}

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET not set")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Set sensible defaults (binary works without config file)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Authorization", "Content-Type"})
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "ledger_db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration_hours", 24)
	v.SetDefault("jwt.issuer", "ledger-backend")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.kpi_ttl", 60*time.Second)

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.provider", "moyasar")
	v.SetDefault("webhook.signature_header", "X-Signature")
	v.SetDefault("webhook.max_body_bytes", 1<<20)

	v.SetDefault("ledger.default_currency", "SAR")
	v.SetDefault("ledger.invoice_attempts", 5)
	v.SetDefault("ledger.company_name", "Property Ledger")

	v.SetDefault("occupancy.timezone", "Asia/Riyadh")
	v.SetDefault("occupancy.calendar_timeout", 10*time.Second)
	v.SetDefault("occupancy.ical_stale_after", 6*time.Hour)
	v.SetDefault("occupancy.concurrency", 8)
	v.SetDefault("occupancy.max_retries", 2)

	v.SetDefault("pms.base_url", "")
	v.SetDefault("pms.api_key", "")

	v.SetDefault("renewal.max_renewals", 3)
	v.SetDefault("renewal.window_days", 60)
	v.SetDefault("renewal.default_months", 12)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.snapshot_spec", "0 5 0 * * *")
	v.SetDefault("scheduler.ical_sync_spec", "0 */30 * * * *")
	v.SetDefault("scheduler.export_spec", "0 15 * * * *")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.public_base_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// DSN builds the postgres connection string
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
