// Package config loads hospitalcore settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HOSPITALCORE"

// Durable store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Config holds the process settings.
type Config struct {
	DurableDriver string `mapstructure:"DURABLE_DRIVER"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	PostgresDSN   string `mapstructure:"POSTGRES_DSN"`

	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle bool   `mapstructure:"S3_PATH_STYLE"`
	S3Prefix    string `mapstructure:"S3_PREFIX"`

	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	RemoteTimeout time.Duration `mapstructure:"REMOTE_TIMEOUT"`

	BreakerEnabled     bool          `mapstructure:"BREAKER_ENABLED"`
	BreakerMaxFailures uint32        `mapstructure:"BREAKER_MAX_FAILURES"`
	BreakerOpenTimeout time.Duration `mapstructure:"BREAKER_OPEN_TIMEOUT"`

	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
	MetricsAddr string `mapstructure:"METRICS_ADDR"`

	AutobillingEnabled        bool   `mapstructure:"AUTOBILLING_ENABLED"`
	AutobillingAppointments   bool   `mapstructure:"AUTOBILLING_APPOINTMENTS"`
	AutobillingMedicalRecords bool   `mapstructure:"AUTOBILLING_MEDICAL_RECORDS"`
	AutobillingPrescriptions  bool   `mapstructure:"AUTOBILLING_PRESCRIPTIONS"`
	AutobillingLabOrders      bool   `mapstructure:"AUTOBILLING_LAB_ORDERS"`
	AutobillingPaymentMethod  string `mapstructure:"AUTOBILLING_PAYMENT_METHOD"`
	// TariffPath names a YAML or JSON price list; empty uses the built-in one.
	TariffPath string `mapstructure:"TARIFF_PATH"`
}

var keys = []string{
	"DURABLE_DRIVER", "SQLITE_PATH", "POSTGRES_DSN",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE", "S3_PREFIX",
	"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	"REMOTE_TIMEOUT",
	"BREAKER_ENABLED", "BREAKER_MAX_FAILURES", "BREAKER_OPEN_TIMEOUT",
	"LOG_LEVEL", "LOG_FORMAT", "METRICS_ADDR",
	"AUTOBILLING_ENABLED", "AUTOBILLING_APPOINTMENTS", "AUTOBILLING_MEDICAL_RECORDS",
	"AUTOBILLING_PRESCRIPTIONS", "AUTOBILLING_LAB_ORDERS", "AUTOBILLING_PAYMENT_METHOD",
	"TARIFF_PATH",
}

// Load reads configuration from HOSPITALCORE_* environment variables, falling
// back to the .env file in the working directory and then to defaults.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is ignored.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("DURABLE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "hospitalcore.db")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_PREFIX", "hospitalcore")
	v.SetDefault("REMOTE_TIMEOUT", "5s")
	v.SetDefault("BREAKER_ENABLED", true)
	v.SetDefault("BREAKER_MAX_FAILURES", 5)
	v.SetDefault("BREAKER_OPEN_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("AUTOBILLING_ENABLED", false)
	v.SetDefault("AUTOBILLING_APPOINTMENTS", true)
	v.SetDefault("AUTOBILLING_MEDICAL_RECORDS", true)
	v.SetDefault("AUTOBILLING_PRESCRIPTIONS", true)
	v.SetDefault("AUTOBILLING_LAB_ORDERS", true)
	v.SetDefault("AUTOBILLING_PAYMENT_METHOD", "cash")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// Try reading the env file, but don't fail if missing
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DurableDriver = strings.ToLower(strings.TrimSpace(cfg.DurableDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected driver has what it needs.
func (c Config) Validate() error {
	switch c.DurableDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%s_POSTGRES_DSN is required when DURABLE_DRIVER is postgres", EnvPrefix)
		}
	case DriverS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("%s_S3_BUCKET is required when DURABLE_DRIVER is s3", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown durable driver %q", c.DurableDriver)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("%s_REMOTE_TIMEOUT must be positive", EnvPrefix)
	}
	return nil
}
