// Package config loads tillpos settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, variables from
// a .env file, the process environment (TILLPOS_*), command-line flags. The
// last step belongs to the CLI; this package handles the rest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TILLPOS_"

type Config struct {
	Till  TillConfig  `yaml:"till"`
	Sync  SyncConfig  `yaml:"sync"`
	Cloud CloudConfig `yaml:"cloud"`
	Log   LogConfig   `yaml:"log"`
}

type TillConfig struct {
	ID                   string          `yaml:"id"`
	DB                   string          `yaml:"db"`
	ServiceChargePercent decimal.Decimal `yaml:"service_charge_percent"`
	Venue                string          `yaml:"venue"`
}

type SyncConfig struct {
	URL       string        `yaml:"url"`
	Token     string        `yaml:"token"`
	TenantID  string        `yaml:"tenant_id"`
	APIKey    string        `yaml:"api_key"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Retention time.Duration `yaml:"retention"`
}

// Enabled reports whether a cloud URL is configured.
func (s SyncConfig) Enabled() bool { return s.URL != "" }

type CloudConfig struct {
	Listen       string        `yaml:"listen"`
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	AdminKey     string        `yaml:"admin_key"`
	RedisAddr    string        `yaml:"redis_addr"`
	AMQPURL      string        `yaml:"amqp_url"`
	AMQPExchange string        `yaml:"amqp_exchange"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings used when nothing else is given.
func Default() Config {
	return Config{
		Till: TillConfig{ID: "till-1", DB: "tillpos.db"},
		Sync: SyncConfig{
			Interval:  30 * time.Second,
			BatchSize: 100,
			Timeout:   15 * time.Second,
			Retention: 7 * 24 * time.Hour,
		},
		Cloud: CloudConfig{
			Listen:       ":8080",
			Driver:       "sqlite",
			DSN:          "tillpos-cloud.db",
			TokenTTL:     12 * time.Hour,
			AMQPExchange: "tillpos.events",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the YAML file at path, envFile and the
// environment. A missing file at either path is not an error; an empty path
// skips that source.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component could run with.
func (c Config) Validate() error {
	var errs []error
	if c.Till.ID == "" {
		errs = append(errs, errors.New("till.id is required"))
	}
	if c.Till.ServiceChargePercent.IsNegative() {
		errs = append(errs, errors.New("till.service_charge_percent must not be negative"))
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize))
	}
	if c.Sync.Interval <= 0 || c.Sync.Timeout <= 0 {
		errs = append(errs, errors.New("sync.interval and sync.timeout must be positive"))
	}
	switch c.Cloud.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("cloud.driver must be sqlite or mysql, got %q", c.Cloud.Driver))
	}
	return errors.Join(errs...)
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("TILL_ID", &c.Till.ID)
	str("TILL_DB", &c.Till.DB)
	str("TILL_VENUE", &c.Till.Venue)
	if v, ok := lookup(EnvPrefix + "TILL_SERVICE_CHARGE_PERCENT"); ok {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sTILL_SERVICE_CHARGE_PERCENT: %w", EnvPrefix, err)
		}
		c.Till.ServiceChargePercent = d
	}

	str("SYNC_URL", &c.Sync.URL)
	str("SYNC_TOKEN", &c.Sync.Token)
	str("SYNC_TENANT_ID", &c.Sync.TenantID)
	str("SYNC_API_KEY", &c.Sync.APIKey)
	if v, ok := lookup(EnvPrefix + "SYNC_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sSYNC_BATCH_SIZE: %w", EnvPrefix, err)
		}
		c.Sync.BatchSize = n
	}

	str("CLOUD_LISTEN", &c.Cloud.Listen)
	str("CLOUD_DRIVER", &c.Cloud.Driver)
	str("CLOUD_DSN", &c.Cloud.DSN)
	str("CLOUD_JWT_SECRET", &c.Cloud.JWTSecret)
	str("CLOUD_ADMIN_KEY", &c.Cloud.AdminKey)
	str("CLOUD_REDIS_ADDR", &c.Cloud.RedisAddr)
	str("CLOUD_AMQP_URL", &c.Cloud.AMQPURL)
	str("CLOUD_AMQP_EXCHANGE", &c.Cloud.AMQPExchange)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	for key, dst := range map[string]*time.Duration{
		"SYNC_INTERVAL":   &c.Sync.Interval,
		"SYNC_TIMEOUT":    &c.Sync.Timeout,
		"SYNC_RETENTION":  &c.Sync.Retention,
		"CLOUD_TOKEN_TTL": &c.Cloud.TokenTTL,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}
