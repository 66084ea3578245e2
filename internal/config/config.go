// Package config provides configuration loading for finzcore.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"finzcore/internal/kv"
)

// Config is the complete finzcore configuration.
type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	Storage    StorageConfig  `yaml:"storage"`
	Tables     TablesConfig   `yaml:"tables"`
	Audit      AuditConfig    `yaml:"audit"`
	Resolver   ResolverConfig `yaml:"resolver"`
}

// StorageConfig selects and parameterizes the kv backend.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres, dynamo.
	Driver      string       `yaml:"driver"`
	SQLitePath  string       `yaml:"sqlite_path"`
	PostgresDSN string       `yaml:"postgres_dsn"`
	Dynamo      DynamoConfig `yaml:"dynamo"`
}

// DynamoConfig holds DynamoDB connection settings.
type DynamoConfig struct {
	Region string `yaml:"region"`
	// Endpoint overrides the service endpoint, for local emulators.
	Endpoint string `yaml:"endpoint"`
}

// TablesConfig names the backing tables.
type TablesConfig struct {
	Projects    string `yaml:"projects"`
	Idempotency string `yaml:"idempotency"`
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	// Driver is one of nop, memory, nats.
	Driver  string `yaml:"driver"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ResolverConfig bounds the baseline redirect scan.
type ResolverConfig struct {
	ScanPageLimit int `yaml:"scan_page_limit"`
	MaxScanPages  int `yaml:"max_scan_pages"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		Storage: StorageConfig{
			Driver:     string(kv.DriverSQLite),
			SQLitePath: "finzcore.db",
			Dynamo: DynamoConfig{
				Region: "us-east-2",
			},
		},
		Tables: TablesConfig{
			Projects:    "finz_projects",
			Idempotency: "finz_idempotency",
		},
		Audit: AuditConfig{
			Driver:  "nop",
			Subject: "finz.audit",
		},
		Resolver: ResolverConfig{
			ScanPageLimit: 250,
			MaxScanPages:  8,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// when path is non-empty, then FINZCORE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers FINZCORE_* environment variables over the loaded values.
func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "FINZCORE_LISTEN_ADDR")
	setString(&c.Storage.Driver, "FINZCORE_KV_DRIVER")
	setString(&c.Storage.SQLitePath, "FINZCORE_SQLITE_PATH")
	setString(&c.Storage.PostgresDSN, "FINZCORE_POSTGRES_DSN")
	setString(&c.Storage.Dynamo.Region, "FINZCORE_DYNAMO_REGION")
	setString(&c.Storage.Dynamo.Endpoint, "FINZCORE_DYNAMO_ENDPOINT")
	setString(&c.Tables.Projects, "FINZCORE_TABLE_PROJECTS")
	setString(&c.Tables.Idempotency, "FINZCORE_TABLE_IDEMPOTENCY")
	setString(&c.Audit.Driver, "FINZCORE_AUDIT_DRIVER")
	setString(&c.Audit.NATSURL, "FINZCORE_NATS_URL")
	setString(&c.Audit.Subject, "FINZCORE_AUDIT_SUBJECT")
	setInt(&c.Resolver.ScanPageLimit, "FINZCORE_SCAN_PAGE_LIMIT")
	setInt(&c.Resolver.MaxScanPages, "FINZCORE_MAX_SCAN_PAGES")
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch kv.Driver(c.Storage.Driver) {
	case kv.DriverMemory, kv.DriverSQLite, kv.DriverPostgres, kv.DriverDynamo:
	default:
		return fmt.Errorf("storage.driver must be one of memory, sqlite, postgres, dynamo; got %q", c.Storage.Driver)
	}
	switch c.Audit.Driver {
	case "nop", "memory", "nats":
	default:
		return fmt.Errorf("audit.driver must be one of nop, memory, nats; got %q", c.Audit.Driver)
	}
	if c.Tables.Projects == "" || c.Tables.Idempotency == "" {
		return fmt.Errorf("tables.projects and tables.idempotency are required")
	}
	if c.Resolver.ScanPageLimit < 1 {
		return fmt.Errorf("resolver.scan_page_limit must be positive")
	}
	if c.Resolver.MaxScanPages < 1 {
		return fmt.Errorf("resolver.max_scan_pages must be positive")
	}
	return nil
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
