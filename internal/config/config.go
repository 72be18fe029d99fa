// Package config loads refine run settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Accepted values for the enumerated keys.
var (
	StorageKinds   = []string{"sqlite", "postgres", "mssql"}
	UploadKinds    = []string{"none", "dir", "s3"}
	MetricsKinds   = []string{"none", "datadog", "pushgateway"}
	defaultDBFile  = "db.libsql"
	defaultGateway = "https://ipfs.io/ipfs"
)

type Config struct {
	InputDir  string `mapstructure:"INPUT_DIR"`
	OutputDir string `mapstructure:"OUTPUT_DIR"`

	StorageKind string `mapstructure:"STORAGE_KIND"`
	StorageDSN  string `mapstructure:"STORAGE_DSN"`

	SchemaName        string `mapstructure:"SCHEMA_NAME"`
	SchemaVersion     string `mapstructure:"SCHEMA_VERSION"`
	SchemaDescription string `mapstructure:"SCHEMA_DESCRIPTION"`
	SchemaDialect     string `mapstructure:"SCHEMA_DIALECT"`

	EncryptionKey string `mapstructure:"REFINEMENT_ENCRYPTION_KEY"`

	UploadKind  string `mapstructure:"UPLOAD_KIND"`
	UploadDir   string `mapstructure:"UPLOAD_DIR"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3Prefix    string `mapstructure:"S3_PREFIX"`
	S3PathStyle bool   `mapstructure:"S3_PATH_STYLE"`
	GatewayURL  string `mapstructure:"GATEWAY_URL"`

	MetricsBackend string `mapstructure:"METRICS_BACKEND"`
	PushgatewayURL string `mapstructure:"PUSHGATEWAY_URL"`
	MetricsTags    string `mapstructure:"METRICS_TAGS"`
	JobName        string `mapstructure:"JOB_NAME"`

	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

var keys = []string{
	"INPUT_DIR", "OUTPUT_DIR",
	"STORAGE_KIND", "STORAGE_DSN",
	"SCHEMA_NAME", "SCHEMA_VERSION", "SCHEMA_DESCRIPTION", "SCHEMA_DIALECT",
	"REFINEMENT_ENCRYPTION_KEY",
	"UPLOAD_KIND", "UPLOAD_DIR", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PREFIX", "S3_PATH_STYLE", "GATEWAY_URL",
	"METRICS_BACKEND", "PUSHGATEWAY_URL", "METRICS_TAGS", "JOB_NAME",
	"ENV", "LOG_LEVEL",
}

// New returns a viper instance with defaults and env bindings applied.
// envFile is read if it exists; pass "" to skip it. Callers may bind flags
// to the returned instance before calling FromViper.
func New(envFile string) *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("INPUT_DIR", "input")
	v.SetDefault("OUTPUT_DIR", "output")
	v.SetDefault("STORAGE_KIND", "sqlite")
	v.SetDefault("SCHEMA_NAME", "fhir_refinement")
	v.SetDefault("SCHEMA_VERSION", "0.0.1")
	v.SetDefault("SCHEMA_DESCRIPTION", "Normalized FHIR persons and medications")
	v.SetDefault("UPLOAD_KIND", "none")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("GATEWAY_URL", defaultGateway)
	v.SetDefault("METRICS_BACKEND", "none")
	v.SetDefault("PUSHGATEWAY_URL", "http://localhost:9091")
	v.SetDefault("JOB_NAME", "refine")
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")

	// Unmarshal only sees env vars that are bound.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}
	return v
}

// Load reads the configuration from the environment and envFile.
func Load(envFile string) (*Config, error) {
	return FromViper(New(envFile))
}

// FromViper decodes v and fills derived defaults. It does not validate.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.StorageDSN == "" && cfg.StorageKind == "sqlite" {
		cfg.StorageDSN = cfg.DBPath()
	}
	if cfg.SchemaDialect == "" {
		cfg.SchemaDialect = cfg.StorageKind
	}
	cfg.UploadKind = strings.ToLower(cfg.UploadKind)
	cfg.MetricsBackend = strings.ToLower(cfg.MetricsBackend)
	return cfg, nil
}

// DBPath is the default location of the embedded store.
func (c *Config) DBPath() string {
	return filepath.Join(c.OutputDir, defaultDBFile)
}

// Publishes reports whether the store is a file the run encrypts and
// uploads. Server-backed stores are written in place.
func (c *Config) Publishes() bool {
	return c.StorageKind == "sqlite"
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that a run can start with c.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("INPUT_DIR is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if !oneOf(c.StorageKind, StorageKinds) {
		return fmt.Errorf("STORAGE_KIND must be one of %v, got %q", StorageKinds, c.StorageKind)
	}
	if c.StorageDSN == "" {
		return fmt.Errorf("STORAGE_DSN is required when STORAGE_KIND is %q", c.StorageKind)
	}
	if c.Publishes() && c.EncryptionKey == "" {
		return fmt.Errorf("REFINEMENT_ENCRYPTION_KEY is required")
	}

	switch c.UploadKind {
	case "none":
	case "dir":
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR is required when UPLOAD_KIND is \"dir\"")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when UPLOAD_KIND is \"s3\"")
		}
	default:
		return fmt.Errorf("UPLOAD_KIND must be one of %v, got %q", UploadKinds, c.UploadKind)
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}

	if c.MetricsBackend != "" && !oneOf(c.MetricsBackend, MetricsKinds) {
		return fmt.Errorf("METRICS_BACKEND must be one of %v, got %q", MetricsKinds, c.MetricsBackend)
	}
	if c.MetricsBackend == "pushgateway" && c.PushgatewayURL == "" {
		return fmt.Errorf("PUSHGATEWAY_URL is required when METRICS_BACKEND is \"pushgateway\"")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
