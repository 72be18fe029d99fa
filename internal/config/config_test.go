package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InputDir != "input" || cfg.OutputDir != "output" {
		t.Errorf("unexpected dirs %q %q", cfg.InputDir, cfg.OutputDir)
	}
	if cfg.StorageKind != "sqlite" || cfg.StorageDSN != filepath.Join("output", "db.libsql") {
		t.Errorf("unexpected storage %q %q", cfg.StorageKind, cfg.StorageDSN)
	}
	if cfg.SchemaDialect != "sqlite" || cfg.SchemaName != "fhir_refinement" || cfg.SchemaVersion != "0.0.1" {
		t.Errorf("unexpected schema defaults %+v", cfg)
	}
	if cfg.UploadKind != "none" || cfg.MetricsBackend != "none" || cfg.JobName != "refine" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.IsDev() {
		t.Errorf("default ENV must not be development")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OUTPUT_DIR", "/tmp/out")
	t.Setenv("UPLOAD_KIND", "S3")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("SCHEMA_DIALECT", "sqlite3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDSN != "/tmp/out/db.libsql" {
		t.Errorf("StorageDSN=%q", cfg.StorageDSN)
	}
	if cfg.UploadKind != "s3" || !cfg.S3PathStyle {
		t.Errorf("upload settings %q %v", cfg.UploadKind, cfg.S3PathStyle)
	}
	if cfg.SchemaDialect != "sqlite3" {
		t.Errorf("SchemaDialect=%q", cfg.SchemaDialect)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	body := "REFINEMENT_ENCRYPTION_KEY=from-file\nINPUT_DIR=fixtures\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INPUT_DIR", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EncryptionKey != "from-file" {
		t.Errorf("EncryptionKey=%q", cfg.EncryptionKey)
	}
	if cfg.InputDir != "from-env" {
		t.Errorf("env must win over file, got %q", cfg.InputDir)
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func validConfig() Config {
	return Config{
		InputDir:       "input",
		OutputDir:      "output",
		StorageKind:    "sqlite",
		StorageDSN:     "output/db.libsql",
		EncryptionKey:  "k",
		UploadKind:     "none",
		GatewayURL:     "https://gw/ipfs",
		MetricsBackend: "none",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing_input", mutate: func(c *Config) { c.InputDir = "" }, wantErr: "INPUT_DIR"},
		{name: "bad_storage", mutate: func(c *Config) { c.StorageKind = "oracle" }, wantErr: "STORAGE_KIND"},
		{name: "missing_dsn", mutate: func(c *Config) { c.StorageKind = "postgres"; c.StorageDSN = "" }, wantErr: "STORAGE_DSN"},
		{name: "missing_key", mutate: func(c *Config) { c.EncryptionKey = "" }, wantErr: "REFINEMENT_ENCRYPTION_KEY"},
		{name: "server_store_needs_no_key", mutate: func(c *Config) {
			c.StorageKind = "postgres"
			c.StorageDSN = "postgres://localhost/refine"
			c.EncryptionKey = ""
		}},
		{name: "dir_upload_needs_dir", mutate: func(c *Config) { c.UploadKind = "dir" }, wantErr: "UPLOAD_DIR"},
		{name: "s3_upload_needs_bucket", mutate: func(c *Config) { c.UploadKind = "s3" }, wantErr: "S3_BUCKET"},
		{name: "bad_upload", mutate: func(c *Config) { c.UploadKind = "ipfs" }, wantErr: "UPLOAD_KIND"},
		{name: "missing_gateway", mutate: func(c *Config) { c.GatewayURL = "" }, wantErr: "GATEWAY_URL"},
		{name: "bad_metrics", mutate: func(c *Config) { c.MetricsBackend = "statsd" }, wantErr: "METRICS_BACKEND"},
		{name: "pushgateway_needs_url", mutate: func(c *Config) { c.MetricsBackend = "pushgateway" }, wantErr: "PUSHGATEWAY_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
