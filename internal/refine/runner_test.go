package refine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fhiretl/internal/artifact"
	"fhiretl/internal/config"
	"fhiretl/internal/storage"
)

const (
	patientJSON = `{"resourceType":"Patient","id":"p1","name":[{"family":"Smith","given":["John"]}],"telecom":[{"system":"phone","value":"555-1234"}]}`
	bundleJSON  = `{"resourceType":"Bundle","entry":[
		{"resource":{"resourceType":"Patient","id":"p1","name":[{"family":"Smith"}]}},
		{"resource":{"resourceType":"MedicationStatement","id":"m1","subject":{"reference":"Patient/p1"},
			"medicationCodeableConcept":{"coding":[{"system":"http://www.nlm.nih.gov/research/umls/rxnorm","code":"1049502","display":"Acetaminophen"}]}}}
	]}`
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	in := filepath.Join(root, "input")
	if err := os.MkdirAll(in, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"patient.json": patientJSON, "bundle.json": bundleJSON, "broken.json": "{"} {
		if err := os.WriteFile(filepath.Join(in, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	out := filepath.Join(root, "output")
	return &config.Config{
		InputDir:      in,
		OutputDir:     out,
		StorageKind:   "sqlite",
		StorageDSN:    filepath.Join(out, "db.libsql"),
		SchemaName:    "fhir_refinement",
		SchemaVersion: "0.0.1",
		SchemaDialect: "sqlite",
		EncryptionKey: "test-key",
		UploadKind:    "dir",
		UploadDir:     filepath.Join(root, "blobs"),
		GatewayURL:    "https://gateway.example/ipfs",
	}
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	r := &Runner{RunID: "run-1"}
	out, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.HasPrefix(out.RefinementURL, cfg.GatewayURL+"/") {
		t.Fatalf("unexpected refinement_url %q", out.RefinementURL)
	}
	hash := strings.TrimPrefix(out.RefinementURL, cfg.GatewayURL+"/")

	enc, err := os.ReadFile(filepath.Join(cfg.UploadDir, hash))
	if err != nil {
		t.Fatalf("encrypted store not uploaded: %v", err)
	}
	var plain bytes.Buffer
	if err := artifact.Decrypt(&plain, bytes.NewReader(enc), cfg.EncryptionKey); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.HasPrefix(plain.Bytes(), []byte("SQLite format 3")) {
		t.Fatalf("uploaded payload is not the store")
	}

	b, err := os.ReadFile(filepath.Join(cfg.OutputDir, OutputFile))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var doc struct {
		RefinementURL string `json:"refinement_url"`
		Schema        struct {
			Name   string `json:"name"`
			Tables []struct {
				Name string `json:"name"`
			} `json:"tables"`
		} `json:"schema"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("output.json: %v", err)
	}
	if doc.RefinementURL != out.RefinementURL || doc.Schema.Name != "fhir_refinement" || len(doc.Schema.Tables) != 2 {
		t.Fatalf("unexpected output.json: %s", b)
	}
	if !bytes.Contains(b, []byte("\n    \"refinement_url\"")) {
		t.Fatalf("output.json must be indented with four spaces")
	}

	if _, err := os.Stat(filepath.Join(cfg.OutputDir, SchemaFile)); err != nil {
		t.Fatalf("schema.json missing: %v", err)
	}
	if _, err := os.Stat(cfg.StorageDSN + artifact.EncryptedSuffix); err != nil {
		t.Fatalf("encrypted store missing: %v", err)
	}
}

func TestRun_PersistFailureWritesNoOutput(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{SchemaFile, OutputFile} {
		if err := os.WriteFile(filepath.Join(cfg.OutputDir, name), []byte(`{"stale":true}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	r := &Runner{
		Open: func(context.Context, storage.Config) (storage.Repository, error) {
			return nil, errors.New("disk full")
		},
	}
	if _, err := r.Run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "persist") {
		t.Fatalf("Run err=%v, want persist failure", err)
	}
	for _, name := range []string{SchemaFile, OutputFile} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, name)); err == nil {
			t.Fatalf("%s must not be written after a persistence failure", name)
		}
	}
}

func TestRun_EmptyInputSucceeds(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	entries, _ := os.ReadDir(cfg.InputDir)
	for _, e := range entries {
		_ = os.Remove(filepath.Join(cfg.InputDir, e.Name()))
	}
	cfg.UploadKind = "none"

	out, err := (&Runner{Uploader: artifact.NopUploader{}}).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.RefinementURL == "" || len(out.Schema.Tables) != 2 {
		t.Fatalf("unexpected output %+v", out)
	}
}

// memStore accepts every call and keeps nothing.
type memStore struct{ rows int64 }

func (m *memStore) Close() error                                           { return nil }
func (m *memStore) DropTables(context.Context, []storage.TableSpec) error { return nil }
func (m *memStore) BeginTx(context.Context) (storage.Tx, error)           { return m, nil }
func (m *memStore) CreateTables(context.Context, []storage.TableSpec) error {
	return nil
}
func (m *memStore) InsertRows(_ context.Context, _ string, _ []string, rows [][]any) (int64, error) {
	m.rows += int64(len(rows))
	return int64(len(rows)), nil
}
func (m *memStore) AddForeignKeys(context.Context, []storage.TableSpec) error { return nil }
func (m *memStore) Commit(context.Context) error                              { return nil }
func (m *memStore) Rollback(context.Context) error                            { return nil }

func TestRun_ServerStoreSkipsStorePublish(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.StorageKind = "postgres"
	cfg.StorageDSN = "postgres://localhost/refine"
	cfg.SchemaDialect = "postgres"

	store := &memStore{}
	r := &Runner{Open: func(context.Context, storage.Config) (storage.Repository, error) { return store, nil }}
	out, err := r.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.RefinementURL != "" {
		t.Fatalf("refinement_url=%q, want empty for server stores", out.RefinementURL)
	}
	if store.rows != 2 {
		t.Fatalf("rows=%d, want 1 person + 1 medication", store.rows)
	}
	if out.Schema.Dialect != "postgres" {
		t.Fatalf("dialect=%q", out.Schema.Dialect)
	}
}

func TestNewUploader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind    string
		want    string
		wantErr bool
	}{
		{kind: "", want: "artifact.NopUploader"},
		{kind: "none", want: "artifact.NopUploader"},
		{kind: "dir", want: "artifact.DirUploader"},
		{kind: "s3", wantErr: true}, // no bucket
		{kind: "ftp", wantErr: true},
	}
	for _, tt := range tests {
		u, err := NewUploader(context.Background(), &config.Config{UploadKind: tt.kind, UploadDir: "x"}, "run")
		if tt.wantErr {
			if err == nil {
				t.Fatalf("kind=%q: expected error", tt.kind)
			}
			continue
		}
		if err != nil {
			t.Fatalf("kind=%q: %v", tt.kind, err)
		}
		if got := typeName(u); got != tt.want {
			t.Fatalf("kind=%q: got %s want %s", tt.kind, got, tt.want)
		}
	}
}

func typeName(u artifact.Uploader) string {
	switch u.(type) {
	case artifact.NopUploader:
		return "artifact.NopUploader"
	case artifact.DirUploader:
		return "artifact.DirUploader"
	case *artifact.S3Uploader:
		return "*artifact.S3Uploader"
	}
	return "unknown"
}
