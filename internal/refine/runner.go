// Package refine runs one refinement end to end: read the input directory,
// normalize and deduplicate, write the store, describe it, then encrypt and
// publish the results.
package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"fhiretl/internal/artifact"
	"fhiretl/internal/collect"
	"fhiretl/internal/config"
	"fhiretl/internal/metrics"
	"fhiretl/internal/persist"
	"fhiretl/internal/schema"
	"fhiretl/internal/source"
	"fhiretl/internal/storage"
	"fhiretl/internal/storage/sqlite"

	"github.com/google/uuid"
)

// Output file names inside OUTPUT_DIR.
const (
	SchemaFile = "schema.json"
	OutputFile = "output.json"
)

// Logger is the minimal logging interface used by the runner.
type Logger interface {
	Printf(format string, v ...any)
}

// Output is the run summary written to output.json.
type Output struct {
	RefinementURL string          `json:"refinement_url"`
	Schema        schema.Manifest `json:"schema"`
}

// Runner wires the stages together. Zero values select production
// defaults.
type Runner struct {
	Logger Logger

	// Uploader publishes the schema and the encrypted store. When nil it is
	// built from the config.
	Uploader artifact.Uploader

	// Open overrides the storage factory used by the writer.
	Open storage.Factory

	// RunID tags uploads and log lines. Generated when empty.
	RunID string
}

// Run executes the pipeline for cfg. A persistence failure aborts the run
// before any output file is written.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (*Output, error) {
	start := time.Now()
	runID := r.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logf := r.logger()
	logf("refine: start run_id=%s input=%s output=%s storage=%s", runID, cfg.InputDir, cfg.OutputDir, cfg.StorageKind)

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("refine: output dir: %w", err)
	}
	// Results of an earlier run must not survive a failed one.
	for _, name := range []string{SchemaFile, OutputFile} {
		if err := os.Remove(filepath.Join(cfg.OutputDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("refine: remove stale %s: %w", name, err)
		}
	}

	var raws []json.RawMessage
	err := r.stage("read", func() error {
		var skipped []source.FileError
		var err error
		raws, skipped, err = (&source.Reader{Logger: r.Logger}).ReadDir(ctx, cfg.InputDir)
		for _, s := range skipped {
			logf("refine: skip file=%s err=%v", s.File, s.Err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		logf("refine: no resources found in %s", cfg.InputDir)
	}

	var batch *collect.Batch
	err = r.stage("collect", func() error {
		var err error
		batch, err = collect.New(r.Logger).Collect(ctx, raws)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.stage("persist", func() error {
		w := persist.New(persist.Config{Kind: cfg.StorageKind, DSN: cfg.StorageDSN}, r.Logger)
		w.Open = r.Open
		_, err := w.Write(ctx, batch.Entities())
		return err
	})
	if err != nil {
		return nil, err
	}

	manifest := schema.Describe(schema.Options{
		Name:        cfg.SchemaName,
		Version:     cfg.SchemaVersion,
		Description: cfg.SchemaDescription,
		Dialect:     cfg.SchemaDialect,
	})
	err = r.stage("schema", func() error {
		b, err := manifest.MarshalIndent()
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(cfg.OutputDir, SchemaFile), b, 0o644)
	})
	if err != nil {
		return nil, err
	}

	up := r.Uploader
	if up == nil {
		up, err = NewUploader(ctx, cfg, runID)
		if err != nil {
			return nil, err
		}
	}

	out := &Output{Schema: manifest}
	err = r.stage("publish", func() error {
		sref, err := artifact.UploadJSON(ctx, up, SchemaFile, manifest)
		if err != nil {
			return err
		}
		logf("refine: schema uploaded hash=%s", sref.Hash)

		if !cfg.Publishes() {
			logf("refine: store publish skipped kind=%s", cfg.StorageKind)
			return nil
		}
		encPath, err := artifact.EncryptFile(cfg.EncryptionKey, sqlite.FilePath(cfg.StorageDSN))
		if err != nil {
			return err
		}
		dref, err := artifact.UploadFile(ctx, up, encPath)
		if err != nil {
			return err
		}
		out.RefinementURL = dref.URL(cfg.GatewayURL)
		logf("refine: store uploaded hash=%s size=%d", dref.Hash, dref.Size)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage("output", func() error {
		b, err := json.MarshalIndent(out, "", "    ")
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(cfg.OutputDir, OutputFile), b, 0o644)
	})
	if err != nil {
		return nil, err
	}

	logf("refine: done run_id=%s resources=%d entities=%d failures=%d duration=%s",
		runID, batch.Resources, batch.Len(), len(batch.Failures), time.Since(start).Truncate(time.Millisecond))
	return out, nil
}

// stage times fn, reports it to metrics and wraps its error with the stage
// name.
func (r *Runner) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	metrics.RecordStep(name, err, d)
	if err != nil {
		r.logger()("stage=%s error duration=%s err=%v", name, d.Truncate(time.Millisecond), err)
		return fmt.Errorf("refine: %s: %w", name, err)
	}
	r.logger()("stage=%s ok duration=%s", name, d.Truncate(time.Millisecond))
	return nil
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		return func(string, ...any) {}
	}
	return r.Logger.Printf
}

// NewUploader builds the uploader selected by cfg.UploadKind.
func NewUploader(ctx context.Context, cfg *config.Config, runID string) (artifact.Uploader, error) {
	switch cfg.UploadKind {
	case "", "none":
		return artifact.NopUploader{}, nil
	case "dir":
		return artifact.DirUploader{Dir: cfg.UploadDir}, nil
	case "s3":
		u, err := artifact.NewS3Uploader(ctx, artifact.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			PathStyle: cfg.S3PathStyle,
			RunID:     runID,
		})
		if err != nil {
			return nil, fmt.Errorf("refine: %w", err)
		}
		return u, nil
	default:
		return nil, fmt.Errorf("refine: unsupported upload kind %q", cfg.UploadKind)
	}
}
