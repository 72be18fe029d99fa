// Package persist writes a deduplicated entity batch to a freshly recreated
// relational store in one transaction.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fhiretl/internal/metrics"
	"fhiretl/internal/model"
	"fhiretl/internal/storage"
)

// Logger is the minimal logging interface used by the writer.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Config locates the store for one run.
type Config struct {
	// Kind selects the storage backend: "sqlite", "postgres" or "mssql".
	Kind string

	// DSN is the backend connection string. For sqlite it is the file path.
	DSN string
}

// Result reports what one Write committed.
type Result struct {
	Persons     int64
	Medications int64
	Duration    time.Duration
}

// Writer persists entities. The store is recreated on every Write.
type Writer struct {
	Config Config
	Logger Logger

	// Open opens the backend. Defaults to storage.New; the chosen backend
	// must be registered (see internal/storage/all).
	Open storage.Factory
}

// New returns a Writer for cfg.
func New(cfg Config, l Logger) *Writer {
	return &Writer{Config: cfg, Logger: l}
}

// Write recreates the store and writes entities in one transaction:
// create tables, insert persons, insert medications, declare foreign keys,
// commit. Any failure rolls back and is returned. The connection is closed
// before Write returns.
//
// Entities are expected to be deduplicated already; a repeated identity
// violates the primary key and fails the whole write.
func (w *Writer) Write(ctx context.Context, entities []model.Entity) (res Result, err error) {
	start := time.Now()
	logf := w.logger()

	persons, meds := model.Split(entities)
	tables := storage.Tables()
	personTable, _ := storage.Lookup(tables, storage.PersonTable)
	medTable, _ := storage.Lookup(tables, storage.MedicationTable)

	// Build rows before touching the store so encoding errors leave it intact.
	personRecs := make([]record, 0, len(persons))
	for _, p := range persons {
		r, err := personRecord(p)
		if err != nil {
			return res, fmt.Errorf("persist: %w", err)
		}
		personRecs = append(personRecs, r)
	}
	medRecs := make([]record, 0, len(meds))
	for _, m := range meds {
		medRecs = append(medRecs, medicationRecord(m))
	}
	personCols, personRows, err := tableRows(personTable, personRecs)
	if err != nil {
		return res, fmt.Errorf("persist: %w", err)
	}
	medCols, medRows, err := tableRows(medTable, medRecs)
	if err != nil {
		return res, fmt.Errorf("persist: %w", err)
	}

	open := w.Open
	if open == nil {
		open = storage.New
	}
	scfg := storage.Config{Kind: w.Config.Kind, DSN: w.Config.DSN, Recreate: true}
	repo, err := open(ctx, scfg)
	if err != nil {
		return res, fmt.Errorf("persist: open %s store: %w", scfg.Kind, err)
	}
	defer func() {
		if cerr := repo.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("persist: close: %w", cerr))
		}
	}()

	if err := repo.DropTables(ctx, tables); err != nil {
		return res, fmt.Errorf("persist: recreate: %w", err)
	}

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		return res, fmt.Errorf("persist: %w", err)
	}
	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("persist: rollback: %w", rbErr))
		}
		logf("persist: rolled back err=%v", err)
	}()

	if err := tx.CreateTables(ctx, tables); err != nil {
		return Result{}, fmt.Errorf("persist: %w", err)
	}
	np, err := tx.InsertRows(ctx, personTable.Name, personCols, personRows)
	if err != nil {
		return Result{}, fmt.Errorf("persist: %w", err)
	}
	nm, err := tx.InsertRows(ctx, medTable.Name, medCols, medRows)
	if err != nil {
		return Result{}, fmt.Errorf("persist: %w", err)
	}
	if err := tx.AddForeignKeys(ctx, tables); err != nil {
		return Result{}, fmt.Errorf("persist: %w", err)
	}

	// A failed Commit leaves nothing to roll back.
	done = true
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("persist: commit: %w", err)
	}

	res = Result{Persons: np, Medications: nm, Duration: time.Since(start)}
	metrics.RecordRowsWritten(personTable.Name, np)
	metrics.RecordRowsWritten(medTable.Name, nm)
	logf("stage=persist ok kind=%s persons=%d medications=%d duration=%s",
		scfg.Kind, np, nm, res.Duration.Truncate(time.Millisecond))
	return res, nil
}

func (w *Writer) logger() func(format string, v ...any) {
	if w.Logger == nil {
		return func(string, ...any) {}
	}
	return w.Logger.Printf
}
