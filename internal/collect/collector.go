// Package collect runs the normalizer over a batch of resources and
// deduplicates the resulting entities.
package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fhiretl/internal/fhir"
	"fhiretl/internal/metrics"
	"fhiretl/internal/model"
)

// Logger is the minimal logging interface used by the collector.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Failure records a resource excluded from the batch because its
// normalization failed.
type Failure struct {
	// Index is the position of the top-level resource in the input.
	Index int

	// Path locates a failed resource nested in a bundle; empty otherwise.
	Path string

	Err error
}

func (f Failure) Error() string {
	if f.Path != "" {
		return fmt.Sprintf("resource %d (%s): %v", f.Index, f.Path, f.Err)
	}
	return fmt.Sprintf("resource %d: %v", f.Index, f.Err)
}

// Batch is the deduplicated result of one Collect call. The collector owns it
// until it is handed to the persistence writer.
type Batch struct {
	entities []model.Entity
	seen     map[model.Key]struct{}

	// Resources is the number of top-level resources processed.
	Resources int

	// Duplicates counts entities dropped because their identity was already seen.
	Duplicates int

	Diagnostics []fhir.Diagnostic
	Failures    []Failure
}

func newBatch() *Batch {
	return &Batch{
		entities:    []model.Entity{},
		seen:        make(map[model.Key]struct{}),
		Diagnostics: []fhir.Diagnostic{},
		Failures:    []Failure{},
	}
}

// add keeps e unless an entity with the same identity was already kept.
func (b *Batch) add(e model.Entity) bool {
	k := model.KeyOf(e)
	if _, dup := b.seen[k]; dup {
		b.Duplicates++
		return false
	}
	b.seen[k] = struct{}{}
	b.entities = append(b.entities, e)
	return true
}

// Entities returns the kept entities in first-seen order.
func (b *Batch) Entities() []model.Entity {
	return append([]model.Entity(nil), b.entities...)
}

// Persons returns the kept persons in first-seen order.
func (b *Batch) Persons() []model.Person {
	p, _ := model.Split(b.entities)
	return p
}

// Medications returns the kept medications in first-seen order.
func (b *Batch) Medications() []model.Medication {
	_, m := model.Split(b.entities)
	return m
}

// Len is the number of kept entities.
func (b *Batch) Len() int { return len(b.entities) }

// Collector normalizes resources sequentially and deduplicates by
// (entity type, id). The first occurrence of an identity wins.
type Collector struct {
	Normalizer *fhir.Normalizer
	Logger     Logger
}

// New returns a Collector with a fresh normalizer that logs to l.
func New(l Logger) *Collector {
	return &Collector{Normalizer: &fhir.Normalizer{Logger: l}, Logger: l}
}

// Collect processes resources in input order.
//
// Resource-level failures never escape: they are recorded in Batch.Failures and
// the resource contributes nothing. The returned error is non-nil only when
// ctx is done, in which case the partial batch is discarded.
func (c *Collector) Collect(ctx context.Context, resources []json.RawMessage) (*Batch, error) {
	start := time.Now()
	logf := c.logger()

	norm := c.Normalizer
	if norm == nil {
		norm = &fhir.Normalizer{Logger: c.Logger}
	}

	b := newBatch()
	cur := 0

	// Diagnostics arrive through the callback so nested failures can be
	// attributed to the top-level resource being processed.
	prev := norm.OnDiagnostic
	n := *norm
	n.OnDiagnostic = func(d fhir.Diagnostic) {
		b.Diagnostics = append(b.Diagnostics, d)
		metrics.RecordDiagnostic(string(d.Kind))
		if d.Kind == fhir.DiagInvalidResource {
			b.Failures = append(b.Failures, Failure{Index: cur, Path: d.Path, Err: d.Err})
		}
		if prev != nil {
			prev(d)
		}
	}

	for i, raw := range resources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur = i
		b.Resources++

		ents, err := n.Normalize(raw)
		if err != nil {
			b.Failures = append(b.Failures, Failure{Index: i, Err: err})
			metrics.RecordResource("failed")
			logf("collect: skip resource=%d err=%v", i, err)
			continue
		}
		metrics.RecordResource("ok")

		for _, e := range ents {
			if !b.add(e) {
				logf("collect: drop duplicate %s", model.KeyOf(e))
			}
		}
	}

	persons, meds := model.Split(b.entities)
	metrics.RecordEntities(string(model.EntityPerson), len(persons))
	metrics.RecordEntities(string(model.EntityMedication), len(meds))

	logf("stage=collect ok resources=%d persons=%d medications=%d duplicates=%d failures=%d diagnostics=%d duration=%s",
		b.Resources, len(persons), len(meds), b.Duplicates, len(b.Failures), len(b.Diagnostics),
		time.Since(start).Truncate(time.Millisecond))
	return b, nil
}

// RequiredFieldFailures returns the failures caused by missing required fields.
func (b *Batch) RequiredFieldFailures() []Failure {
	var out []Failure
	for _, f := range b.Failures {
		if errors.Is(f.Err, fhir.ErrRequiredField) {
			out = append(out, f)
		}
	}
	return out
}

func (c *Collector) logger() func(format string, v ...any) {
	if c.Logger == nil {
		return func(string, ...any) {}
	}
	return c.Logger.Printf
}
