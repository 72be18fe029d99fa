// Package source reads raw FHIR resources from an input directory.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Logger is the minimal logging interface used by the reader.
type Logger interface {
	Printf(format string, v ...any)
}

// FileError reports an input file that was skipped.
type FileError struct {
	File string
	Err  error
}

func (e FileError) Error() string { return fmt.Sprintf("%s: %v", e.File, e.Err) }
func (e FileError) Unwrap() error { return e.Err }

// Reader loads resources from *.json files.
//
// Behavior:
//   - stable ordering by filename; subdirectories are ignored
//   - a root array yields each element
//   - a root Bundle yields the resource of each entry (one level only; nested
//     bundles are passed through for the normalizer to flatten)
//   - a root Bundle with any entry lacking an object resource is yielded
//     whole, so the normalizer reports each malformed entry
//   - any other root object is yielded as-is
//   - unreadable or undecodable files are reported as FileError and skipped
//   - a resourceType/id pair seen in an earlier file is counted and logged
//     but still yielded; the collector decides which copy is kept
type Reader struct {
	Logger Logger
}

// ReadDir reads dir with a Reader that does not log.
func ReadDir(ctx context.Context, dir string) ([]json.RawMessage, []FileError, error) {
	return (&Reader{}).ReadDir(ctx, dir)
}

// ReadDir returns the resources found in dir in file order.
//
// Errors:
//   - Returns an error if dir cannot be listed or ctx is done.
func (r *Reader) ReadDir(ctx context.Context, dir string) ([]json.RawMessage, []FileError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("source: read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	out := []json.RawMessage{}
	skipped := []FileError{}
	seen := map[string]struct{}{}
	repeats := 0

	emit := func(raw json.RawMessage) {
		if key := identity(raw); key != "" {
			if _, ok := seen[key]; ok {
				repeats++
				r.logf("source: repeated resource %s", key)
			}
			seen[key] = struct{}{}
		}
		out = append(out, raw)
	}

	files := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		files++

		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			skipped = append(skipped, FileError{File: e.Name(), Err: err})
			r.logf("source: skip file=%s err=%v", e.Name(), err)
			continue
		}
		resources, err := split(b)
		if err != nil {
			skipped = append(skipped, FileError{File: e.Name(), Err: err})
			r.logf("source: skip file=%s err=%v", e.Name(), err)
			continue
		}
		for _, raw := range resources {
			emit(raw)
		}
	}

	r.logf("stage=read ok files=%d resources=%d repeats=%d skipped=%d", files, len(out), repeats, len(skipped))
	return out, skipped, nil
}

func (r *Reader) logf(format string, v ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, v...)
	}
}

type header struct {
	ResourceType string          `json:"resourceType"`
	ID           json.RawMessage `json:"id"`
}

type bundleEntries struct {
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// split decodes one file into its top-level resources.
func split(b []byte) ([]json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if !json.Valid(b) {
		return nil, fmt.Errorf("invalid JSON")
	}

	switch {
	case len(b) > 0 && b[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, err
		}
		return items, nil

	case len(b) > 0 && b[0] == '{':
		var h header
		if err := json.Unmarshal(b, &h); err != nil {
			return nil, err
		}
		if h.ResourceType != "Bundle" {
			return []json.RawMessage{json.RawMessage(b)}, nil
		}
		var bundle bundleEntries
		if err := json.Unmarshal(b, &bundle); err != nil {
			// Leave malformed bundles to the normalizer, which reports per entry.
			return []json.RawMessage{json.RawMessage(b)}, nil
		}
		out := make([]json.RawMessage, 0, len(bundle.Entry))
		for _, e := range bundle.Entry {
			if !isObject(e.Resource) {
				return []json.RawMessage{json.RawMessage(b)}, nil
			}
			out = append(out, e.Resource)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("root is not an object or array")
	}
}

// identity returns "resourceType/id" for objects carrying both, else "".
func identity(raw json.RawMessage) string {
	if !isObject(raw) {
		return ""
	}
	var h header
	if err := json.Unmarshal(raw, &h); err != nil || h.ResourceType == "" || len(h.ID) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(h.ID, &id); err != nil {
		id = string(h.ID)
	}
	if id == "" || id == "null" {
		return ""
	}
	return h.ResourceType + "/" + id
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}
