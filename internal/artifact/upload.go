package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Ref identifies published content. Hash is the hex SHA-256 of the payload
// and is the content address.
type Ref struct {
	Name     string
	Hash     string
	Size     int64
	Location string
}

// URL joins a gateway base URL and the content address.
func (r Ref) URL(gateway string) string {
	return strings.TrimRight(gateway, "/") + "/" + r.Hash
}

// Uploader publishes content under its content address. Publishing the same
// content twice is not an error.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (Ref, error)
}

// digest buffers r and returns its bytes and content address.
func digest(r io.Reader) ([]byte, string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("artifact: read payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return b, hex.EncodeToString(sum[:]), nil
}

// UploadJSON encodes v and uploads it.
func UploadJSON(ctx context.Context, u Uploader, name string, v any) (Ref, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Ref{}, fmt.Errorf("artifact: encode %s: %w", name, err)
	}
	return u.Upload(ctx, name, bytes.NewReader(b))
}

// UploadFile uploads the file at path under its base name.
func UploadFile(ctx context.Context, u Uploader, path string) (Ref, error) {
	f, err := os.Open(path)
	if err != nil {
		return Ref{}, fmt.Errorf("artifact: %w", err)
	}
	defer f.Close()
	return u.Upload(ctx, filepath.Base(path), f)
}

// NopUploader computes the content address without storing anything.
type NopUploader struct{}

func (NopUploader) Upload(ctx context.Context, name string, r io.Reader) (Ref, error) {
	b, hash, err := digest(r)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Name: name, Hash: hash, Size: int64(len(b))}, nil
}

// DirUploader stores content as Dir/<hash>.
type DirUploader struct {
	Dir string
}

func (d DirUploader) Upload(ctx context.Context, name string, r io.Reader) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	b, hash, err := digest(r)
	if err != nil {
		return Ref{}, err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return Ref{}, fmt.Errorf("artifact: %w", err)
	}
	path := filepath.Join(d.Dir, hash)
	ref := Ref{Name: name, Hash: hash, Size: int64(len(b)), Location: path}

	// Create-only: identical content is already in place.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ref, nil
	}
	if err != nil {
		return Ref{}, fmt.Errorf("artifact: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Ref{}, fmt.Errorf("artifact: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return Ref{}, fmt.Errorf("artifact: %w", err)
	}
	return ref, nil
}
