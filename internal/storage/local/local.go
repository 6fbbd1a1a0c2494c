// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/healthdocs/doctracker/internal/metrics"
	"github.com/healthdocs/doctracker/pkg/protocol"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string
	CreateDirs bool
}

// Backend stores documents as files under a root directory.
type Backend struct {
	rootPath   string
	createDirs bool
}

// New creates a new local filesystem backend.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Backend{
		rootPath:   cfg.RootPath,
		createDirs: cfg.CreateDirs,
	}, nil
}

// fullPath maps a slash-separated key under the root. Keys that would
// escape the root are rejected.
func (b *Backend) fullPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.rootPath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Get opens a stored file.
func (b *Backend) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	start := time.Now()
	p, err := b.fullPath(key)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(p)
	if err != nil {
		metrics.RecordStorageOperation(b.Type(), "get", time.Since(start), false)
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		metrics.RecordStorageOperation(b.Type(), "get", time.Since(start), false)
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}

	metrics.RecordStorageOperation(b.Type(), "get", time.Since(start), true)
	return f, info.Size(), nil
}

// Put writes content atomically via a temp file and rename.
func (b *Backend) Put(_ context.Context, key string, body io.Reader, size int64, _ string) error {
	start := time.Now()
	err := b.put(key, body, size)
	metrics.RecordStorageOperation(b.Type(), "put", time.Since(start), err == nil)
	return err
}

func (b *Backend) put(key string, body io.Reader, size int64) error {
	p, err := b.fullPath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)

	if b.createDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", key, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".doctracker-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if size >= 0 && n != size {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: short write (%d of %d bytes)", key, n, size)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// Delete removes a file. A missing file is not an error.
func (b *Backend) Delete(_ context.Context, key string) error {
	start := time.Now()
	p, err := b.fullPath(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		metrics.RecordStorageOperation(b.Type(), "delete", time.Since(start), false)
		return fmt.Errorf("delete %s: %w", key, err)
	}
	metrics.RecordStorageOperation(b.Type(), "delete", time.Since(start), true)
	return nil
}

// Exists checks if a file exists.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	p, err := b.fullPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// List walks the root and returns files whose keys start with prefix.
// In-progress temp files are skipped.
func (b *Backend) List(_ context.Context, prefix string, limit int) ([]protocol.Blob, error) {
	start := time.Now()
	var out []protocol.Blob
	err := filepath.WalkDir(b.rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".doctracker-") && strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(b.rootPath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, protocol.Blob{Name: key, Size: info.Size(), LastModified: info.ModTime()})
		if limit > 0 && len(out) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		metrics.RecordStorageOperation(b.Type(), "list", time.Since(start), false)
		return nil, fmt.Errorf("list %s: %w", b.rootPath, err)
	}
	metrics.RecordStorageOperation(b.Type(), "list", time.Since(start), true)
	return out, nil
}

// URL returns "": local content is served by the API.
func (b *Backend) URL(context.Context, string) (string, error) { return "", nil }

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }
