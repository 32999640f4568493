package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidReference is returned for references that escape the base directory.
	ErrInvalidReference = errors.New("invalid evidence reference")
	// ErrTooLarge is returned when an upload exceeds its size limit.
	ErrTooLarge = errors.New("evidence file exceeds the size limit")
	// ErrNotFound is returned when a reference names no stored file.
	ErrNotFound = errors.New("evidence file not found")
)

// LocalEvidence stores evidence files under a base directory and resolves references to them.
type LocalEvidence struct {
	baseDir string
}

// NewLocalEvidence ensures the base directory exists and returns a handle.
func NewLocalEvidence(baseDir string) (*LocalEvidence, error) {
	if baseDir == "" {
		baseDir = "./evidence"
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence directory: %w", err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve evidence directory: %w", err)
	}
	return &LocalEvidence{baseDir: abs}, nil
}

// Exists reports whether ref names a regular file under the base directory.
func (s *LocalEvidence) Exists(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.resolve(ref)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat evidence: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Save streams r to ref and returns the bytes written. A stream longer than limit is
// discarded with ErrTooLarge. The file appears under ref only once fully written.
func (s *LocalEvidence) Save(ctx context.Context, ref string, r io.Reader, limit int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := s.resolve(ref)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("prepare evidence directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create evidence file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	written, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write evidence file: %w", err)
	}
	if written > limit {
		return 0, ErrTooLarge
	}
	if err := os.Chmod(tmp.Name(), 0o640); err != nil {
		return 0, fmt.Errorf("protect evidence file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("commit evidence file: %w", err)
	}
	return written, nil
}

// Open returns a reader for ref. The caller closes it.
func (s *LocalEvidence) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open evidence: %w", err)
	}
	if info, err := f.Stat(); err != nil || !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

func (s *LocalEvidence) resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) {
		return "", ErrInvalidReference
	}
	path := filepath.Join(s.baseDir, filepath.FromSlash(ref))
	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ErrInvalidReference
	}
	return path, nil
}
