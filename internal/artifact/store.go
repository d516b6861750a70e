// Package artifact stores downloaded documents on the local filesystem.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// copyChunkSize is the buffer used when streaming response bodies to disk.
const copyChunkSize = 32 * 1024

// Store writes artifacts beneath a single output directory.
type Store struct {
	baseDir string
}

// New verifies the output directory exists (creating it when needed) and is
// writable before any remote work starts.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	info, err := os.Stat(baseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("output path %q is not a directory", baseDir)
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat output directory: %w", err)
	}

	probe := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}

	return &Store{baseDir: baseDir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// Path resolves name inside the store and rejects anything that would
// escape it. Sanitized titles cannot traverse, but the store does not
// trust its callers.
func (s *Store) Path(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	full := filepath.Join(s.baseDir, name)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact name %q escapes the output directory", name)
	}
	return full, nil
}

// WriteStream copies r to path in fixed-size chunks and returns the byte
// count and the hex sha256 of what was written. A zero-byte body is treated
// as a failed transfer: the file is removed and an error returned so the
// caller can retry.
func (s *Store) WriteStream(path string, r io.Reader) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, "", fmt.Errorf("create artifact directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, "", fmt.Errorf("create artifact file: %w", err)
	}

	h := sha256.New()
	buf := make([]byte, copyChunkSize)
	n, copyErr := io.CopyBuffer(io.MultiWriter(f, h), r, buf)
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(path)
		return n, "", fmt.Errorf("stream artifact: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return n, "", fmt.Errorf("close artifact file: %w", closeErr)
	}
	if n == 0 {
		os.Remove(path)
		return 0, "", fmt.Errorf("artifact body was empty")
	}

	return n, hex.EncodeToString(h.Sum(nil)), nil
}
