// Package bundle packs downloaded artifacts and the failure report into a
// single zip archive, which is the one deliverable of a batch run.
package bundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// ErrNothingToBundle means the run produced neither artifacts nor a failure
// report, so there is nothing worth archiving.
var ErrNothingToBundle = errors.New("nothing to bundle")

// Bundler writes the final archive and cleans up the loose files it
// swallowed.
type Bundler struct {
	logger *zap.Logger
}

// New creates a Bundler.
func New(logger *zap.Logger) *Bundler {
	return &Bundler{logger: logger}
}

// Bundle writes archivePath containing every artifact that still exists on
// disk plus the failure report, each stored deflated under its base name.
// Artifacts that vanished are logged and skipped. reportPath may be empty.
// After the archive lands, the bundled originals are removed best-effort;
// cleanup failures are logged, never returned.
func (b *Bundler) Bundle(artifacts []string, reportPath, archivePath string) error {
	present := make([]string, 0, len(artifacts))
	seen := make(map[string]struct{}, len(artifacts))
	for _, p := range artifacts {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if _, err := os.Stat(p); err != nil {
			b.logger.Warn("artifact missing at bundling time, skipping",
				zap.String("path", p), zap.Error(err))
			continue
		}
		present = append(present, p)
	}

	hasReport := false
	if reportPath != "" {
		if _, err := os.Stat(reportPath); err == nil {
			hasReport = true
		} else {
			b.logger.Warn("failure report missing at bundling time, skipping",
				zap.String("path", reportPath), zap.Error(err))
		}
	}

	if len(present) == 0 && !hasReport {
		return ErrNothingToBundle
	}

	if err := b.writeArchive(archivePath, present, hasReport, reportPath); err != nil {
		os.Remove(archivePath)
		return err
	}

	b.logger.Info("archive written",
		zap.String("path", archivePath),
		zap.Int("artifacts", len(present)),
		zap.Bool("report_included", hasReport))

	b.cleanup(present, hasReport, reportPath)
	return nil
}

func (b *Bundler) writeArchive(archivePath string, artifacts []string, hasReport bool, reportPath string) error {
	f, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(f)
	for _, p := range artifacts {
		if err := addFile(zw, p); err != nil {
			zw.Close() //nolint:errcheck // already failing
			f.Close()  //nolint:errcheck // already failing
			return fmt.Errorf("add %s: %w", filepath.Base(p), err)
		}
	}
	if hasReport {
		if err := addFile(zw, reportPath); err != nil {
			zw.Close() //nolint:errcheck // already failing
			f.Close()  //nolint:errcheck // already failing
			return fmt.Errorf("add report: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		f.Close() //nolint:errcheck // already failing
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// addFile stores one file in the archive under its base name. zip.Writer
// deflates entries created this way.
func addFile(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer src.Close() //nolint:errcheck // read-only file

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("copy contents: %w", err)
	}
	return nil
}

func (b *Bundler) cleanup(artifacts []string, hasReport bool, reportPath string) {
	paths := artifacts
	if hasReport {
		paths = append(append([]string(nil), artifacts...), reportPath)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			b.logger.Warn("could not remove bundled file", zap.String("path", p), zap.Error(err))
		}
	}
}
