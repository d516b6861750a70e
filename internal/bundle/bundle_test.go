package bundle

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func archiveEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close() //nolint:errcheck // read-only archive

	entries := make(map[string]string, len(zr.File))
	for _, zf := range zr.File {
		require.Equal(t, zip.Deflate, zf.Method, "entries must be deflated")
		rc, err := zf.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries[zf.Name] = string(data)
	}
	return entries
}

func TestBundleArchivesArtifactsAndReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeFile(t, dir, "Doc A.pdf", "pdf-a")
	b := writeFile(t, dir, "Doc B.pdf", "pdf-b")
	report := writeFile(t, dir, "input_failures.xlsx", "xlsx-bytes")
	archive := filepath.Join(dir, "input.zip")

	require.NoError(t, New(zap.NewNop()).Bundle([]string{a, b}, report, archive))

	entries := archiveEntries(t, archive)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	require.Equal(t, []string{"Doc A.pdf", "Doc B.pdf", "input_failures.xlsx"}, names)
	require.Equal(t, "pdf-a", entries["Doc A.pdf"])
	require.Equal(t, "xlsx-bytes", entries["input_failures.xlsx"])

	for _, p := range []string{a, b, report} {
		_, err := os.Stat(p)
		require.True(t, os.IsNotExist(err), "bundled original %s should be removed", p)
	}
}

func TestBundleSkipsMissingArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeFile(t, dir, "present.pdf", "pdf")
	missing := filepath.Join(dir, "vanished.pdf")
	archive := filepath.Join(dir, "out.zip")

	require.NoError(t, New(zap.NewNop()).Bundle([]string{a, missing}, "", archive))

	entries := archiveEntries(t, archive)
	require.Len(t, entries, 1)
	require.Contains(t, entries, "present.pdf")
}

func TestBundleNothingToBundle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "out.zip")

	err := New(zap.NewNop()).Bundle(nil, "", archive)
	require.ErrorIs(t, err, ErrNothingToBundle)

	_, statErr := os.Stat(archive)
	require.True(t, os.IsNotExist(statErr), "no archive expected")
}

func TestBundleReportOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	report := writeFile(t, dir, "failures.xlsx", "xlsx")
	archive := filepath.Join(dir, "out.zip")

	require.NoError(t, New(zap.NewNop()).Bundle(nil, report, archive))

	entries := archiveEntries(t, archive)
	require.Len(t, entries, 1)
	require.Contains(t, entries, "failures.xlsx")
}

func TestBundleDeduplicatesRepeatedPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeFile(t, dir, "same.pdf", "pdf")
	archive := filepath.Join(dir, "out.zip")

	require.NoError(t, New(zap.NewNop()).Bundle([]string{a, a, a}, "", archive))

	entries := archiveEntries(t, archive)
	require.Len(t, entries, 1)
}
