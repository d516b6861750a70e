// Package report collects per-row failures during a batch and writes them
// out as spreadsheet tables: one per-run report and one global summary that
// accumulates across runs.
package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"pdfbatch/internal/batch"
)

// timeLayout keeps timestamps readable in spreadsheets while still sorting
// lexicographically in time order.
const timeLayout = "2006-01-02 15:04:05"

// header is the fixed column order of both the per-run report and the
// global summary.
var header = []any{"Title Link", "Title", "Reason", "Timestamp", "Source Batch"}

// FailureRecord is one failed row, stamped with when it failed and which
// batch it came from.
type FailureRecord struct {
	TitleLink   string
	Title       string
	Reason      string
	Timestamp   time.Time
	SourceBatch string
}

// Aggregator accumulates failure records from concurrently running workers.
type Aggregator struct {
	mu      sync.Mutex
	records []FailureRecord

	batchName string
	clock     batch.Clock
	logger    *zap.Logger
}

// NewAggregator creates an empty Aggregator for one batch run. batchName
// labels every record so summary rows stay traceable to their run.
func NewAggregator(batchName string, clock batch.Clock, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		batchName: batchName,
		clock:     clock,
		logger:    logger,
	}
}

// Add records one failure. Safe to call from any worker.
func (a *Aggregator) Add(titleLink, title, reason string) {
	rec := FailureRecord{
		TitleLink:   titleLink,
		Title:       title,
		Reason:      reason,
		Timestamp:   a.clock.Now().UTC(),
		SourceBatch: a.batchName,
	}

	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()
}

// Len returns how many failures have been recorded so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Records returns a snapshot of the recorded failures.
func (a *Aggregator) Records() []FailureRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]FailureRecord(nil), a.records...)
}

// WriteReport writes this run's failure table to path. When nothing failed
// it writes nothing and returns false.
func (a *Aggregator) WriteReport(path string) (bool, error) {
	records := a.Records()
	if len(records) == 0 {
		return false, nil
	}

	if err := writeTable(path, records); err != nil {
		return false, fmt.Errorf("write failure report: %w", err)
	}
	a.logger.Info("failure report written",
		zap.String("path", path), zap.Int("failures", len(records)))
	return true, nil
}

// MergeGlobalSummary folds this run's failures into the cross-run summary
// at path: read what is there, append this run, sort newest first, and
// atomically replace the file. A missing or unreadable summary starts
// fresh rather than failing the run. Re-merging the same run appends its
// records again; rows carry timestamps and a batch label, so readers can
// tell repeats apart.
func (a *Aggregator) MergeGlobalSummary(path string) error {
	records := a.Records()
	if len(records) == 0 {
		return nil
	}

	existing, err := readTable(path)
	if err != nil {
		a.logger.Warn("global summary unreadable, starting fresh",
			zap.String("path", path), zap.Error(err))
		existing = nil
	}

	merged := append(existing, records...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create summary directory: %w", err)
		}
	}

	// Write a sibling first so a crash mid-write cannot truncate the
	// accumulated history.
	tmp := path + ".tmp"
	if err := writeTable(tmp, merged); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace summary: %w", err)
	}

	a.logger.Info("global summary updated",
		zap.String("path", path),
		zap.Int("added", len(records)),
		zap.Int("total", len(merged)))
	return nil
}

func writeTable(path string, records []FailureRecord) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // close of an in-memory workbook

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d cell name: %w", i+2, err)
		}
		row := []any{
			rec.TitleLink,
			rec.Title,
			rec.Reason,
			rec.Timestamp.UTC().Format(timeLayout),
			rec.SourceBatch,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func readTable(path string) ([]FailureRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only workbook

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	records := make([]FailureRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := FailureRecord{}
		if len(row) > 0 {
			rec.TitleLink = row[0]
		}
		if len(row) > 1 {
			rec.Title = row[1]
		}
		if len(row) > 2 {
			rec.Reason = row[2]
		}
		if len(row) > 3 {
			// Unparseable timestamps sort to the end instead of
			// discarding the row.
			if ts, parseErr := time.Parse(timeLayout, row[3]); parseErr == nil {
				rec.Timestamp = ts.UTC()
			}
		}
		if len(row) > 4 {
			rec.SourceBatch = row[4]
		}
		records = append(records, rec)
	}
	return records, nil
}
