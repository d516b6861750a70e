// Package rowsource reads the batch input: a spreadsheet or CSV file
// listing the URLs to convert, one row per document.
package rowsource

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"pdfbatch/internal/batch"
)

// Accepted column headers, matched case-insensitively after trimming. The
// Chinese variants come from the editorial spreadsheets this tool was built
// around.
var (
	linkHeaders  = []string{"link", "标题链接"}
	titleHeaders = []string{"title", "标题"}
)

// Source loads batch rows from disk. It implements batch.RowSource.
type Source struct {
	logger *zap.Logger
}

// New creates a Source.
func New(logger *zap.Logger) *Source {
	return &Source{logger: logger}
}

// Load reads all rows from path, dispatching on the file extension. Rows
// with a blank link cell are skipped; everything else is returned verbatim
// so validation can turn bad URLs into reportable failures instead of
// silently dropping them.
func (s *Source) Load(path string) ([]batch.Row, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		return s.loadXLSX(path)
	case ".csv":
		return s.loadCSV(path)
	default:
		return nil, fmt.Errorf("unsupported dataset type %q, want .xlsx or .csv", ext)
	}
}

func (s *Source) loadXLSX(path string) ([]batch.Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Debug("failed to close dataset workbook", zap.Error(cerr))
		}
	}()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return s.collect(path, rows)
}

func (s *Source) loadCSV(path string) ([]batch.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Debug("failed to close dataset file", zap.Error(cerr))
		}
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // hand-edited files are often ragged
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return s.collect(path, rows)
}

func (s *Source) collect(path string, rows [][]string) ([]batch.Row, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset %s has no header row", path)
	}

	linkIdx, titleIdx, err := findColumns(rows[0])
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}

	out := make([]batch.Row, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 2 // 1-based, after the header
		link := cellAt(row, linkIdx)
		if link == "" {
			s.logger.Debug("skipping row with blank link", zap.Int("row", rowNum))
			continue
		}
		title := ""
		if titleIdx >= 0 {
			title = cellAt(row, titleIdx)
		}
		out = append(out, batch.Row{
			URL:         link,
			Title:       title,
			SourceIndex: rowNum,
		})
	}

	s.logger.Info("dataset loaded",
		zap.String("path", path),
		zap.Int("rows", len(out)),
		zap.Int("skipped", len(rows)-1-len(out)))
	return out, nil
}

// findColumns locates the required link column and the optional title
// column. titleIdx is -1 when the dataset has no title column.
func findColumns(header []string) (linkIdx, titleIdx int, err error) {
	linkIdx, titleIdx = -1, -1
	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		if linkIdx < 0 && matchesAny(name, linkHeaders) {
			linkIdx = i
			continue
		}
		if titleIdx < 0 && matchesAny(name, titleHeaders) {
			titleIdx = i
		}
	}
	if linkIdx < 0 {
		return 0, 0, fmt.Errorf("no link column found, accepted headers: %s",
			strings.Join(linkHeaders, ", "))
	}
	return linkIdx, titleIdx, nil
}

func matchesAny(name string, accepted []string) bool {
	for _, a := range accepted {
		if name == a {
			return true
		}
	}
	return false
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
