// Package report exports policy matrices. Both formats carry a header row
// State_0..State_{n-1} followed by one row of 0/1 decisions per
// controllable stage.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Sheet names used in XLSX exports.
const (
	PolicySheet  = "policy"
	SummarySheet = "summary"
)

// ErrEmptyMatrix is returned when there is no policy to export.
var ErrEmptyMatrix = errors.New("policy matrix is empty")

// Summary is written alongside the policy in XLSX exports.
type Summary struct {
	RunID     string
	Objective float64
	Feasible  bool
	Elapsed   time.Duration
	Scenarios int
	Stages    int
}

// Header returns State_0..State_{n-1}.
func Header(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "State_" + strconv.Itoa(i)
	}
	return out
}

// DefaultFileName returns "<scenarios>-<stages>.<ext>".
func DefaultFileName(scenarios, stages int, ext string) string {
	return fmt.Sprintf("%d-%d.%s", scenarios, stages, strings.TrimPrefix(ext, "."))
}

func width(matrix [][]int) (int, error) {
	if len(matrix) == 0 || len(matrix[0]) == 0 {
		return 0, ErrEmptyMatrix
	}
	n := len(matrix[0])
	for t, row := range matrix {
		if len(row) != n {
			return 0, fmt.Errorf("report: stage %d has %d states, want %d", t, len(row), n)
		}
	}
	return n, nil
}

// WriteCSV writes the policy matrix as CSV.
func WriteCSV(w io.Writer, matrix [][]int) error {
	n, err := width(matrix)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(n)); err != nil {
		return err
	}
	rec := make([]string, n)
	for _, row := range matrix {
		for i, v := range row {
			rec[i] = strconv.Itoa(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a workbook with the policy sheet first and a summary
// sheet second.
func WriteXLSX(w io.Writer, matrix [][]int, summary Summary) error {
	n, err := width(matrix)
	if err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), PolicySheet); err != nil {
		return fmt.Errorf("report: rename sheet: %w", err)
	}
	header := make([]interface{}, n)
	for i, h := range Header(n) {
		header[i] = h
	}
	if err := f.SetSheetRow(PolicySheet, "A1", &header); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for t, row := range matrix {
		cell, err := excelize.CoordinatesToCellName(1, t+2)
		if err != nil {
			return err
		}
		values := make([]interface{}, n)
		for i, v := range row {
			values[i] = v
		}
		if err := f.SetSheetRow(PolicySheet, cell, &values); err != nil {
			return fmt.Errorf("report: write stage %d: %w", t, err)
		}
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("report: add summary sheet: %w", err)
	}
	rows := [][]interface{}{
		{"run_id", summary.RunID},
		{"objective", summary.Objective},
		{"feasible", summary.Feasible},
		{"elapsed_seconds", summary.Elapsed.Seconds()},
		{"scenarios", summary.Scenarios},
		{"stages", summary.Stages},
	}
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("report: write summary: %w", err)
		}
	}
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("report: write workbook: %w", err)
	}
	return nil
}

// ReadXLSX reads the policy sheet back into a matrix.
func ReadXLSX(r io.Reader) ([][]int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("report: open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(PolicySheet)
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", PolicySheet, err)
	}
	if len(rows) < 2 {
		return nil, ErrEmptyMatrix
	}
	out := make([][]int, 0, len(rows)-1)
	for t, row := range rows[1:] {
		vals := make([]int, len(rows[0]))
		for i := range vals {
			if i >= len(row) {
				return nil, fmt.Errorf("report: stage %d is short", t)
			}
			v, err := strconv.Atoi(row[i])
			if err != nil {
				return nil, fmt.Errorf("report: stage %d state %d: %w", t, i, err)
			}
			vals[i] = v
		}
		out = append(out, vals)
	}
	return out, nil
}

// WriteFile picks the format from the extension of path (.csv or .xlsx).
func WriteFile(path string, matrix [][]int, summary Summary) error {
	var write func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		write = func(w io.Writer) error { return WriteCSV(w, matrix) }
	case ".xlsx":
		write = func(w io.Writer) error { return WriteXLSX(w, matrix, summary) }
	default:
		return fmt.Errorf("report: unsupported extension %q", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
