package results

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"docflow/internal/fileutil"
	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/state"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx" in any case.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", services.Wrap(services.ErrValidation, "export", "parse format",
			fmt.Sprintf("unsupported format %q (use csv or xlsx)", value), nil)
	}
}

// Columns is the header row of every export.
var Columns = []string{
	"filename",
	"unit",
	"document_id",
	"document_type",
	"field_id",
	"field",
	"is_missing",
	"field_value",
	"field_unformatted_value",
	"validated_field_value",
	"is_correct",
	"confidence",
	"ocr_confidence",
	"operator_confirmed",
	"row_index",
	"column_index",
	"updated_at",
}

const sheetName = "Extraction"

// Writer exports the extraction table.
type Writer struct {
	store  *state.Store
	logger *slog.Logger
}

// NewWriter builds a writer over store.
func NewWriter(store *state.Store, logger *slog.Logger) *Writer {
	return &Writer{store: store, logger: logging.NewComponentLogger(logger, "results")}
}

// Export writes the rows of filenames (every file when empty) to path and
// returns the number of rows written.
func (w *Writer) Export(ctx context.Context, format Format, path string, filenames ...string) (int, error) {
	start := time.Now()
	rows, err := w.store.ExtractionRows(ctx, filenames...)
	if err != nil {
		return 0, err
	}
	err = fileutil.WriteAtomic(path, 0o644, func(out io.Writer) error {
		switch format {
		case FormatCSV:
			return WriteCSV(out, rows)
		case FormatXLSX:
			return WriteXLSX(out, rows)
		default:
			return fmt.Errorf("unsupported format %q", format)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("write %s export: %w", format, err)
	}

	w.logger.Info("extraction exported",
		logging.String("path", path),
		logging.String("format", string(format)),
		logging.Int("rows", len(rows)),
		logging.Duration("elapsed", time.Since(start)),
		logging.String(logging.FieldEventType, "export_complete"),
	)
	return len(rows), nil
}

// DefaultPath names an export file in dir stamped with now.
func DefaultPath(dir string, format Format, now time.Time) string {
	return filepath.Join(dir, "extraction-"+now.UTC().Format("20060102-150405")+"."+string(format))
}

// WriteCSV writes rows with a header line.
func WriteCSV(out io.Writer, rows []state.ExtractionRow) error {
	writer := csv.NewWriter(out)
	if err := writer.Write(Columns); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(record(row)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX writes rows to a single-sheet workbook. Numeric and boolean
// columns keep their cell types.
func WriteXLSX(out io.Writer, rows []state.ExtractionRow) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	for i, header := range Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return err
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheetName, 1, 1, style)
	}

	for r, row := range rows {
		for c, value := range cells(row) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 28)
	_ = f.SetColWidth(sheetName, "C", "F", 22)
	_ = f.SetColWidth(sheetName, "H", "J", 28)
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return f.Write(out)
}

func record(row state.ExtractionRow) []string {
	values := cells(row)
	out := make([]string, len(values))
	for i, value := range values {
		switch v := value.(type) {
		case nil:
			out[i] = ""
		case string:
			out[i] = v
		case int:
			out[i] = strconv.Itoa(v)
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[i] = strconv.FormatBool(v)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

// cells renders row in Columns order. Absent optional values are nil.
func cells(row state.ExtractionRow) []any {
	var validated, correct any
	if row.ValidatedValue != nil {
		validated = *row.ValidatedValue
	}
	if row.IsCorrect != nil {
		correct = *row.IsCorrect
	}
	updated := ""
	if !row.UpdatedAt.IsZero() {
		updated = row.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return []any{
		row.Filename,
		row.Unit,
		row.DocumentID,
		row.DocumentTypeID,
		row.FieldID,
		row.Field,
		row.IsMissing,
		row.Value,
		row.UnformattedValue,
		validated,
		correct,
		row.Confidence,
		row.OCRConfidence,
		row.OperatorConfirmed,
		row.RowIndex,
		row.ColumnIndex,
		updated,
	}
}
