package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// InsertClassification appends one classification audit row.
func (s *Store) InsertClassification(ctx context.Context, record ClassificationRecord) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO classification (
            document_id, filename, document_type_id, classification_confidence,
            start_page, page_count, classifier_name, operation_id, validated, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.DocumentID,
		record.Filename,
		record.DocumentTypeID,
		record.Confidence,
		record.StartPage,
		record.PageCount,
		record.ClassifierName,
		record.OperationID,
		boolToInt(record.Validated),
		s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("insert classification: %w", err)
	}
	return nil
}

// Classifications returns the audit rows for filename in insertion order.
func (s *Store) Classifications(ctx context.Context, filename string) ([]ClassificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, filename, document_type_id, classification_confidence, start_page, page_count,
                classifier_name, operation_id, validated, created_at
         FROM classification WHERE filename = ? ORDER BY id`,
		filename,
	)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	var records []ClassificationRecord
	for rows.Next() {
		var (
			record     ClassificationRecord
			validated  int
			createdRaw string
		)
		if err := rows.Scan(
			&record.ID, &record.DocumentID, &record.Filename, &record.DocumentTypeID, &record.Confidence,
			&record.StartPage, &record.PageCount, &record.ClassifierName, &record.OperationID, &validated, &createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		record.Validated = validated != 0
		if created, err := parseTimeString(createdRaw); err == nil {
			record.CreatedAt = created
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// InsertExtractionRows replaces the stored extraction rows of one unit.
func (s *Store) InsertExtractionRows(ctx context.Context, filename string, unit int, rows []ExtractionRow) error {
	now := s.timestamp()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM extraction WHERE filename = ? AND unit_index = ?`, filename, unit); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO extraction (
                filename, unit_index, document_id, document_type_id, field_id, field, is_missing,
                field_value, field_unformatted_value, confidence, ocr_confidence, operator_confirmed,
                row_index, column_index, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx,
				filename,
				unit,
				row.DocumentID,
				row.DocumentTypeID,
				row.FieldID,
				row.Field,
				boolToInt(row.IsMissing),
				nullableString(row.Value),
				nullableString(row.UnformattedValue),
				row.Confidence,
				row.OCRConfidence,
				boolToInt(row.OperatorConfirmed),
				row.RowIndex,
				row.ColumnIndex,
				now,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert extraction rows for %s#%d: %w", filename, unit, err)
	}
	return nil
}

// ApplyValidatedRows stores reviewed values against the unit's extraction
// rows. A row is correct when the reviewer neither typed nor changed the
// automated value. It returns the number of rows matched.
func (s *Store) ApplyValidatedRows(ctx context.Context, filename string, unit int, rows []ValidatedRow) (int64, error) {
	now := s.timestamp()
	var matched int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		matched = 0
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE extraction
             SET validated_field_value = ?, operator_confirmed = ?,
                 is_correct = CASE WHEN ? THEN 0 WHEN COALESCE(field_value, '') = ? THEN 1 ELSE 0 END,
                 updated_at = ?
             WHERE filename = ? AND unit_index = ? AND field_id = ? AND field = ? AND row_index = ? AND column_index = ?`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, row := range rows {
			res, err := stmt.ExecContext(ctx,
				row.Value,
				boolToInt(row.OperatorConfirmed),
				boolToInt(row.ManuallyChanged()),
				row.Value,
				now,
				filename,
				unit,
				row.FieldID,
				row.Field,
				row.RowIndex,
				row.ColumnIndex,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			matched += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply validated rows for %s#%d: %w", filename, unit, err)
	}
	return matched, nil
}

// ExtractionRows returns stored rows for the given filenames (all files when
// none are given) ordered for export.
func (s *Store) ExtractionRows(ctx context.Context, filenames ...string) ([]ExtractionRow, error) {
	query := `SELECT filename, unit_index, document_id, document_type_id, field_id, field, is_missing,
                     field_value, field_unformatted_value, validated_field_value, is_correct,
                     confidence, ocr_confidence, operator_confirmed, row_index, column_index, updated_at
              FROM extraction`
	args := make([]any, 0, len(filenames))
	if len(filenames) > 0 {
		query += ` WHERE filename IN (` + makePlaceholders(len(filenames)) + `)`
		for _, name := range filenames {
			args = append(args, strings.TrimSpace(name))
		}
	}
	query += ` ORDER BY filename, unit_index, row_index >= 0, field_id, row_index, column_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query extraction rows: %w", err)
	}
	defer rows.Close()

	var out []ExtractionRow
	for rows.Next() {
		var (
			row               ExtractionRow
			isMissing         int
			value             sql.NullString
			unformatted       sql.NullString
			validated         sql.NullString
			isCorrect         sql.NullInt64
			confidence        sql.NullFloat64
			ocrConfidence     sql.NullFloat64
			operatorConfirmed sql.NullInt64
			updatedRaw        string
		)
		if err := rows.Scan(
			&row.Filename, &row.Unit, &row.DocumentID, &row.DocumentTypeID, &row.FieldID, &row.Field, &isMissing,
			&value, &unformatted, &validated, &isCorrect,
			&confidence, &ocrConfidence, &operatorConfirmed, &row.RowIndex, &row.ColumnIndex, &updatedRaw,
		); err != nil {
			return nil, fmt.Errorf("scan extraction row: %w", err)
		}
		row.IsMissing = isMissing != 0
		row.Value = value.String
		row.UnformattedValue = unformatted.String
		if validated.Valid {
			v := validated.String
			row.ValidatedValue = &v
		}
		if isCorrect.Valid {
			v := isCorrect.Int64 != 0
			row.IsCorrect = &v
		}
		row.Confidence = confidence.Float64
		row.OCRConfidence = ocrConfidence.Float64
		row.OperatorConfirmed = operatorConfirmed.Int64 != 0
		if updated, err := parseTimeString(updatedRaw); err == nil {
			row.UpdatedAt = updated
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
