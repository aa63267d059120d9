package state

import (
	"context"
	"database/sql"
	"fmt"
)

// PlanUnits replaces the extraction units of filename with plans, each
// starting at init.
func (s *Store) PlanUnits(ctx context.Context, filename string, plans []UnitPlan) error {
	now := s.timestamp()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM extraction_units WHERE filename = ?`, filename); err != nil {
			return err
		}
		for _, plan := range plans {
			if plan.Index <= 0 {
				return fmt.Errorf("unit index must be positive, got %d", plan.Index)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO extraction_units (
                    filename, unit_index, document_type_id, confidence, start_page, page_count, page_range,
                    stage, created_at, updated_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				filename,
				plan.Index,
				nullableString(plan.DocumentTypeID),
				plan.Confidence,
				plan.StartPage,
				nullableInt(plan.PageCount),
				nullableString(plan.PageRange),
				StageInit,
				now,
				now,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("plan units for %s: %w", filename, err)
	}
	return nil
}

// ListUnits returns the extraction units of filename ordered by index.
func (s *Store) ListUnits(ctx context.Context, filename string) ([]*Unit, error) {
	return s.queryUnits(ctx, `SELECT `+unitColumns+` FROM extraction_units WHERE filename = ? ORDER BY unit_index`, filename)
}

// PendingValidations returns every unit parked at
// extraction-validation-submitted, oldest first.
func (s *Store) PendingValidations(ctx context.Context) ([]*Unit, error) {
	return s.queryUnits(ctx,
		`SELECT `+unitColumns+` FROM extraction_units WHERE stage = ? ORDER BY updated_at, filename, unit_index`,
		StageExtractionValidationSubmitted,
	)
}

func (s *Store) queryUnits(ctx context.Context, query string, args ...any) ([]*Unit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var units []*Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}
