package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"docflow/internal/logging"
)

// UpsertStage records a stage transition, inserting the document (or unit)
// row when none exists. Concurrent callers on distinct filenames never
// interfere because each update runs in its own immediate transaction.
func (s *Store) UpsertStage(ctx context.Context, update StageUpdate) error {
	update.Filename = strings.TrimSpace(update.Filename)
	if update.Filename == "" {
		return errors.New("upsert stage: filename is required")
	}
	if !update.Stage.Known() {
		return fmt.Errorf("upsert stage: unknown stage %q", update.Stage)
	}
	if update.Action != "" && !update.Action.valid() {
		return fmt.Errorf("upsert stage: unknown action %q", update.Action)
	}
	if update.Action == "" && (update.OperationID != "" || update.Duration > 0) {
		return errors.New("upsert stage: operation id or duration requires an action")
	}
	if update.Unit > 0 {
		return s.upsertUnitStage(ctx, update)
	}
	return s.upsertDocumentStage(ctx, update)
}

func (s *Store) upsertDocumentStage(ctx context.Context, update StageUpdate) error {
	now := s.timestamp()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			current    string
			documentID sql.NullString
		)
		err := tx.QueryRowContext(ctx, `SELECT stage, document_id FROM documents WHERE filename = ?`, update.Filename).
			Scan(&current, &documentID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (filename, stage, created_at, updated_at) VALUES (?, ?, ?, ?)`,
				update.Filename, update.Stage, now, now,
			); err != nil {
				return fmt.Errorf("insert document: %w", err)
			}
		case err != nil:
			return fmt.Errorf("read document: %w", err)
		default:
			if !canTransition(Stage(current), update.Stage) {
				return fmt.Errorf("%w: %s %s -> %s", ErrStageRegression, update.Filename, current, update.Stage)
			}
			if update.DocumentID != "" && documentID.Valid && documentID.String != "" && documentID.String != update.DocumentID {
				return fmt.Errorf("%w: %s has %s, got %s", ErrDocumentIDImmutable, update.Filename, documentID.String, update.DocumentID)
			}
		}

		sets, args := stageAssignments(update, now)
		if update.DocumentID != "" {
			sets = append(sets, "document_id = COALESCE(document_id, ?)")
			args = append(args, update.DocumentID)
			if update.Stage == StageDigitized {
				sets = append(sets, "cached_at = ?")
				args = append(args, now)
			}
		}
		if update.ProjectID != "" {
			sets = append(sets, "project_id = ?")
			args = append(args, update.ProjectID)
		}
		if update.ClassifierID != "" {
			sets = append(sets, "classifier_id = ?")
			args = append(args, update.ClassifierID)
		}
		if update.ExtractorID != "" {
			sets = append(sets, "extractor_id = ?")
			args = append(args, update.ExtractorID)
		}
		if update.PageCount > 0 {
			sets = append(sets, "page_count = ?")
			args = append(args, update.PageCount)
		}
		args = append(args, update.Filename)
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET `+strings.Join(sets, ", ")+` WHERE filename = ?`, args...); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert stage %s: %w", update.Stage, err)
	}
	return nil
}

func (s *Store) upsertUnitStage(ctx context.Context, update StageUpdate) error {
	if update.Action != "" && !update.Action.unitScoped() {
		return fmt.Errorf("upsert stage: action %q does not apply to extraction units", update.Action)
	}
	now := s.timestamp()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT stage FROM extraction_units WHERE filename = ? AND unit_index = ?`,
			update.Filename, update.Unit,
		).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO extraction_units (filename, unit_index, stage, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
				update.Filename, update.Unit, update.Stage, now, now,
			); err != nil {
				return fmt.Errorf("insert unit: %w", err)
			}
		case err != nil:
			return fmt.Errorf("read unit: %w", err)
		default:
			if !canTransition(Stage(current), update.Stage) {
				return fmt.Errorf("%w: %s#%d %s -> %s", ErrStageRegression, update.Filename, update.Unit, current, update.Stage)
			}
		}

		sets, args := stageAssignments(update, now)
		if update.ExtractorID != "" {
			sets = append(sets, "extractor_id = ?")
			args = append(args, update.ExtractorID)
		}
		args = append(args, update.Filename, update.Unit)
		if _, err := tx.ExecContext(ctx,
			`UPDATE extraction_units SET `+strings.Join(sets, ", ")+` WHERE filename = ? AND unit_index = ?`,
			args...,
		); err != nil {
			return fmt.Errorf("update unit: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert unit %d stage %s: %w", update.Unit, update.Stage, err)
	}
	return nil
}

// stageAssignments builds the SET clauses shared by document and unit rows.
// Column names come from the Action enum, never from caller strings.
func stageAssignments(update StageUpdate, now string) ([]string, []any) {
	sets := []string{"stage = ?", "updated_at = ?"}
	args := []any{update.Stage, now}
	if update.Stage.Failed() {
		sets = append(sets, "error_code = ?", "error_message = ?")
		args = append(args, nullableString(update.ErrorCode), nullableString(update.ErrorMessage))
	} else {
		sets = append(sets, "error_code = NULL", "error_message = NULL")
	}
	if update.Action != "" {
		if update.OperationID != "" {
			sets = append(sets, update.Action.operationColumn()+" = ?")
			args = append(args, update.OperationID)
		}
		if update.Duration > 0 {
			sets = append(sets, update.Action.durationColumn()+" = ?")
			args = append(args, update.Duration.Seconds())
		}
	}
	return sets, args
}

// Rewind moves a document back to an earlier stage. It is the only backwards
// transition and is always logged. Rewinding before extract-pending drops the
// document's extraction units so the next classification can plan new ones.
func (s *Store) Rewind(ctx context.Context, filename string, to Stage, reason string) error {
	if _, ok := stageRank[to]; !ok {
		return fmt.Errorf("rewind: %q is not a forward stage", to)
	}
	var from string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT stage FROM documents WHERE filename = ?`, filename).Scan(&from)
		if errors.Is(err, sql.ErrNoRows) {
			from = ""
			return nil
		}
		if err != nil {
			return err
		}
		if Stage(from) == to {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET stage = ?, error_code = NULL, error_message = NULL, updated_at = ? WHERE filename = ?`,
			to, s.timestamp(), filename,
		); err != nil {
			return err
		}
		if to.Before(StageExtractPending) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM extraction_units WHERE filename = ?`, filename); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rewind %s: %w", filename, err)
	}
	if from != "" && Stage(from) != to {
		s.logger.Info("document rewound",
			logging.String(logging.FieldDocument, filename),
			logging.String("from", from),
			logging.String("to", string(to)),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "stage_rewind"),
		)
	}
	return nil
}

// LookupCachedDocumentID returns the digitized document id for filename when
// it is younger than the cache expiry. Expired rows are evicted together with
// their units and ErrCacheExpired is returned.
func (s *Store) LookupCachedDocumentID(ctx context.Context, filename string) (string, bool, error) {
	var (
		documentID sql.NullString
		cachedRaw  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, cached_at FROM documents WHERE filename = ?`, filename,
	).Scan(&documentID, &cachedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup cached document id: %w", err)
	}
	if !documentID.Valid || documentID.String == "" || !cachedRaw.Valid {
		return "", false, nil
	}
	cachedAt, err := parseTimeString(cachedRaw.String)
	if err != nil {
		return "", false, nil
	}

	age := s.now().Sub(cachedAt)
	if age <= s.expiry {
		return documentID.String, true, nil
	}

	if _, err := s.execWithRetry(ctx, `DELETE FROM documents WHERE filename = ?`, filename); err != nil {
		return "", false, fmt.Errorf("evict expired document: %w", err)
	}
	s.logger.Info("cached document id expired",
		logging.String(logging.FieldDocument, filename),
		logging.String("document_id", documentID.String),
		logging.Duration("age", age.Round(time.Second)),
		logging.String(logging.FieldEventType, "cache_expired"),
	)
	return "", false, fmt.Errorf("%w: %s", ErrCacheExpired, filename)
}

// Get fetches a document by filename. It returns nil when no row exists.
func (s *Store) Get(ctx context.Context, filename string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE filename = ?`, filename)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// List returns documents filtered by stage (or all documents when no stage is
// provided), ordered by filename.
func (s *Store) List(ctx context.Context, stages ...Stage) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	args := make([]any, 0, len(stages))
	if len(stages) > 0 {
		query += ` WHERE stage IN (` + makePlaceholders(len(stages)) + `)`
		for _, stage := range stages {
			args = append(args, stage)
		}
	}
	query += ` ORDER BY filename`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListByStage returns documents at exactly one stage.
func (s *Store) ListByStage(ctx context.Context, stage Stage) ([]*Document, error) {
	return s.List(ctx, stage)
}

// StageCounts returns the number of documents per stage.
func (s *Store) StageCounts(ctx context.Context) (map[Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM documents GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("count stages: %w", err)
	}
	defer rows.Close()

	counts := make(map[Stage]int)
	for rows.Next() {
		var (
			stage string
			count int
		)
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		counts[Stage(stage)] = count
	}
	return counts, rows.Err()
}

// Purge deletes document state for the given filenames, or for every document
// when none are given. Audit and extraction tables are kept.
func (s *Store) Purge(ctx context.Context, filenames ...string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if len(filenames) == 0 {
		res, err = s.execWithRetry(ctx, `DELETE FROM documents`)
	} else {
		args := make([]any, len(filenames))
		for i, name := range filenames {
			args[i] = name
		}
		res, err = s.execWithRetry(ctx, `DELETE FROM documents WHERE filename IN (`+makePlaceholders(len(filenames))+`)`, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("purge documents: %w", err)
	}
	return res.RowsAffected()
}
