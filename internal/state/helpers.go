package state

import (
	"database/sql"
	"errors"
	"time"
)

const documentColumns = "filename, document_id, stage, project_id, classifier_id, extractor_id, page_count, " +
	"digitization_operation_id, classification_operation_id, classification_validation_operation_id, extraction_operation_id, extraction_validation_operation_id, " +
	"digitization_duration, classification_duration, classification_validation_duration, extraction_duration, extraction_validation_duration, " +
	"error_code, error_message, cached_at, created_at, updated_at"

const unitColumns = "filename, unit_index, document_type_id, confidence, start_page, page_count, page_range, extractor_id, stage, " +
	"extraction_operation_id, extraction_validation_operation_id, extraction_duration, extraction_validation_duration, " +
	"error_code, error_message, created_at, updated_at"

var documentActions = []Action{
	ActionDigitization,
	ActionClassification,
	ActionClassificationValidation,
	ActionExtraction,
	ActionExtractionValidation,
}

var unitActions = []Action{ActionExtraction, ActionExtractionValidation}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(scanner rowScanner) (*Document, error) {
	var (
		doc          Document
		documentID   sql.NullString
		stage        string
		projectID    sql.NullString
		classifierID sql.NullString
		extractorID  sql.NullString
		pageCount    sql.NullInt64
		operations   [5]sql.NullString
		durations    [5]sql.NullFloat64
		errorCode    sql.NullString
		errorMessage sql.NullString
		cachedRaw    sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&doc.Filename, &documentID, &stage, &projectID, &classifierID, &extractorID, &pageCount,
		&operations[0], &operations[1], &operations[2], &operations[3], &operations[4],
		&durations[0], &durations[1], &durations[2], &durations[3], &durations[4],
		&errorCode, &errorMessage, &cachedRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	doc.DocumentID = documentID.String
	doc.Stage = Stage(stage)
	doc.ProjectID = projectID.String
	doc.ClassifierID = classifierID.String
	doc.ExtractorID = extractorID.String
	doc.PageCount = int(pageCount.Int64)
	doc.OperationIDs, doc.Durations = collectStageColumns(documentActions, operations[:], durations[:])
	doc.ErrorCode = errorCode.String
	doc.ErrorMessage = errorMessage.String
	if cachedRaw.Valid {
		if cached, err := parseTimeString(cachedRaw.String); err == nil {
			doc.CachedAt = &cached
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		doc.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		doc.UpdatedAt = updated
	}
	return &doc, nil
}

func scanUnit(scanner rowScanner) (*Unit, error) {
	var (
		unit         Unit
		docType      sql.NullString
		confidence   sql.NullFloat64
		startPage    sql.NullInt64
		pageCount    sql.NullInt64
		pageRange    sql.NullString
		extractorID  sql.NullString
		stage        string
		operations   [2]sql.NullString
		durations    [2]sql.NullFloat64
		errorCode    sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&unit.Filename, &unit.Index, &docType, &confidence, &startPage, &pageCount, &pageRange, &extractorID, &stage,
		&operations[0], &operations[1], &durations[0], &durations[1],
		&errorCode, &errorMessage, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	unit.DocumentTypeID = docType.String
	unit.Confidence = confidence.Float64
	unit.StartPage = int(startPage.Int64)
	unit.PageCount = int(pageCount.Int64)
	unit.PageRange = pageRange.String
	unit.ExtractorID = extractorID.String
	unit.Stage = Stage(stage)
	unit.OperationIDs, unit.Durations = collectStageColumns(unitActions, operations[:], durations[:])
	unit.ErrorCode = errorCode.String
	unit.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		unit.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		unit.UpdatedAt = updated
	}
	return &unit, nil
}

func collectStageColumns(actions []Action, operations []sql.NullString, durations []sql.NullFloat64) (map[Action]string, map[Action]time.Duration) {
	ops := make(map[Action]string)
	durs := make(map[Action]time.Duration)
	for i, action := range actions {
		if operations[i].Valid && operations[i].String != "" {
			ops[action] = operations[i].String
		}
		if durations[i].Valid {
			durs[action] = time.Duration(durations[i].Float64 * float64(time.Second))
		}
	}
	return ops, durs
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value <= 0 {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
