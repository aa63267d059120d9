package state

import "time"

// Document is the persisted progress of one input file.
type Document struct {
	Filename     string
	DocumentID   string
	Stage        Stage
	ProjectID    string
	ClassifierID string
	ExtractorID  string
	PageCount    int
	OperationIDs map[Action]string
	Durations    map[Action]time.Duration
	ErrorCode    string
	ErrorMessage string
	CachedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Unit is one logical document found inside an input file by classification.
// Unit indexes are 1-based.
type Unit struct {
	Filename       string
	Index          int
	DocumentTypeID string
	Confidence     float64
	StartPage      int
	PageCount      int
	PageRange      string
	ExtractorID    string
	Stage          Stage
	OperationIDs   map[Action]string
	Durations      map[Action]time.Duration
	ErrorCode      string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UnitPlan describes a unit before extraction starts.
type UnitPlan struct {
	Index          int
	DocumentTypeID string
	Confidence     float64
	StartPage      int
	PageCount      int
	PageRange      string
}

// StageUpdate is a single stage transition. Unit > 0 addresses an extraction
// unit row instead of the document row. Zero-valued optional fields leave the
// stored column untouched.
type StageUpdate struct {
	Filename     string
	Unit         int
	DocumentID   string
	Stage        Stage
	Action       Action
	OperationID  string
	Duration     time.Duration
	ErrorCode    string
	ErrorMessage string
	ProjectID    string
	ClassifierID string
	ExtractorID  string
	PageCount    int
}

// ClassificationRecord is one append-only classification audit row.
type ClassificationRecord struct {
	ID             int64
	DocumentID     string
	Filename       string
	DocumentTypeID string
	Confidence     float64
	StartPage      int
	PageCount      int
	ClassifierName string
	OperationID    string
	Validated      bool
	CreatedAt      time.Time
}

// ExtractionRow is one scalar field or one table cell. Scalar fields use
// RowIndex and ColumnIndex -1.
type ExtractionRow struct {
	Filename          string
	Unit              int
	DocumentID        string
	DocumentTypeID    string
	FieldID           string
	Field             string
	IsMissing         bool
	Value             string
	UnformattedValue  string
	ValidatedValue    *string
	IsCorrect         *bool
	Confidence        float64
	OCRConfidence     float64
	OperatorConfirmed bool
	RowIndex          int
	ColumnIndex       int
	UpdatedAt         time.Time
}

// ValidatedRow is the human-reviewed value for a previously stored row.
type ValidatedRow struct {
	FieldID           string
	Field             string
	RowIndex          int
	ColumnIndex       int
	Value             string
	OperatorConfirmed bool
	DataSource        string
}

// ManuallyChanged reports whether the reviewer typed the value instead of
// confirming the automated one.
func (r ValidatedRow) ManuallyChanged() bool {
	return r.DataSource == "ManuallyChanged" || r.DataSource == "Manual"
}
