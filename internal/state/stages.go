package state

import "fmt"

// Stage is a position in the document pipeline.
type Stage string

// Pipeline stages in forward order.
const (
	StageInit                              Stage = "init"
	StageDigitizePending                   Stage = "digitize-pending"
	StageDigitized                         Stage = "digitized"
	StageClassifyInit                      Stage = "classify_init"
	StageClassified                        Stage = "classified"
	StageClassificationValidationSubmitted Stage = "classification-validation-submitted"
	StageClassificationValidation          Stage = "classification_validation"
	StageExtractPending                    Stage = "extract-pending"
	StageExtracted                         Stage = "extracted"
	StageExtractionValidationSubmitted     Stage = "extraction-validation-submitted"
	StageExtractionValidation              Stage = "extraction_validation"
)

// Failure stages, one per action.
const (
	StageDigitizeFailed                 Stage = "digitize_failed"
	StageClassifyFailed                 Stage = "classify_failed"
	StageClassificationValidationFailed Stage = "classification_validation_failed"
	StageExtractFailed                  Stage = "extract_failed"
	StageExtractionValidationFailed     Stage = "extraction_validation_failed"
)

var stageRank = map[Stage]int{
	StageInit:                              0,
	StageDigitizePending:                   1,
	StageDigitized:                         2,
	StageClassifyInit:                      3,
	StageClassified:                        4,
	StageClassificationValidationSubmitted: 5,
	StageClassificationValidation:          6,
	StageExtractPending:                    7,
	StageExtracted:                         8,
	StageExtractionValidationSubmitted:     9,
	StageExtractionValidation:              10,
}

var failedStages = map[Stage]struct{}{
	StageDigitizeFailed:                 {},
	StageClassifyFailed:                 {},
	StageClassificationValidationFailed: {},
	StageExtractFailed:                  {},
	StageExtractionValidationFailed:     {},
}

// Stages returns every known stage, forward stages first.
func Stages() []Stage {
	return []Stage{
		StageInit,
		StageDigitizePending,
		StageDigitized,
		StageClassifyInit,
		StageClassified,
		StageClassificationValidationSubmitted,
		StageClassificationValidation,
		StageExtractPending,
		StageExtracted,
		StageExtractionValidationSubmitted,
		StageExtractionValidation,
		StageDigitizeFailed,
		StageClassifyFailed,
		StageClassificationValidationFailed,
		StageExtractFailed,
		StageExtractionValidationFailed,
	}
}

// ParseStage validates a stage name.
func ParseStage(value string) (Stage, error) {
	stage := Stage(value)
	if stage.Known() {
		return stage, nil
	}
	return "", fmt.Errorf("unknown stage %q", value)
}

// Known reports whether s is a recognised stage.
func (s Stage) Known() bool {
	if _, ok := stageRank[s]; ok {
		return true
	}
	return s.Failed()
}

// Failed reports whether s is a *_failed stage.
func (s Stage) Failed() bool {
	_, ok := failedStages[s]
	return ok
}

// Before reports whether s precedes other in the forward order. Failed stages
// are never before anything.
func (s Stage) Before(other Stage) bool {
	a, okA := stageRank[s]
	b, okB := stageRank[other]
	return okA && okB && a < b
}

func (s Stage) String() string { return string(s) }

// canTransition reports whether a row at from may be written with to.
func canTransition(from, to Stage) bool {
	if from == "" || from == to {
		return true
	}
	if from.Failed() {
		return false
	}
	if to.Failed() {
		return true
	}
	return from.Before(to)
}

// Action names a remote stage. It doubles as the column prefix for the
// stage's operation id and duration.
type Action string

const (
	ActionDigitization             Action = "digitization"
	ActionClassification           Action = "classification"
	ActionClassificationValidation Action = "classification_validation"
	ActionExtraction               Action = "extraction"
	ActionExtractionValidation     Action = "extraction_validation"
)

func (a Action) valid() bool {
	switch a {
	case ActionDigitization, ActionClassification, ActionClassificationValidation, ActionExtraction, ActionExtractionValidation:
		return true
	}
	return false
}

func (a Action) unitScoped() bool {
	return a == ActionExtraction || a == ActionExtractionValidation
}

// FailedStage returns the *_failed stage recorded when the action fails.
func (a Action) FailedStage() Stage {
	switch a {
	case ActionDigitization:
		return StageDigitizeFailed
	case ActionClassification:
		return StageClassifyFailed
	case ActionClassificationValidation:
		return StageClassificationValidationFailed
	case ActionExtraction:
		return StageExtractFailed
	case ActionExtractionValidation:
		return StageExtractionValidationFailed
	}
	return ""
}

// DoneStage returns the stage recorded when the action succeeds.
func (a Action) DoneStage() Stage {
	switch a {
	case ActionDigitization:
		return StageDigitized
	case ActionClassification:
		return StageClassified
	case ActionClassificationValidation:
		return StageClassificationValidation
	case ActionExtraction:
		return StageExtracted
	case ActionExtractionValidation:
		return StageExtractionValidation
	}
	return ""
}

func (a Action) operationColumn() string { return string(a) + "_operation_id" }

func (a Action) durationColumn() string { return string(a) + "_duration" }
