// Package state persists per-document pipeline progress in SQLite.
//
// Every input file owns one documents row keyed by filename. The row records
// the remote document id, the current stage, the operation id and duration of
// each stage, and the last error. Stages only move forward or into a *_failed
// variant; UpsertStage rejects anything else with ErrStageRegression, and
// Rewind is the single logged escape hatch used when a cached digitization is
// reused by a later batch.
//
// Classification results that split one file into several logical documents
// are tracked as extraction_units rows with their own stages. The classification
// and extraction tables hold the audit trail and the extracted values consumed
// by the results package.
package state
