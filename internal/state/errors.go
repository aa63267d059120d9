package state

import "errors"

var (
	// ErrStageRegression is returned when an update would move a row backwards
	// or out of a failed stage.
	ErrStageRegression = errors.New("stage regression")
	// ErrDocumentIDImmutable is returned when an update tries to replace an
	// assigned document id.
	ErrDocumentIDImmutable = errors.New("document id already assigned")
	// ErrCacheExpired signals that a cached document id was evicted. It is not a
	// failure; callers re-digitize.
	ErrCacheExpired = errors.New("cached document id expired")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
