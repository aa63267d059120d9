// Package logging builds the slog loggers used across docflow.
//
// Stage code tags lines through WithContext so every record carries the
// input file, extraction unit, stage and run id. The console handler folds
// those into a subject such as "invoice.pdf#2/extraction" and prints the
// remaining fields as key=value pairs; the JSON handler keeps them as keys.
package logging
