// Package classify runs document classification and records one audit row
// per logical document found in the file.
package classify
