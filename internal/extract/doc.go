// Package extract runs field extraction for one classified unit and decodes
// the service's ResultsDocument into a tree of scalar and table fields.
//
// Table fields arrive as cell lists. Row 0 holds the header cells and names
// the columns; data rows start at 1. Decoded rows are persisted with scalar
// fields at row and column -1 so exports list them ahead of table cells.
package extract
