// Package results exports the extraction table as CSV or XLSX.
package results
