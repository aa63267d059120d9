// Package textutil turns free-form labels such as document type names into
// tokens that are safe to use in file names.
package textutil
