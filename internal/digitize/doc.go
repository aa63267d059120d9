// Package digitize uploads input files for OCR and tracks the resulting
// document id.
//
// Digitization is cached by filename in the state store: a file digitized
// within the cache window is never uploaded again, and its row is rewound
// to digitized so later stages run afresh.
package digitize
