// Package main hosts the docflow CLI.
//
// The Cobra command tree loads configuration once, wires the state store,
// the remote service client and the pipeline, and renders results for the
// terminal. Batch commands (run, sweep) hold a file lock on the state
// directory so two processes never drive the same documents at once.
package main
