// Package services defines shared utilities consumed by the pipeline stages
// and the remote service integrations.
//
// Key responsibilities:
//   - Context helpers that stamp the input filename, stage name, extraction
//     unit, and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, so stage failures can be
//     classified (network, remote operation, malformed response) and persisted
//     with a stable error code.
//
// Subpackages hold the HTTP integrations: du talks to the document
// understanding service and auth supplies its bearer tokens.
package services
