// Package config loads, normalizes, and validates docflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DOCFLOW_BASE_URL and DOCFLOW_CLIENT_SECRET. The Config type centralizes the
// remote endpoint, credentials, stage switches, extractor routing, and polling
// policy so the CLI and pipeline read them in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
