// Package du is the HTTP transport for the remote document understanding
// service.
//
// It knows the endpoint templates for every stage, attaches bearer tokens,
// decodes the {status, result, error} operation envelope and maps transport
// failures onto the services error markers. Stage semantics live in the
// stage client packages; this package never interprets a result payload.
package du
