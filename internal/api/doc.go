// Package api defines the wire-format types of the HTTP surface and the
// Service that backs both the HTTP handlers and the CLI.
//
// # Error codes
//
// Every failure is reported as {"error": "...", "code": "..."} where code is
// one of INVALID_INPUT, NO_ACTIVE_CATALOG, NOT_FOUND, INVALID_TRANSITION,
// VALIDATION_FAILED or INTERNAL. ErrorStatus maps a domain error to the code
// and the HTTP status; callers should not inspect messages.
//
// # Design Notes
//
// Match results and catalog versions are passed through with their
// snake_case JSON tags. Timestamps are RFC3339 in UTC.
package api
