// Package catalog owns the versioned classification catalog.
//
// Versions move through pending → approved → active → inactive → archived
// (with rejected as a side exit). Submission validates a version against the
// configured Policy; approval requires that validation passed. Activation
// swaps the single active pointer and demotes the previous version inside one
// SQLite transaction, and a partial unique index guarantees that at most one
// row is ever active.
//
// Readers never hold a version id across requests: Store.Active re-reads the
// pointer and returns an immutable Snapshot that the caller resolves every
// code against for the rest of the request.
package catalog
