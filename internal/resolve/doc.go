// Package resolve is the match orchestrator.
//
// A request moves through normalized, kb_checked, classified, local_matched
// and optionally verified before a result is produced. The catalog snapshot
// is taken once at the start, so every code in one result comes from the
// same version even when an activation lands mid-request. Dependency
// failures degrade to the best local candidate; only invalid input and a
// missing active catalog are errors.
package resolve
