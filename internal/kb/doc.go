// Package kb is the tier-1 knowledge base: confirmed normalized_text → code
// mappings keyed by a sha256 over the normalized text and the canonical
// project context, scoped to one catalog version.
//
// Besides mappings the store keeps the match log (so feedback can refer to a
// match by id without the raw request), the feedback inbox and processed
// markers that make feedback idempotent, and advisory related-item edges.
// All state lives in one SQLite database.
package kb
