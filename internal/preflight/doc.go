// Package preflight provides readiness checks for the filesystem and the
// external model endpoint that boqmatch depends on.
//
// These checks run in two contexts:
//   - The health_check job folds RunAll into the catalog health report, so a
//     full disk or an unwritable data directory shows up next to catalog
//     problems.
//   - The CLI "boqmatch catalog health" command prints them.
//
// The LLM check is only run when a model-backed provider is configured.
package preflight
