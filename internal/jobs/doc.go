// Package jobs holds the bodies of the scheduled maintenance jobs:
// auto-approval of pending catalog versions, knowledge-base cleanup with
// related-item learning, and the catalog health check. The same bodies back
// the on-demand API and CLI commands.
package jobs
