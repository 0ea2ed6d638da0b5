// Package notifications publishes catalog and health events to ntfy so the
// people reviewing catalog imports hear about pending versions and failing
// health checks without watching the logs. With no topic configured every
// publish is a no-op.
package notifications
