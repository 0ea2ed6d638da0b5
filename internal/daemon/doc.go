// Package daemon runs the long-lived boqmatch process: it holds the
// single-instance lock, serves the HTTP API and keeps the feedback workers
// and the maintenance scheduler running until stopped.
package daemon
