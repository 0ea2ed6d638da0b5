// Package config loads, normalizes, and validates boqmatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BOQMATCH_LLM_API_KEY. The Config type centralizes the tier thresholds,
// provider selection, catalog validation rules and job schedules the daemon
// and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
