// Command boqmatch resolves bill-of-quantities line items to catalog codes.
//
// `boqmatch serve` runs the daemon with the HTTP API, feedback workers and
// maintenance jobs. The remaining commands open the same stores directly for
// one-shot use: matching a line item, managing catalog versions, inspecting
// the knowledge base and checking the configuration.
package main
