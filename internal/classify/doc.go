// Package classify narrows a line item to a few catalog sections before
// local matching.
//
// Keyword is the local classifier: it learns an IDF-weighted vocabulary per
// section from the active catalog snapshot and can be steered with a YAML
// rules file. LLM asks a chat completion model to pick from the known
// sections. Chain runs a primary classifier under a short timeout and falls
// back to a local one, and never answers with zero sections.
package classify
