// Package verify is the tier-3 resolution step.
//
// A Verifier receives the normalized line item and a bounded shortlist of
// candidates and answers with one of those codes or NoMatchCode. CheckCandidate
// enforces that contract; callers must run every verdict through it before
// surfacing the code.
package verify
