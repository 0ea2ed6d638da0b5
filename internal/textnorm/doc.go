// Package textnorm canonicalizes bill-of-quantities line items before any
// lookup: it detects the input language, folds case and diacritics, drops
// quantities, units and room references, and rewrites common construction
// terms into the working language.
package textnorm
