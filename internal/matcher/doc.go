// Package matcher ranks catalog codes against a normalized line item.
//
// Scoring is purely local: an edit-distance similarity over the sorted
// significant tokens blended with a Dice overlap of their stems, plus small
// boosts for exact substring containment and a matching unit. Catalog names
// are normalized with the same textnorm.Normalizer as the query and cached
// per catalog version, so repeated requests only pay for the query side.
package matcher
