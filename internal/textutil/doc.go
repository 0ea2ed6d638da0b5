// Package textutil provides the token and string similarity measures shared
// by the knowledge base fuzzy lookup, the block classifier and the local
// matcher.
//
//   - Vector / Corpus: term-count vectors with optional IDF weights
//     and cosine similarity, used to score section vocabularies.
//   - EditSimilarity: optimal string alignment (Damerau-Levenshtein) distance
//     normalized to [0,1], used for near-duplicate text.
//   - Dice: set overlap of token lists.
//
// Input is expected to be normalized already (folded, diacritics removed).
package textutil
