// Package feedback applies human reviews of match results to the knowledge
// base.
//
// Record persists a review in the kb inbox before acknowledging it, so a
// crash between acknowledgement and processing loses nothing. Workers started
// by Start drain the inbox in the background; each entry is turned into a kb
// Effect by Plan and committed exactly once per match id, which keeps
// repeated deliveries from double-counting usage.
package feedback
