// Package coordinator decides when a selection becomes a query.
//
// The reader's selection changes many times a second while they drag. The
// Coordinator debounces those changes, cancels work that a newer selection
// made pointless, and guarantees that only the newest selection's outcome is
// ever applied:
//
//	idle ──Select──▶ pending ──timer──▶ fetching ──▶ settled | failed
//	                   │                   │
//	                   └──Select/Cancel────┴──▶ pending | cancelled
//
// Each transition that makes earlier work obsolete advances a generation
// counter. Completions carry the generation they started under and are
// discarded when it no longer matches. Context cancellation of the
// superseded fetch is only an optimisation.
//
// Selections shorter than MinLength runes reset the coordinator to idle and
// clear results. Re-selecting the text that is already pending, running or
// settled does nothing.
//
// Search is the manual path. It skips the debounce, runs on the caller's
// goroutine and returns the results directly.
package coordinator
