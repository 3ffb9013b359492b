// Package queue implements the terminal-flag propagation protocol shared
// by every pipeline stage (spec §4.4): each queue message carries a small
// fixed set of control flags, and the invariant that exactly one message
// per step carries first_item/last_item, and exactly one message per job
// run carries last_job_item, must hold regardless of how much fan-out a
// stage performs.
package queue

// ControlFlags is the fixed set of terminal markers every stage message
// carries, independent of its stage-specific payload.
type ControlFlags struct {
	// FirstItem is set on exactly one message per step: the very first
	// of the whole step across all fan-out.
	FirstItem bool `json:"first_item,omitempty"`

	// LastItem is set on exactly one message per step: the very last of
	// the whole step across all fan-out, not merely the current page.
	LastItem bool `json:"last_item,omitempty"`

	// LastJobItem is set on exactly one message in the entire job run;
	// its arrival at the embed stage triggers chaining.
	LastJobItem bool `json:"last_job_item,omitempty"`

	// RateLimited marks a completion message emitted because extraction
	// stopped on a rate-limit boundary rather than because the stage
	// reached the end of its data. A rate-limited completion still
	// carries LastItem=LastJobItem=true, but tells the orchestrator to
	// requeue the job as PENDING with its checkpoint instead of marking
	// it FINISHED.
	RateLimited bool `json:"rate_limited,omitempty"`
}

// IsCompletionMarker reports whether these flags are the set a
// completion message carries (spec GLOSSARY "Completion message"):
// LastJobItem together with LastItem or RateLimited. It looks at the
// flags only, not at whether the message carries a data row, so the last
// data message of a run, which carries LastItem and LastJobItem, matches
// too.
func (f ControlFlags) IsCompletionMarker() bool {
	return f.LastJobItem && (f.RateLimited || f.LastItem)
}

// RelayBit tracks, across an arbitrarily deep fan-out producer, whether
// the branch currently being produced is the one that will eventually
// carry the terminal flag onward (spec GLOSSARY "Relay bit"). It is
// threaded down through nested producers (repo -> PR -> nested edge) and
// collapsed into ControlFlags only at the point where a branch commits
// to emitting its last child.
type RelayBit struct {
	// IsLastBranch is true for exactly one sibling at this fan-out
	// level (e.g. the last repository of a search, the last PR page of
	// a repository).
	IsLastBranch bool

	// NoFurtherPages is true once the producer knows it will not fetch
	// another page for this branch (hasNextPage=false or the provider's
	// page ceiling was reached).
	NoFurtherPages bool

	// NoFurtherNesting is true once the producer knows this branch has
	// no deeper sub-fan-out left to enqueue (e.g. all four nested edge
	// kinds for a pull request have been fully paginated).
	NoFurtherNesting bool
}

// Resolved reports whether this relay bit has reached the point where a
// terminal flag may actually be set on an outbound message: the branch
// must be the last sibling, with no further pages and no further nested
// fan-out remaining.
func (r RelayBit) Resolved() bool {
	return r.IsLastBranch && r.NoFurtherPages && r.NoFurtherNesting
}

// Child derives the relay bit passed to one child of a fan-out producer.
// isLastChild is true for exactly one child among the current batch;
// parent carries whatever was inherited from the level above.
func (r RelayBit) Child(isLastChild bool) RelayBit {
	return RelayBit{
		IsLastBranch:     r.IsLastBranch && isLastChild,
		NoFurtherPages:   r.NoFurtherPages,
		NoFurtherNesting: r.NoFurtherNesting,
	}
}
