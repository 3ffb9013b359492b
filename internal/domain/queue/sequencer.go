package queue

// Sequencer assigns ControlFlags.FirstItem/LastItem across a batch of N
// sibling messages being emitted by one fan-out producer, given whether
// this producer's batch is itself the step's first/last according to the
// relay bits inherited from its parent.
//
// It exists so that "is this the k-th of n, and do I also own the
// step-level boundary" is computed in one place rather than re-derived
// ad hoc at every call site (spec §9 non-goal list: "inline if-this-is-
// the-last-item control flow scattered across modules").
type Sequencer struct {
	// InheritFirst is true if this producer's first emitted message is
	// also the first message of the whole step.
	InheritFirst bool

	// InheritLast is true if this producer's batch is the one that may
	// carry the step's LastItem — still gated per-message on the relay
	// bit resolving for that specific message.
	InheritLast bool

	// JobTerminal is true if, in addition to InheritLast, this is also
	// the point where LastJobItem should be set.
	JobTerminal bool

	count int
}

// NewSequencer prepares a Sequencer for a batch of n messages.
func NewSequencer(n int, inheritFirst, inheritLast, jobTerminal bool) *Sequencer {
	return &Sequencer{InheritFirst: inheritFirst, InheritLast: inheritLast, JobTerminal: jobTerminal, count: n}
}

// Flags returns the ControlFlags for the i-th (0-indexed) message of the
// batch. relayResolved says whether this specific message resolves the
// relay bit (e.g. hasNextPage=false AND no further nesting); pass true
// when the batch has no further pages/nesting concerns of its own, which
// is the common case for a flat, single-page fan-out. An empty batch
// (n=0) never gets FirstItem or LastItem.
func (s *Sequencer) Flags(i int, relayResolved bool) ControlFlags {
	f := ControlFlags{}
	if s.InheritFirst && i == 0 && s.count > 0 {
		f.FirstItem = true
	}
	if s.InheritLast && i == s.count-1 && relayResolved {
		f.LastItem = true
		if s.JobTerminal {
			f.LastJobItem = true
		}
	}
	return f
}

// CompletionMarker builds the single completion message a stage must
// emit when it produces zero child messages, or when extraction halts on
// a rate-limit boundary (spec §4.4 edge cases).
func CompletionMarker(rateLimited bool) ControlFlags {
	return ControlFlags{LastItem: true, LastJobItem: true, RateLimited: rateLimited}
}
