// Package clock tracks the Lamport counter watermark that every OpId's
// `counter` field is drawn from, and each actor's change sequence number
// (spec §3, §4.5, Invariant 8: "seq per actor forms an unbroken sequence
// 1, 2, 3, ...").
//
// A Lamport counter is NOT a per-actor independent tally: spec §3 defines
// it as "the Lamport counter of the issuing actor at the time of
// emission", and the worked example in spec §8 (S2) only makes sense
// under the standard Lamport rule — a new op's counter is one more than
// the highest counter the issuing actor has observed anywhere in its
// causal history, from ANY actor. Two actors that fork from the same
// point and then each emit one op independently will therefore mint the
// *same* counter value for their first new op; OpId's (counter, actor)
// ordering relies on the actor tie-break precisely because of this.
package clock

// LamportClock is the shared "highest counter seen" watermark a document
// keeps. Every actor's next op takes Watermark()+1; every applied op
// (local or remote) must call Observe with its counter so later local
// ops never reuse a counter already in the causal history.
type LamportClock struct {
	max uint64
}

// Watermark returns the highest counter observed so far (0 if none).
func (c *LamportClock) Watermark() uint64 { return c.max }

// NextCounter returns the counter value a newly staged op should take.
// It does not itself advance the watermark — Observe does that
// once the op is actually staged, so a caller that decides not to use
// the value (e.g. a failed validation) leaves the clock untouched.
func (c *LamportClock) NextCounter() uint64 { return c.max + 1 }

// Observe advances the watermark to at least `counter`. Safe to call
// with any counter, local or remote; it only ever moves forward.
func (c *LamportClock) Observe(counter uint64) {
	if counter > c.max {
		c.max = counter
	}
}

// Snapshot captures the current watermark for later Restore (spec §4.5
// Transaction.rollback: "reverts the actor's counter ... to the
// pre-transaction state").
func (c *LamportClock) Snapshot() uint64 { return c.max }

// Restore resets the watermark to a previously captured Snapshot.
func (c *LamportClock) Restore(snap uint64) { c.max = snap }

// SeqTracker tracks one actor's change sequence number (spec §3 Change.seq,
// Invariant 8). Unlike the Lamport counter this IS strictly per-actor:
// actor A's changes are numbered 1, 2, 3, ... independent of any other
// actor's sequence.
type SeqTracker struct {
	last uint64
}

// NextSeq returns the seq value the next committed change should take.
func (s *SeqTracker) NextSeq() uint64 { return s.last + 1 }

// Advance records that a change with the given seq was committed.
func (s *SeqTracker) Advance(seq uint64) {
	if seq > s.last {
		s.last = seq
	}
}

// Last returns the most recently committed seq (0 if none yet).
func (s *SeqTracker) Last() uint64 { return s.last }

// Snapshot captures the current seq for later Restore.
func (s *SeqTracker) Snapshot() uint64 { return s.last }

// Restore resets the seq to a previously captured Snapshot.
func (s *SeqTracker) Restore(snap uint64) { s.last = snap }
