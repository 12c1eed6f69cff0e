package document

import (
	"fmt"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/docconfig"
	"github.com/lattice-crdt/automerge/pkg/opstore/badgerbackend"
)

// OpenPersistent opens (or creates) a durably-backed document rooted at
// cfg.DataDir: every change recorded from here on is appended to a
// pkg/opstore/badgerbackend.Store, and any history already on disk is
// replayed before the document is returned. Closing the returned
// document (Document.Close) releases the underlying database handle.
func OpenPersistent(actor actorid.ActorId, cfg *docconfig.Config) (*Document, error) {
	if cfg == nil {
		cfg = docconfig.Default()
	}
	store, err := badgerbackend.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("document: open persistent store: %w", err)
	}

	history, err := store.LoadAll()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("document: load persisted history: %w", err)
	}

	// A zero-value actor means "no explicit identity requested": reuse the
	// actor that wrote the most recent persisted change for continuity
	// across restarts, the same default Load applies to a loaded document.
	if actor.IsRoot() && len(history) > 0 {
		actor = history[len(history)-1].Actor
	}

	d := Create(actor, cfg)
	if _, err := d.ApplyChanges(history); err != nil {
		store.Close()
		return nil, fmt.Errorf("document: replay persisted history: %w", err)
	}
	// Continue this actor's own seq count across the restart rather than
	// restarting at 1 (spec Invariant 8: "seq per actor forms an unbroken
	// sequence") — SeqTracker only ever advances on a local commit, which
	// hasn't happened yet in this process.
	for _, c := range history {
		if c.Actor.Equal(d.actor) {
			d.seq.Advance(c.Seq)
		}
	}
	d.savedHeads = d.log.Heads()

	d.mu.Lock()
	d.persist = store
	d.mu.Unlock()
	return d, nil
}
