// Package projectaggregate is the Project Aggregate (C6): a fold-forward
// materializer that reconstructs shadow-filesystem state from the Event
// Store's log, supports time-travel queries, and serves bounded,
// early-terminating path-first search (§4.6).
package projectaggregate

import "github.com/lighthouse-coord/lighthouse/internal/eventstore"

// FileState is the latest known state of one shadow path.
type FileState struct {
	Path           string
	ContentHash    string
	LatestSequence eventstore.Sequence
}

// Annotation is one annotation.added entry, keyed by line anchor.
type Annotation struct {
	LineAnchor int
	Body       string
	AuthorID   string
	Sequence   eventstore.Sequence
}

// Snapshot is a named, materialized view of the tree at a fixed
// sequence (§4.6 "materialize a named view of the tree at that
// sequence").
type Snapshot struct {
	Name       string
	AtSequence eventstore.Sequence
	Tree       map[string]FileState
}

// PairSuggestionRef attaches a pair.suggestion event to its originating
// pair session (§4.6 "attach to the originating pair session").
type PairSuggestionRef struct {
	PairID   string
	Sequence eventstore.Sequence
	Body     string
}
