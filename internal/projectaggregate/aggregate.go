package projectaggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

// Reader is the narrow view of eventstore.Store the aggregate replays
// from, matching the narrow-interface style of sessionsec.EventAppender
// and expertcoord.EventAppender.
type Reader interface {
	Query(ctx context.Context, filter eventstore.QueryFilter, caller identity.Identity) (eventstore.Page, error)
}

// Aggregate holds the in-memory materialized view. Folding is
// idempotent per event (Testable Property 3): every write is guarded by
// comparing the incoming event's sequence against the path's
// LatestSequence, so a duplicate delivery (e.g. a subscriber
// reconnecting and replaying its backlog) is a no-op.
type Aggregate struct {
	mu            sync.RWMutex
	files         map[string]*FileState
	annotations   map[string][]Annotation
	snapshots     map[string]Snapshot
	pairSuggestions map[string][]PairSuggestionRef
	headSeq       eventstore.Sequence
}

// New returns an empty Aggregate, ready to Fold events from sequence 1.
func New() *Aggregate {
	return &Aggregate{
		files:           make(map[string]*FileState),
		annotations:     make(map[string][]Annotation),
		snapshots:       make(map[string]Snapshot),
		pairSuggestions: make(map[string][]PairSuggestionRef),
	}
}

type fileWrittenPayload struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
}

type annotationPayload struct {
	Path       string `json:"path"`
	LineAnchor int    `json:"line_anchor"`
	Body       string `json:"body"`
	AuthorID   string `json:"author_id"`
}

type snapshotPayload struct {
	Name string `json:"name"`
}

type pairSuggestionPayload struct {
	PairID string `json:"pair_id"`
	Body   string `json:"body"`
}

// Fold applies one event to the in-memory view. It is safe to call the
// same event twice: only the handlers listed in §4.6 mutate state, and
// each checks the event's sequence against what it has already folded.
func (a *Aggregate) Fold(ev eventstore.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.EventType {
	case eventstore.EventFileWritten:
		var p fileWrittenPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("projectaggregate: decode file.written: %w", err)
		}
		existing, ok := a.files[p.Path]
		if ok && existing.LatestSequence >= ev.Sequence {
			break
		}
		a.files[p.Path] = &FileState{Path: p.Path, ContentHash: p.ContentHash, LatestSequence: ev.Sequence}

	case eventstore.EventShadowAnnotated:
		var p annotationPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("projectaggregate: decode annotation.added: %w", err)
		}
		list := a.annotations[p.Path]
		alreadyFolded := false
		for _, existing := range list {
			if existing.Sequence == ev.Sequence {
				alreadyFolded = true
				break
			}
		}
		if !alreadyFolded {
			list = append(list, Annotation{LineAnchor: p.LineAnchor, Body: p.Body, AuthorID: p.AuthorID, Sequence: ev.Sequence})
			sort.Slice(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
			a.annotations[p.Path] = list
		}

	case eventstore.EventSnapshotCreated:
		var p snapshotPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("projectaggregate: decode snapshot.created: %w", err)
		}
		if existing, ok := a.snapshots[p.Name]; ok && existing.AtSequence >= ev.Sequence {
			break
		}
		tree := make(map[string]FileState, len(a.files))
		for path, fs := range a.files {
			if fs.LatestSequence <= ev.Sequence {
				tree[path] = *fs
			}
		}
		a.snapshots[p.Name] = Snapshot{Name: p.Name, AtSequence: ev.Sequence, Tree: tree}

	case eventstore.EventPairSuggested:
		var p pairSuggestionPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("projectaggregate: decode pair.suggestion: %w", err)
		}
		refs := a.pairSuggestions[p.PairID]
		for _, existing := range refs {
			if existing.Sequence == ev.Sequence {
				return nil
			}
		}
		a.pairSuggestions[p.PairID] = append(refs, PairSuggestionRef{PairID: p.PairID, Sequence: ev.Sequence, Body: p.Body})

	default:
		// Every other event type is outside the Project Aggregate's
		// concern (§4.6 lists exactly four folded event types).
		return nil
	}

	if ev.Sequence > a.headSeq {
		a.headSeq = ev.Sequence
	}
	return nil
}

// Rebuild replays the log from the given reader, in ascending sequence
// order, up to (and including) sequence asOf (0 means "to the current
// head"). This is the time-travel primitive: "state at sequence S" is
// computed by folding events with sequence <= S (§4.6).
func Rebuild(ctx context.Context, reader Reader, asOf eventstore.Sequence, caller identity.Identity) (*Aggregate, error) {
	agg := New()
	var cursor string

	for {
		page, err := reader.Query(ctx, eventstore.QueryFilter{
			EventTypes: []eventstore.EventType{
				eventstore.EventFileWritten,
				eventstore.EventShadowAnnotated,
				eventstore.EventSnapshotCreated,
				eventstore.EventPairSuggested,
			},
			SequenceTo: asOf,
			Cursor:     cursor,
			Limit:      500,
		}, caller)
		if err != nil {
			return nil, fmt.Errorf("projectaggregate: rebuild query: %w", err)
		}
		for _, ev := range page.Events {
			if err := agg.Fold(ev); err != nil {
				return nil, err
			}
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	return agg, nil
}

// FileAt returns the file state as of the current fold, if known.
func (a *Aggregate) FileAt(path string) (FileState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fs, ok := a.files[path]
	if !ok {
		return FileState{}, false
	}
	return *fs, true
}

// Annotations returns the annotation list for a path, in sequence
// order.
func (a *Aggregate) Annotations(path string) []Annotation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	list := a.annotations[path]
	out := make([]Annotation, len(list))
	copy(out, list)
	return out
}

// Snapshot returns a named snapshot.
func (a *Aggregate) Snapshot(name string) (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.snapshots[name]
	return s, ok
}

// PairSuggestions returns the suggestions attached to a pair session.
func (a *Aggregate) PairSuggestions(pairID string) []PairSuggestionRef {
	a.mu.RLock()
	defer a.mu.RUnlock()
	refs := a.pairSuggestions[pairID]
	out := make([]PairSuggestionRef, len(refs))
	copy(out, refs)
	return out
}

// Head returns the highest sequence folded so far.
func (a *Aggregate) Head() eventstore.Sequence {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.headSeq
}
