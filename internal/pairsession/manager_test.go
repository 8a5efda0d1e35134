package pairsession

import (
	"context"
	"testing"

	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

type fakeAppender struct {
	seq    eventstore.Sequence
	drafts []eventstore.EventDraft
}

func (f *fakeAppender) Append(ctx context.Context, draft eventstore.EventDraft, caller identity.Identity) (eventstore.Sequence, eventstore.IntegrityTag, error) {
	f.seq++
	f.drafts = append(f.drafts, draft)
	return f.seq, eventstore.IntegrityTag{}, nil
}

func builder() identity.Identity { return identity.NewIdentity("builder-1", identity.RoleAgent) }
func expert() identity.Identity  { return identity.NewIdentity("expert-1", identity.RoleExpert) }
func stranger() identity.Identity { return identity.NewIdentity("stranger", identity.RoleAgent) }

func TestPairLifecycle(t *testing.T) {
	events := &fakeAppender{}
	m := NewManager(events, 16, nil)
	ctx := context.Background()

	pairID, err := m.RequestPair(ctx, "builder-1", "expert-1", builder())
	if err != nil {
		t.Fatalf("RequestPair: %v", err)
	}

	if err := m.AcceptPair(ctx, pairID, "seq:1", expert()); err != nil {
		t.Fatalf("AcceptPair: %v", err)
	}

	if err := m.Suggest(ctx, pairID, "", "use a map here", builder()); err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if err := m.Comment(ctx, pairID, "", "agreed", expert()); err != nil {
		t.Fatalf("Comment: %v", err)
	}
	if err := m.ClosePair(ctx, pairID, builder()); err != nil {
		t.Fatalf("ClosePair: %v", err)
	}

	if len(events.drafts) != 5 {
		t.Fatalf("expected 5 events appended, got %d", len(events.drafts))
	}
	if events.drafts[len(events.drafts)-1].EventType != eventstore.EventPairClosed {
		t.Fatalf("expected last event to be pair.closed, got %s", events.drafts[len(events.drafts)-1].EventType)
	}
}

func TestPair_NonParticipantRejected(t *testing.T) {
	events := &fakeAppender{}
	m := NewManager(events, 16, nil)
	ctx := context.Background()

	pairID, err := m.RequestPair(ctx, "builder-1", "expert-1", builder())
	if err != nil {
		t.Fatalf("RequestPair: %v", err)
	}

	if err := m.AcceptPair(ctx, pairID, "seq:1", stranger()); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestPair_AcceptWrongCausationRejected(t *testing.T) {
	events := &fakeAppender{}
	m := NewManager(events, 16, nil)
	ctx := context.Background()

	pairID, err := m.RequestPair(ctx, "builder-1", "expert-1", builder())
	if err != nil {
		t.Fatalf("RequestPair: %v", err)
	}

	err = m.AcceptPair(ctx, pairID, "seq:999", expert())
	if err == nil {
		t.Fatal("expected error for wrong causation reference")
	}
}

func TestPair_CannotReopenClosedSession(t *testing.T) {
	events := &fakeAppender{}
	m := NewManager(events, 16, nil)
	ctx := context.Background()

	pairID, _ := m.RequestPair(ctx, "builder-1", "expert-1", builder())
	_ = m.AcceptPair(ctx, pairID, "seq:1", expert())
	_ = m.ClosePair(ctx, pairID, builder())

	if err := m.Suggest(ctx, pairID, "", "too late", builder()); err != ErrAlreadyClosed {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
}
