package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "events.db"), Options{Secret: []byte("test-secret-key")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func agentIdentity() identity.Identity {
	return identity.NewIdentity("alice", identity.RoleAgent)
}

func draft(aggregateID string) EventDraft {
	return EventDraft{
		EventType:   EventFileWritten,
		AggregateID: aggregateID,
		AgentID:     "alice",
		Payload:     json.RawMessage(`{"path":"a.txt","content_hash":"H"}`),
	}
}

func TestAppendMonotonicSequencing(t *testing.T) {
	s := testStore(t)
	caller := agentIdentity()

	var seqs []Sequence
	for i := 0; i < 5; i++ {
		seq, tag, err := s.Append(context.Background(), draft("file:a.txt"), caller)
		if err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
		if tag.IsZero() {
			t.Fatalf("Append #%d: tag must not be zero", i)
		}
		seqs = append(seqs, seq)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("sequence %d does not follow %d", seqs[i], seqs[i-1])
		}
	}
}

func TestAppendNoImplicitDedup(t *testing.T) {
	// S2: identical drafts appended twice both succeed with distinct sequences.
	s := testStore(t)
	caller := agentIdentity()
	d := draft("file:a.txt")

	seq1, _, err := s.Append(context.Background(), d, caller)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	seq2, _, err := s.Append(context.Background(), d, caller)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if seq2 != seq1+1 {
		t.Fatalf("expected no dedup: seq1=%d seq2=%d", seq1, seq2)
	}
}

func TestChainIntegrity(t *testing.T) {
	s := testStore(t)
	caller := agentIdentity()
	for i := 0; i < 10; i++ {
		if _, _, err := s.Append(context.Background(), draft("file:a.txt"), caller); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	ok, err := s.IntegrityCheck(context.Background(), Range{From: 1})
	if err != nil {
		t.Fatalf("IntegrityCheck: %v", err)
	}
	if !ok {
		t.Fatal("expected chain to verify")
	}
}

func TestAppendUnauthenticatedRejectsUnknownAgent(t *testing.T) {
	// Testable Property 7: no auto-auth. An empty identity must fail with
	// ErrUnauthenticated and must not create any event as a side effect.
	s := testStore(t)
	unauth := identity.Identity{}

	_, _, err := s.Append(context.Background(), draft("file:a.txt"), unauth)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	head, _ := s.Head()
	if head != 0 {
		t.Fatalf("expected no event appended as a side effect, head=%d", head)
	}
}

func TestAppendPermissionDenied(t *testing.T) {
	s := testStore(t)
	guest := identity.NewIdentity("bob", identity.RoleGuest)

	_, _, err := s.Append(context.Background(), draft("file:a.txt"), guest)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestAppendSchemaInvalid(t *testing.T) {
	s := testStore(t)
	caller := agentIdentity()

	bad := draft("file:a.txt")
	bad.EventType = EventType("not.a.real.event")
	if _, _, err := s.Append(context.Background(), bad, caller); !errors.Is(err, ErrSchemaInvalid) {
		t.Fatalf("expected ErrSchemaInvalid for bad event_type, got %v", err)
	}

	bad2 := draft("file:a.txt")
	bad2.Payload = json.RawMessage(`not json`)
	if _, _, err := s.Append(context.Background(), bad2, caller); !errors.Is(err, ErrSchemaInvalid) {
		t.Fatalf("expected ErrSchemaInvalid for malformed payload, got %v", err)
	}
}

func TestRoundTripEncoding(t *testing.T) {
	// Testable Property 4.
	caller := "alice"
	ev := Event{
		Sequence:    42,
		EventID:     "ev-1",
		EventType:   EventFileWritten,
		AggregateID: "file:a.txt",
		AgentID:     caller,
		CausationID: "ev-0",
		Payload:     json.RawMessage(`{"a":1,"b":"two"}`),
	}
	ev.Timestamp = time.Unix(1700000000, 123456789).UTC()
	ev.IntegrityTag = computeTag([]byte("secret"), IntegrityTag{}, ev)

	got, err := decode(encode(ev))
	if err != nil {
		t.Fatalf("decode(encode(ev)): %v", err)
	}
	if got.Sequence != ev.Sequence || got.EventID != ev.EventID || got.EventType != ev.EventType ||
		got.AggregateID != ev.AggregateID || got.AgentID != ev.AgentID || got.CausationID != ev.CausationID ||
		string(got.Payload) != string(ev.Payload) || got.IntegrityTag != ev.IntegrityTag ||
		!got.Timestamp.Equal(ev.Timestamp) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", got, ev)
	}
}

func TestQueryReturnsInSequenceOrder(t *testing.T) {
	s := testStore(t)
	caller := agentIdentity()
	for i := 0; i < 3; i++ {
		if _, _, err := s.Append(context.Background(), draft("file:a.txt"), caller); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	page, err := s.Query(context.Background(), QueryFilter{}, caller)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(page.Events))
	}
	for i, ev := range page.Events {
		if ev.Sequence != Sequence(i+1) {
			t.Fatalf("event %d has sequence %d, want %d", i, ev.Sequence, i+1)
		}
	}
}

func TestSubscribeReceivesNewEvents(t *testing.T) {
	s := testStore(t)
	caller := agentIdentity()

	sub, err := s.Subscribe(context.Background(), QueryFilter{AggregateID: "file:a.txt"}, caller)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if _, _, err := s.Append(context.Background(), draft("file:a.txt"), caller); err != nil {
		t.Fatalf("Append: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.AggregateID != "file:a.txt" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a queued event")
	}
}

func TestRecoveryReopenPreservesHead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.db")

	s, err := Open(path, Options{Secret: []byte("k")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := s.Append(context.Background(), draft("file:a.txt"), agentIdentity()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		t.Fatalf("expected non-empty db file, err=%v", err)
	}

	s2, err := Open(path, Options{Secret: []byte("k")})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	head, _ := s2.Head()
	if head != 1 {
		t.Fatalf("expected head sequence 1 after reopen, got %d", head)
	}
}
