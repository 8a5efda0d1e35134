package projectaggregate

import (
	"encoding/json"
	"testing"

	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
)

func fileWrittenEvent(seq eventstore.Sequence, path, hash string) eventstore.Event {
	p, _ := json.Marshal(fileWrittenPayload{Path: path, ContentHash: hash})
	return eventstore.Event{Sequence: seq, EventType: eventstore.EventFileWritten, Payload: p}
}

func TestFold_FileWritten_LatestWins(t *testing.T) {
	agg := New()
	if err := agg.Fold(fileWrittenEvent(1, "a.go", "hash1")); err != nil {
		t.Fatal(err)
	}
	if err := agg.Fold(fileWrittenEvent(2, "a.go", "hash2")); err != nil {
		t.Fatal(err)
	}
	fs, ok := agg.FileAt("a.go")
	if !ok || fs.ContentHash != "hash2" {
		t.Fatalf("expected latest content hash, got %+v", fs)
	}
}

func TestFold_Idempotent(t *testing.T) {
	agg := New()
	ev := fileWrittenEvent(5, "a.go", "hash5")
	if err := agg.Fold(ev); err != nil {
		t.Fatal(err)
	}
	// Replaying the same event (e.g. a reconnecting subscriber's
	// backlog) must not move the state backwards or error.
	if err := agg.Fold(ev); err != nil {
		t.Fatal(err)
	}
	stale, _ := json.Marshal(fileWrittenPayload{Path: "a.go", ContentHash: "stale"})
	if err := agg.Fold(eventstore.Event{Sequence: 3, EventType: eventstore.EventFileWritten, Payload: stale}); err != nil {
		t.Fatal(err)
	}
	fs, _ := agg.FileAt("a.go")
	if fs.ContentHash != "hash5" {
		t.Fatalf("expected out-of-order earlier sequence to be a no-op, got %+v", fs)
	}
}

func TestSearch_EarlyTermination(t *testing.T) {
	agg := New()
	for i, path := range []string{"src/a.go", "src/b.go", "src/c.go", "docs/readme.md"} {
		if err := agg.Fold(fileWrittenEvent(eventstore.Sequence(i+1), path, "h")); err != nil {
			t.Fatal(err)
		}
	}
	res := agg.Search(SearchQuery{PathPrefix: "src/", PageSize: 2})
	if len(res.Files) != 2 {
		t.Fatalf("expected page size of 2, got %d", len(res.Files))
	}
	if !res.HasMore {
		t.Fatal("expected HasMore=true with a third matching file remaining")
	}
}

func TestSearch_Suffix(t *testing.T) {
	agg := New()
	agg.Fold(fileWrittenEvent(1, "a.go", "h"))
	agg.Fold(fileWrittenEvent(2, "b.md", "h"))
	res := agg.Search(SearchQuery{Suffix: ".md"})
	if len(res.Files) != 1 || res.Files[0].Path != "b.md" {
		t.Fatalf("expected only b.md, got %+v", res.Files)
	}
}
