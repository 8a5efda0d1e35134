package expertcoord

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lighthouse-coord/lighthouse/internal/speedlayer"
)

// fakeCaller answers Call per expert_id: an id in the fail set always
// fails; any other id returns an approve vote with confidence 0.9.
type fakeCaller struct {
	fail  map[string]bool
	calls map[string]int
}

func newFakeCaller(fail ...string) *fakeCaller {
	f := &fakeCaller{fail: make(map[string]bool), calls: make(map[string]int)}
	for _, id := range fail {
		f.fail[id] = true
	}
	return f
}

func (f *fakeCaller) Call(ctx context.Context, expertID string, cmd speedlayer.Command, deadline time.Time) (Vote, error) {
	f.calls[expertID]++
	if f.fail[expertID] {
		return Vote{}, errors.New("deadline exceeded")
	}
	return Vote{ExpertID: expertID, Verdict: VoteApprove, Confidence: 0.9, RecordedAt: time.Now()}, nil
}

func testPool() []Expert {
	return []Expert{
		{ExpertID: "e1", Status: ExpertIdle},
		{ExpertID: "e2", Status: ExpertIdle},
		{ExpertID: "e3", Status: ExpertIdle},
	}
}

// A slot whose original expert times out and whose one reselected
// replacement answers is recorded, under the original slot's expert_id,
// with the replacement's vote (§4.5: "re-select a replacement once").
func TestCollectVotes_ReselectionSucceeds(t *testing.T) {
	c := &Coordinator{caller: newFakeCaller("e1"), registry: NewRegistry(time.Minute, nil, zap.NewNop()), logger: zap.NewNop()}
	del := &Delegation{
		Selected: []string{"e1"},
		Votes:    make(map[string]Vote),
		State:    DelegationDispatched,
		Deadline: time.Now().Add(time.Second),
	}

	c.collectVotes(context.Background(), del, testPool(), speedlayer.Command{})

	vote, ok := del.Votes["e1"]
	if !ok {
		t.Fatalf("expected a vote recorded under the original slot e1, got %v", del.Votes)
	}
	if vote.Verdict != VoteApprove {
		t.Fatalf("expected the reselected replacement's approve vote, got %v", vote.Verdict)
	}
}

// Once the original AND its one reselected replacement both time out,
// the slot counts as abstain and no second reselection is attempted —
// the third pool member is never called.
func TestCollectVotes_ReselectsOnceThenAbstains(t *testing.T) {
	caller := newFakeCaller("e1", "e2")
	c := &Coordinator{caller: caller, registry: NewRegistry(time.Minute, nil, zap.NewNop()), logger: zap.NewNop()}
	del := &Delegation{
		Selected: []string{"e1"},
		Votes:    make(map[string]Vote),
		State:    DelegationDispatched,
		Deadline: time.Now().Add(time.Second),
	}

	c.collectVotes(context.Background(), del, testPool(), speedlayer.Command{})

	vote, ok := del.Votes["e1"]
	if !ok {
		t.Fatalf("expected an abstain vote recorded under the original slot e1, got %v", del.Votes)
	}
	if vote.Verdict != VoteAbstain {
		t.Fatalf("expected abstain after the single reselection also failed, got %v", vote.Verdict)
	}
	if caller.calls["e3"] != 0 {
		t.Fatalf("expected no second reselection to reach e3, got %d calls", caller.calls["e3"])
	}
	if caller.calls["e1"] != 1 || caller.calls["e2"] != 1 {
		t.Fatalf("expected exactly one call each to e1 (original) and e2 (its one replacement), got %+v", caller.calls)
	}
}
