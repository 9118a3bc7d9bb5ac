package subscription

import (
	"testing"

	"github.com/riftline/messagedirector/internal/participant"
	"github.com/riftline/messagedirector/internal/wire"
)

// fakeParticipant exists only to give each test subscriber distinct
// object identity; nothing exercises Deliver here.
type fakeParticipant struct{ participant.Base }

func (*fakeParticipant) Deliver(dg *wire.Datagram, payloadOffset int) error { return nil }

func newFake() *fakeParticipant { return &fakeParticipant{} }

func TestAddSingleIdempotent(t *testing.T) {
	idx := New()
	p := newFake()

	if !idx.AddSingle(p, 5) {
		t.Fatal("first AddSingle should report added")
	}
	if idx.AddSingle(p, 5) {
		t.Fatal("second AddSingle for the same (p, channel) must be a no-op")
	}
	if idx.PointCount(5) != 1 {
		t.Fatalf("PointCount(5) = %d, want 1", idx.PointCount(5))
	}
}

func TestAddSingleSubsumedByOwnRange(t *testing.T) {
	idx := New()
	p := newFake()

	idx.AddRange(p, 0, 100)
	if idx.AddSingle(p, 50) {
		t.Fatal("AddSingle inside the subscriber's own covering range must be a no-op")
	}
	if idx.PointCount(50) != 0 {
		t.Fatalf("expected no point-map entry, got %d", idx.PointCount(50))
	}
}

func TestRemoveSingleReportsPresence(t *testing.T) {
	idx := New()
	p := newFake()

	if idx.RemoveSingle(p, 5) {
		t.Fatal("removing an absent subscription must report false")
	}
	idx.AddSingle(p, 5)
	if !idx.RemoveSingle(p, 5) {
		t.Fatal("removing a present subscription must report true")
	}
	if idx.PointCount(5) != 0 {
		t.Fatal("point map entry should be cleared once empty")
	}
}

func TestRangeAddIntroducesCoverageOnlyOnce(t *testing.T) {
	idx := New()
	p1 := newFake()
	p2 := newFake()

	if !idx.AddRange(p1, 100, 200) {
		t.Fatal("first range add into uncovered space must report needUpstream=true")
	}
	if idx.AddRange(p2, 100, 200) {
		t.Fatal("second participant covering an already-covered range must report needUpstream=false")
	}
}

func TestRangeAddPartialOverlapIntroducesCoverage(t *testing.T) {
	idx := New()
	p1 := newFake()
	p2 := newFake()

	idx.AddRange(p1, 100, 200)
	if !idx.AddRange(p2, 150, 300) {
		t.Fatal("range extending into uncovered [201,300] must report needUpstream=true")
	}
}

func TestRangeRemoveEmptiesOnlyWhenLastCoveringParticipantLeaves(t *testing.T) {
	idx := New()
	p1 := newFake()
	p2 := newFake()

	idx.AddRange(p1, 100, 200)
	idx.AddRange(p2, 100, 200)

	if idx.RemoveRange(p1, 100, 200) {
		t.Fatal("removing one of two covering participants must not report emptied")
	}
	if !idx.RemoveRange(p2, 100, 200) {
		t.Fatal("removing the last covering participant must report emptied")
	}
}

func TestRecipientsUnionsPointAndRange(t *testing.T) {
	idx := New()
	pPoint := newFake()
	pRange := newFake()

	idx.AddSingle(pPoint, 500)
	idx.AddRange(pRange, 400, 600)

	recipients := idx.Recipients(500)
	if _, ok := recipients[pPoint]; !ok {
		t.Fatal("expected point-map subscriber in recipients")
	}
	if _, ok := recipients[pRange]; !ok {
		t.Fatal("expected range subscriber in recipients")
	}
	if len(recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(recipients))
	}
}

func TestAnyPointInRange(t *testing.T) {
	idx := New()
	p := newFake()
	idx.AddSingle(p, 150)

	if !idx.AnyPointInRange(100, 200) {
		t.Fatal("expected point subscription at 150 to be detected within [100,200]")
	}
	if idx.AnyPointInRange(151, 200) {
		t.Fatal("did not expect a point subscription outside its own channel")
	}
}

func TestMaxChannelRangeDoesNotOverflow(t *testing.T) {
	idx := New()
	p := newFake()

	if !idx.AddRange(p, 1<<63, ^uint64(0)) {
		t.Fatal("range touching the maximum channel value must still report needUpstream")
	}
	if !idx.RangeCovers(^uint64(0)) {
		t.Fatal("expected coverage at the maximum channel value")
	}
}
