package director

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/riftline/messagedirector/internal/channel"
	"github.com/riftline/messagedirector/internal/participant"
	"github.com/riftline/messagedirector/internal/wire"
)

// stubParticipant is a minimal in-memory Participant for exercising the
// director without a real transport.
type stubParticipant struct {
	participant.Base
	name     string
	received []*wire.Datagram
	failNext bool
}

func newStub(name string) *stubParticipant { return &stubParticipant{name: name} }

func (s *stubParticipant) Deliver(dg *wire.Datagram, payloadOffset int) error {
	if s.failNext {
		return errors.New("delivery refused")
	}
	s.received = append(s.received, dg)
	return nil
}

// recordingUpstream captures every control/forwarded datagram sent to it.
type recordingUpstream struct {
	sent    []*wire.Datagram
	failing bool
}

func (u *recordingUpstream) Forward(dg *wire.Datagram) error {
	if u.failing {
		return errors.New("upstream down")
	}
	u.sent = append(u.sent, dg)
	return nil
}

func testLogger() *zap.Logger { return zap.NewNop() }

func controlDatagram(msgType uint16, channels ...channel.Channel) *wire.Datagram {
	dg := wire.New()
	dg.AddControlHeader(channel.ControlMessage, msgType)
	for _, c := range channels {
		dg.AppendChannel(c)
	}
	return dg
}

func fanOutDatagram(from channel.Channel, msgType uint16, payload string, to ...channel.Channel) *wire.Datagram {
	dg := wire.New()
	dg.AddServerHeaderMulti(to, from, msgType)
	dg.AppendString(payload)
	return dg
}

func TestAddSingleThenFanOut(t *testing.T) {
	d := New(testLogger(), nil, nil)
	p1 := newStub("p1")
	p2 := newStub("p2")
	d.RegisterParticipant(p1)
	d.RegisterParticipant(p2)

	if err := d.Route(controlDatagram(channel.MsgAddChannel, 42), p1); err != nil {
		t.Fatalf("add_channel: %v", err)
	}

	dg := fanOutDatagram(999, 1234, "hello", 42)
	if err := d.Route(dg, p2); err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(p1.received) != 1 {
		t.Fatalf("expected p1 to receive 1 datagram, got %d", len(p1.received))
	}
	if len(p2.received) != 0 {
		t.Fatalf("sender must never receive its own datagram, got %d", len(p2.received))
	}
}

func TestRemoveChannelKeyedAtOwnValue(t *testing.T) {
	// A participant subscribed only via a single channel 50 (never part of
	// a range) must be removable by addressing 50 directly, and after
	// removal must no longer receive fan-out on 50.
	d := New(testLogger(), nil, nil)
	p1 := newStub("p1")
	d.RegisterParticipant(p1)

	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 50), p1)
	mustRoute(t, d, controlDatagram(channel.MsgRemoveChannel, 50), p1)

	other := newStub("other")
	d.RegisterParticipant(other)
	mustRoute(t, d, fanOutDatagram(999, 1, "x", 50), other)
	if len(p1.received) != 0 {
		t.Fatalf("expected channel 50 unsubscribed, got %d deliveries", len(p1.received))
	}
}

func TestRangeSubsumesOwnSingleAtItsOwnChannel(t *testing.T) {
	d := New(testLogger(), nil, nil)
	p1 := newStub("p1")
	d.RegisterParticipant(p1)

	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 150), p1)
	mustRoute(t, d, controlDatagram(channel.MsgAddRange, 100, 200), p1)

	chans := p1.Channels()
	for _, c := range chans {
		if !c.IsRange && c.A == 150 {
			t.Fatalf("expected single subscription at 150 to be subsumed by range [100,200]")
		}
	}

	// Removing the range must not require re-addressing 150: it was
	// folded into the range, so a single REMOVE_RANGE clears coverage.
	mustRoute(t, d, controlDatagram(channel.MsgRemoveRange, 100, 200), p1)

	other := newStub("other")
	d.RegisterParticipant(other)
	mustRoute(t, d, fanOutDatagram(999, 1, "x", 150), other)
	if len(p1.received) != 0 {
		t.Fatalf("expected no coverage left at 150 after range removal, got %d deliveries", len(p1.received))
	}
}

func TestDeduplicatesDeliveryAcrossMultipleMatchingRecipients(t *testing.T) {
	d := New(testLogger(), nil, nil)
	p1 := newStub("p1")
	p2 := newStub("p2")
	d.RegisterParticipant(p1)
	d.RegisterParticipant(p2)

	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 100), p1)
	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 200), p1)

	mustRoute(t, d, fanOutDatagram(999, 1, "x", 100, 200), p2)
	if len(p1.received) != 1 {
		t.Fatalf("expected exactly one delivery despite matching two recipient channels, got %d", len(p1.received))
	}
}

func TestUpstreamAddChannelOnlyOnFirstSubscriber(t *testing.T) {
	up := &recordingUpstream{}
	d := New(testLogger(), up, nil)
	p1 := newStub("p1")
	p2 := newStub("p2")
	d.RegisterParticipant(p1)
	d.RegisterParticipant(p2)

	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 7), p1)
	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 7), p2)

	if len(up.sent) != 1 {
		t.Fatalf("expected exactly one upstream ADD_CHANNEL, got %d", len(up.sent))
	}
}

func TestUpstreamRemoveChannelOnlyWhenLastSubscriberGone(t *testing.T) {
	up := &recordingUpstream{}
	d := New(testLogger(), up, nil)
	p1 := newStub("p1")
	p2 := newStub("p2")
	d.RegisterParticipant(p1)
	d.RegisterParticipant(p2)

	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 7), p1)
	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 7), p2)
	up.sent = nil

	mustRoute(t, d, controlDatagram(channel.MsgRemoveChannel, 7), p1)
	if len(up.sent) != 0 {
		t.Fatalf("expected no upstream REMOVE_CHANNEL while p2 still subscribed, got %d", len(up.sent))
	}

	mustRoute(t, d, controlDatagram(channel.MsgRemoveChannel, 7), p2)
	if len(up.sent) != 1 {
		t.Fatalf("expected upstream REMOVE_CHANNEL once last subscriber left, got %d", len(up.sent))
	}
}

func TestUpstreamRemoveRangeWithholdsOnResidualPointSubscription(t *testing.T) {
	up := &recordingUpstream{}
	d := New(testLogger(), up, nil)
	p1 := newStub("p1")
	p2 := newStub("p2")
	d.RegisterParticipant(p1)
	d.RegisterParticipant(p2)

	mustRoute(t, d, controlDatagram(channel.MsgAddRange, 100, 200), p1)
	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 150), p2)
	up.sent = nil

	mustRoute(t, d, controlDatagram(channel.MsgRemoveRange, 100, 200), p1)
	if len(up.sent) != 0 {
		t.Fatalf("expected REMOVE_RANGE withheld while point subscription at 150 survives, got %d", len(up.sent))
	}
}

func TestUnregisterDeliversPostRemoveAndUnsubscribes(t *testing.T) {
	up := &recordingUpstream{}
	d := New(testLogger(), up, nil)
	p1 := newStub("p1")
	observer := newStub("observer")
	d.RegisterParticipant(p1)
	d.RegisterParticipant(observer)

	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 900), p1)

	trailer := wire.New()
	trailer.AddServerHeaderMulti([]channel.Channel{900}, 0, 1)
	trailer.AppendString("goodbye")
	mustRoute(t, d, controlDatagram(channel.MsgAddPostRemove), p1) // no payload -> malformed, ignored
	p1.SetPostRemove(trailer.Bytes())

	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 900), observer)

	d.UnregisterParticipant(p1)

	if len(observer.received) != 1 {
		t.Fatalf("expected observer to receive the post-remove trailer, got %d", len(observer.received))
	}

	// p1's own subscription to 900 must have been torn down: a later
	// sender (not observer itself, so observer isn't excluded as its own
	// sender) should still reach observer exactly once more.
	third := newStub("third")
	d.RegisterParticipant(third)
	mustRoute(t, d, fanOutDatagram(999, 1, "x", 900), third)
	if len(observer.received) != 2 {
		t.Fatalf("expected second fan-out delivered once more to observer, got %d", len(observer.received))
	}
	if len(p1.received) != 0 {
		t.Fatalf("expected removed p1 to receive nothing on 900, got %d", len(p1.received))
	}
}

func TestUpstreamFailureSurfacesAsError(t *testing.T) {
	up := &recordingUpstream{}
	d := New(testLogger(), up, nil)
	p1 := newStub("p1")
	p2 := newStub("p2")
	d.RegisterParticipant(p1)
	d.RegisterParticipant(p2)

	mustRoute(t, d, controlDatagram(channel.MsgAddChannel, 5), p2)
	up.failing = true

	err := d.Route(fanOutDatagram(999, 1, "x", 5), p1)
	if !errors.Is(err, ErrUpstreamFailed) {
		t.Fatalf("expected ErrUpstreamFailed, got %v", err)
	}
}

func TestMalformedDatagramDropped(t *testing.T) {
	d := New(testLogger(), nil, nil)
	dg := wire.New() // empty: no recipient count byte
	if err := d.Route(dg, newStub("p1")); err != nil {
		t.Fatalf("malformed datagrams must be dropped, not errored: %v", err)
	}
}

func mustRoute(t *testing.T, d *MessageDirector, dg *wire.Datagram, sender participant.Participant) {
	t.Helper()
	if err := d.Route(dg, sender); err != nil {
		t.Fatalf("route: %v", err)
	}
}
