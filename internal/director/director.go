// Package director implements the MessageDirector core: participant
// registration, control-message dispatch, and datagram fan-out, per the
// routing rules in the system's design notes.
package director

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/riftline/messagedirector/internal/channel"
	"github.com/riftline/messagedirector/internal/metrics"
	"github.com/riftline/messagedirector/internal/participant"
	"github.com/riftline/messagedirector/internal/subscription"
	"github.com/riftline/messagedirector/internal/wire"
)

// ErrUpstreamFailed wraps any error returned by an Upstream's Forward
// call. It is the one error class route-processing code bubbles all the
// way out to the caller: a dead upstream link is fatal, and whoever owns
// the process (cmd/mdnode) is expected to shut down on seeing it.
var ErrUpstreamFailed = errors.New("director: upstream forward failed")

// Upstream is the parent-MD link a director forwards sender-addressed
// traffic and synthesized subscription-interest control messages to. A
// root director (no parent) is built with a nil Upstream.
type Upstream interface {
	Forward(dg *wire.Datagram) error
}

// EventSink receives a best-effort notification of director activity,
// for the read-only admin diagnostics stream. Never required: a nil
// sink is simply not notified. Implemented by diagnostics.Hub without
// this package depending on it.
type EventSink interface {
	PublishEvent(kind, detail string, ch uint64)
}

// MessageDirector owns the subscription index and participant set for
// one hop of the routing hierarchy, and serializes every mutation behind
// a single mutex, matching the single-threaded event-loop model the
// protocol assumes.
type MessageDirector struct {
	mu           sync.Mutex
	index        *subscription.Index
	participants map[participant.Participant]struct{}
	upstream     Upstream
	logger       *zap.Logger
	metrics      *metrics.Registry
	sink         EventSink
}

// New builds a MessageDirector. upstream and m may be nil: a nil
// upstream marks this director as the hierarchy root, and a nil metrics
// registry disables instrumentation.
func New(logger *zap.Logger, upstream Upstream, m *metrics.Registry) *MessageDirector {
	return &MessageDirector{
		index:        subscription.New(),
		participants: make(map[participant.Participant]struct{}),
		upstream:     upstream,
		logger:       logger,
		metrics:      m,
	}
}

// SetEventSink attaches the diagnostics sink notified of registration,
// teardown, and control-message activity. Optional; nil disables it.
func (d *MessageDirector) SetEventSink(sink EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

func (d *MessageDirector) notify(kind, detail string, ch channel.Channel) {
	if d.sink != nil {
		d.sink.PublishEvent(kind, detail, ch)
	}
}

// RegisterParticipant admits p into the director with an empty
// subscription list.
func (d *MessageDirector) RegisterParticipant(p participant.Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.participants[p] = struct{}{}
	if d.metrics != nil {
		d.metrics.ParticipantsActive.Inc()
	}
	d.notify("participant_registered", "", 0)
}

// UnregisterParticipant removes p: its post-remove trailer (if any) is
// delivered as if sent by p, then an unsubscribe control datagram is
// synthesized and routed for each of p's remaining ChannelList entries,
// and finally p is dropped from the participant set. Failures delivering
// the trailer or a single unsubscribe are logged and do not abort the
// rest of the teardown.
func (d *MessageDirector) UnregisterParticipant(p participant.Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.participants[p]; !ok {
		return
	}

	if pr := p.PostRemove(); len(pr) > 0 {
		if err := d.routeLocked(wire.NewFromBytes(pr), p); err != nil {
			d.logger.Warn("post-remove datagram failed to route", zap.Error(err))
		}
	}

	for _, c := range p.Channels() {
		dg := wire.New()
		if c.IsRange {
			dg.AddControlHeader(channel.ControlMessage, channel.MsgRemoveRange)
			dg.AppendChannel(c.A)
			dg.AppendChannel(c.B)
		} else {
			dg.AddControlHeader(channel.ControlMessage, channel.MsgRemoveChannel)
			dg.AppendChannel(c.A)
		}
		if err := d.routeLocked(dg, p); err != nil {
			d.logger.Warn("unsubscribe-on-remove failed to route", zap.Error(err))
		}
	}

	delete(d.participants, p)
	if d.metrics != nil {
		d.metrics.ParticipantsActive.Dec()
	}
	d.notify("participant_unregistered", "", 0)
}

// Route processes one inbound datagram on behalf of sender. sender is
// nil for datagrams arriving from upstream (they are never eligible for
// the control path and are never forwarded back upstream). A non-nil
// error indicates the upstream link failed and is fatal to the process.
func (d *MessageDirector) Route(dg *wire.Datagram, sender participant.Participant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.routeLocked(dg, sender)
}

func (d *MessageDirector) routeLocked(dg *wire.Datagram, sender participant.Participant) error {
	r := wire.NewReader(dg)
	count, err := r.ReadUint8()
	if err != nil {
		d.dropMalformed("missing recipient count", err)
		return nil
	}

	if count == 1 && sender != nil {
		ch, err := r.ReadChannel()
		if err == nil && ch == channel.ControlMessage {
			msgType, err := r.ReadUint16()
			if err != nil {
				d.dropMalformed("truncated control header", err)
				return nil
			}
			return d.dispatchControl(msgType, r, sender)
		}
		r.Seek(1)
	}

	return d.fanOut(dg, r, count, sender)
}

func (d *MessageDirector) fanOut(dg *wire.Datagram, r *wire.Reader, count uint8, sender participant.Participant) error {
	recipients := make(map[participant.Participant]struct{})
	for i := uint8(0); i < count; i++ {
		c, err := r.ReadChannel()
		if err != nil {
			d.dropMalformed("truncated recipient list", err)
			return nil
		}
		for p := range d.index.Recipients(c) {
			recipients[p] = struct{}{}
		}
	}
	if sender != nil {
		delete(recipients, sender)
	}

	payloadOffset := r.Tell()
	for p := range recipients {
		if err := p.Deliver(dg, payloadOffset); err != nil {
			d.logger.Warn("delivery failed", zap.Error(err))
		}
	}

	if d.metrics != nil {
		d.metrics.RoutedTotal.Inc()
		d.metrics.FanOutRecipients.Add(float64(len(recipients)))
	}

	if sender != nil && d.upstream != nil {
		if err := d.upstream.Forward(dg); err != nil {
			return fmt.Errorf("%w: %v", ErrUpstreamFailed, err)
		}
	}
	return nil
}

func (d *MessageDirector) dispatchControl(msgType uint16, r *wire.Reader, sender participant.Participant) error {
	if d.metrics != nil {
		d.metrics.ControlMessagesTotal.WithLabelValues(controlLabel(msgType)).Inc()
	}
	d.notify("control_message", controlLabel(msgType), 0)

	switch msgType {
	case channel.MsgAddChannel:
		a, err := r.ReadChannel()
		if err != nil {
			d.dropMalformed("ADD_CHANNEL", err)
			return nil
		}
		return d.addSingle(sender, a)

	case channel.MsgRemoveChannel:
		a, err := r.ReadChannel()
		if err != nil {
			d.dropMalformed("REMOVE_CHANNEL", err)
			return nil
		}
		return d.removeSingle(sender, a)

	case channel.MsgAddRange:
		lo, err1 := r.ReadChannel()
		hi, err2 := r.ReadChannel()
		if err1 != nil || err2 != nil {
			d.dropMalformed("ADD_RANGE", errors.Join(err1, err2))
			return nil
		}
		if lo > hi {
			d.logger.Error("malformed ADD_RANGE: lower bound exceeds upper bound", zap.Uint64("a", lo), zap.Uint64("b", hi))
			return nil
		}
		return d.addRange(sender, lo, hi)

	case channel.MsgRemoveRange:
		lo, err1 := r.ReadChannel()
		hi, err2 := r.ReadChannel()
		if err1 != nil || err2 != nil {
			d.dropMalformed("REMOVE_RANGE", errors.Join(err1, err2))
			return nil
		}
		if lo > hi {
			d.logger.Error("malformed REMOVE_RANGE: lower bound exceeds upper bound", zap.Uint64("a", lo), zap.Uint64("b", hi))
			return nil
		}
		return d.removeRange(sender, lo, hi)

	case channel.MsgAddPostRemove:
		payload, err := r.ReadBlob()
		if err != nil {
			d.dropMalformed("ADD_POST_REMOVE", err)
			return nil
		}
		sender.SetPostRemove(payload)
		return nil

	case channel.MsgClearPostRemove:
		sender.SetPostRemove(nil)
		return nil

	default:
		d.logger.Error("unknown control message type, discarding", zap.Uint16("msg_type", msgType))
		return nil
	}
}

// addSingle implements ADD_CHANNEL. A no-op add (already point-subscribed,
// or already covered by p's own range) never reaches upstream.
func (d *MessageDirector) addSingle(p participant.Participant, a channel.Channel) error {
	if !d.index.AddSingle(p, a) {
		return nil
	}
	p.AppendChannel(channel.Single(a))
	if d.metrics != nil {
		d.metrics.SubscriptionsActive.Inc()
	}

	if d.upstream == nil {
		return nil
	}
	if d.index.PointCount(a) == 1 && !d.index.RangeCovers(a) {
		return d.sendUpstreamSingle(channel.MsgAddChannel, a)
	}
	return nil
}

// removeSingle implements REMOVE_CHANNEL, keyed at the channel's own
// value rather than any enclosing range's lower bound.
func (d *MessageDirector) removeSingle(p participant.Participant, a channel.Channel) error {
	if !d.index.RemoveSingle(p, a) {
		return nil
	}
	p.RemoveChannel(channel.Single(a))
	if d.metrics != nil {
		d.metrics.SubscriptionsActive.Dec()
	}

	if d.upstream == nil {
		return nil
	}
	if d.index.PointCount(a) == 0 && !d.index.RangeCovers(a) {
		return d.sendUpstreamSingle(channel.MsgRemoveChannel, a)
	}
	return nil
}

// addRange implements ADD_RANGE, including the subsumption pass that
// drops any of p's own single-channel subscriptions now redundant with
// the new range. Subsumed entries are removed from the point map at
// their own channel, not at the range's lower bound.
func (d *MessageDirector) addRange(p participant.Participant, lo, hi channel.Channel) error {
	p.AppendChannel(channel.Range(lo, hi))
	needUpstream := d.index.AddRange(p, lo, hi)
	if d.metrics != nil {
		d.metrics.SubscriptionsActive.Inc()
	}

	for _, c := range p.Channels() {
		if c.IsRange || c.A < lo || c.A > hi {
			continue
		}
		d.index.RemoveSingle(p, c.A)
		p.RemoveChannel(c)
		if d.metrics != nil {
			d.metrics.SubscriptionsActive.Dec()
		}
	}

	if needUpstream && d.upstream != nil {
		return d.sendUpstreamRange(channel.MsgAddRange, lo, hi)
	}
	return nil
}

// removeRange implements REMOVE_RANGE. Upstream removal additionally
// requires that no point-map subscription (belonging to any participant)
// still falls inside [lo,hi], since the interval map alone does not
// account for those.
func (d *MessageDirector) removeRange(p participant.Participant, lo, hi channel.Channel) error {
	held := false
	for _, c := range p.Channels() {
		if c.Equal(channel.Range(lo, hi)) {
			held = true
			break
		}
	}
	p.RemoveChannel(channel.Range(lo, hi))
	emptied := d.index.RemoveRange(p, lo, hi)
	if d.metrics != nil && held {
		d.metrics.SubscriptionsActive.Dec()
	}

	if d.upstream == nil || !emptied {
		return nil
	}
	if d.index.AnyPointInRange(lo, hi) {
		return nil
	}
	return d.sendUpstreamRange(channel.MsgRemoveRange, lo, hi)
}

func (d *MessageDirector) sendUpstreamSingle(msgType uint16, a channel.Channel) error {
	dg := wire.New()
	dg.AddControlHeader(channel.ControlMessage, msgType)
	dg.AppendChannel(a)
	return d.forwardUpstream(msgType, dg)
}

func (d *MessageDirector) sendUpstreamRange(msgType uint16, lo, hi channel.Channel) error {
	dg := wire.New()
	dg.AddControlHeader(channel.ControlMessage, msgType)
	dg.AppendChannel(lo)
	dg.AppendChannel(hi)
	return d.forwardUpstream(msgType, dg)
}

func (d *MessageDirector) forwardUpstream(msgType uint16, dg *wire.Datagram) error {
	if d.metrics != nil {
		d.metrics.UpstreamSentTotal.WithLabelValues(controlLabel(msgType)).Inc()
	}
	if err := d.upstream.Forward(dg); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamFailed, err)
	}
	return nil
}

func (d *MessageDirector) dropMalformed(what string, err error) {
	if d.metrics != nil {
		d.metrics.MalformedTotal.Inc()
	}
	d.notify("malformed_datagram", what, 0)
	d.logger.Warn("dropping malformed datagram", zap.String("stage", what), zap.Error(err))
}

func controlLabel(msgType uint16) string {
	switch msgType {
	case channel.MsgAddChannel:
		return "add_channel"
	case channel.MsgRemoveChannel:
		return "remove_channel"
	case channel.MsgAddRange:
		return "add_range"
	case channel.MsgRemoveRange:
		return "remove_range"
	case channel.MsgAddPostRemove:
		return "add_post_remove"
	case channel.MsgClearPostRemove:
		return "clear_post_remove"
	default:
		return "unknown"
	}
}
