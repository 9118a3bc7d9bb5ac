// Package channel defines the MessageDirector's channel address space:
// the reserved control channel, control message types, and the
// ChannelList subscription unit (single channel or closed interval).
package channel

import "math"

// Channel is a 64-bit address on the MessageDirector's subscription bus.
type Channel = uint64

// Max is the upper bound of the channel address space, 2^64 - 1.
const Max Channel = math.MaxUint64

// ControlMessage is the reserved channel that marks a datagram as
// control-plane traffic. It never carries application payload.
const ControlMessage Channel = 1

// Control message types, dispatched by director.MessageDirector.Route.
const (
	MsgAddChannel uint16 = iota + 9000
	MsgRemoveChannel
	MsgAddRange
	MsgRemoveRange
	MsgAddPostRemove
	MsgClearPostRemove
)

// List is a subscription unit: either a single channel `a`, or a closed
// interval [a, b] with a <= b. Two Lists are equal iff both are single
// with equal a, or both are ranges with equal (a, b).
type List struct {
	IsRange bool
	A, B    Channel
}

// Single builds a single-channel List.
func Single(a Channel) List { return List{A: a} }

// Range builds a range List covering [a, b].
func Range(a, b Channel) List { return List{IsRange: true, A: a, B: b} }

// Qualifies reports whether c falls within the list's subscription.
func (l List) Qualifies(c Channel) bool {
	if l.IsRange {
		return c >= l.A && c <= l.B
	}
	return c == l.A
}

// Equal implements the equality rule from spec §3.
func (l List) Equal(other List) bool {
	if l.IsRange != other.IsRange {
		return false
	}
	if l.IsRange {
		return l.A == other.A && l.B == other.B
	}
	return l.A == other.A
}
