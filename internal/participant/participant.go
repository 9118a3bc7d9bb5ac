// Package participant defines the abstract endpoint that the
// MessageDirector fans datagrams out to.
package participant

import (
	"sync"

	"github.com/riftline/messagedirector/internal/channel"
	"github.com/riftline/messagedirector/internal/wire"
)

// Participant is an endpoint identified by object identity (its pointer
// value) that can receive datagrams and owns its own subscription list
// and post-remove trailer, per spec §3.
//
// Implementations: transport.NetworkParticipant wraps a downstream TCP
// socket; tests use a minimal in-memory stub embedding Base.
type Participant interface {
	// Deliver hands the participant a full datagram, whose payload
	// begins at payloadOffset (see wire.Reader.SeekPayload). Delivery
	// is best-effort; a returned error indicates a dead transport. The
	// director logs it and neither retries nor removes the participant.
	Deliver(dg *wire.Datagram, payloadOffset int) error

	// Channels returns a snapshot of the participant's current
	// subscription list, insertion-ordered.
	Channels() []channel.List

	// AppendChannel records a newly added ChannelList.
	AppendChannel(c channel.List)

	// RemoveChannel removes the first ChannelList equal to c, if present.
	RemoveChannel(c channel.List)

	// PostRemove returns the participant's post-remove payload, or nil
	// if none is set.
	PostRemove() []byte

	// SetPostRemove replaces the participant's post-remove payload. A
	// nil or empty slice clears it.
	SetPostRemove(payload []byte)
}

// Base is embeddable bookkeeping shared by every Participant
// implementation: the insertion-ordered channel list and the optional
// post-remove trailer. All mutation goes through the director's single
// serializing mutex (spec §5); every Base method additionally takes
// Base's own mutex, so incidental concurrent reads such as Channels()
// from diagnostics code running outside that lock are also safe.
type Base struct {
	mu         sync.Mutex
	channels   []channel.List
	postRemove []byte
}

func (b *Base) Channels() []channel.List {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]channel.List, len(b.channels))
	copy(out, b.channels)
	return out
}

func (b *Base) AppendChannel(c channel.List) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, c)
}

func (b *Base) RemoveChannel(c channel.List) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.channels {
		if existing.Equal(c) {
			b.channels = append(b.channels[:i], b.channels[i+1:]...)
			return
		}
	}
}

func (b *Base) PostRemove() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.postRemove
}

func (b *Base) SetPostRemove(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(payload) == 0 {
		b.postRemove = nil
		return
	}
	b.postRemove = append([]byte(nil), payload...)
}
