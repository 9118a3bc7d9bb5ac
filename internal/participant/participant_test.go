package participant

import (
	"testing"

	"github.com/riftline/messagedirector/internal/channel"
)

func TestAppendAndRemoveChannel(t *testing.T) {
	var b Base
	b.AppendChannel(channel.Single(1))
	b.AppendChannel(channel.Range(10, 20))
	b.AppendChannel(channel.Single(2))

	b.RemoveChannel(channel.Range(10, 20))

	got := b.Channels()
	if len(got) != 2 {
		t.Fatalf("expected 2 channels after removal, got %d", len(got))
	}
	if !got[0].Equal(channel.Single(1)) || !got[1].Equal(channel.Single(2)) {
		t.Fatalf("unexpected remaining channels: %+v", got)
	}
}

func TestChannelsReturnsDefensiveCopy(t *testing.T) {
	var b Base
	b.AppendChannel(channel.Single(1))

	got := b.Channels()
	got[0] = channel.Single(999)

	if !b.Channels()[0].Equal(channel.Single(1)) {
		t.Fatal("mutating the returned slice must not affect Base's internal state")
	}
}

func TestPostRemoveSetAndClear(t *testing.T) {
	var b Base
	if b.PostRemove() != nil {
		t.Fatal("expected nil post-remove by default")
	}

	b.SetPostRemove([]byte("trailer"))
	if string(b.PostRemove()) != "trailer" {
		t.Fatalf("unexpected post-remove payload: %q", b.PostRemove())
	}

	b.SetPostRemove(nil)
	if b.PostRemove() != nil {
		t.Fatal("expected post-remove cleared")
	}
}
