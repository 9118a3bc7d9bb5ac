// Package subscription implements the MessageDirector's subscription
// engine (spec §4.2): a point map of exact-channel subscriptions
// combined with an aggregating interval map of range subscriptions.
package subscription

import (
	"github.com/riftline/messagedirector/internal/channel"
	"github.com/riftline/messagedirector/internal/participant"
)

// Index maps channels to the participants subscribed to them. It is not
// internally synchronized: callers (the director package) serialize all
// access behind a single mutex, per spec §5.
type Index struct {
	point  map[channel.Channel]map[participant.Participant]struct{}
	ranges *intervalMap
}

// New returns an empty Index whose interval map starts as a single
// interval [0, 2^64-1] -> ∅, per spec §3 invariant 4.
func New() *Index {
	return &Index{
		point:  make(map[channel.Channel]map[participant.Participant]struct{}),
		ranges: newIntervalMap(),
	}
}

// AddSingle subscribes p to the exact channel a. It returns added=false
// (a no-op on the point map) if a range subscription belonging to p
// already covers a, or if p is already subscribed to a. On added=true
// the caller is responsible for appending channel.Single(a) to p's
// channel list.
func (idx *Index) AddSingle(p participant.Participant, a channel.Channel) (added bool) {
	if _, covered := idx.ranges.Lookup(a)[p]; covered {
		return false
	}
	set, ok := idx.point[a]
	if !ok {
		set = make(map[participant.Participant]struct{})
		idx.point[a] = set
	}
	if _, exists := set[p]; exists {
		return false
	}
	set[p] = struct{}{}
	return true
}

// RemoveSingle unsubscribes p from the exact channel a, returning
// whether p was present.
func (idx *Index) RemoveSingle(p participant.Participant, a channel.Channel) bool {
	set, ok := idx.point[a]
	if !ok {
		return false
	}
	if _, exists := set[p]; !exists {
		return false
	}
	delete(set, p)
	if len(set) == 0 {
		delete(idx.point, a)
	}
	return true
}

// AddRange subscribes p to the closed interval [a,b]. It returns
// needUpstream, true iff the add introduced coverage over at least one
// previously-uncovered sub-interval (spec §4.3's ADD_RANGE rule).
func (idx *Index) AddRange(p participant.Participant, a, b channel.Channel) (needUpstream bool) {
	return idx.ranges.Add(a, b, p)
}

// RemoveRange unsubscribes p from the closed interval [a,b]. It returns
// emptiedUpstream, true iff no interval overlapping [a,b] retains any
// subscriber after the removal (spec §4.3's REMOVE_RANGE rule).
func (idx *Index) RemoveRange(p participant.Participant, a, b channel.Channel) (emptiedUpstream bool) {
	return idx.ranges.Remove(a, b, p)
}

// PointCount returns the number of participants subscribed to the exact
// channel a via the point map (range coverage is not counted).
func (idx *Index) PointCount(a channel.Channel) int {
	return len(idx.point[a])
}

// RangeCovers reports whether any range subscription currently covers
// channel a with a non-empty participant set.
func (idx *Index) RangeCovers(a channel.Channel) bool {
	return idx.ranges.NonEmpty(a)
}

// Recipients returns the union of the point map and interval map
// entries for channel c: PointMap[c] ∪ IntervalMap.lookup(c).
func (idx *Index) Recipients(c channel.Channel) map[participant.Participant]struct{} {
	out := idx.ranges.Lookup(c)
	for p := range idx.point[c] {
		out[p] = struct{}{}
	}
	return out
}

// AnyPointInRange reports whether the point map holds a subscription for
// any channel within [a,b]. The point map only ever holds non-empty
// entries (RemoveSingle deletes the key once its set empties), so
// membership alone is sufficient; it never stores ranges so its size is
// bounded by the number of distinct single-channel subscriptions rather
// than by the width of [a,b].
func (idx *Index) AnyPointInRange(a, b channel.Channel) bool {
	for c := range idx.point {
		if c >= a && c <= b {
			return true
		}
	}
	return false
}
