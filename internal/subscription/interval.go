package subscription

import (
	"math"

	"github.com/google/btree"

	"github.com/riftline/messagedirector/internal/channel"
	"github.com/riftline/messagedirector/internal/participant"
)

// intervalMap is an aggregating interval map over the full channel
// space [0, 2^64-1]: a disjoint partition into half-open intervals
// [start_i, start_{i+1}), each carrying the set of participants whose
// subscribed range contains it. Adding {range [a,b], p} unions {p} into
// every interval inside [a,b], splitting boundary intervals as needed;
// removing subtracts. This mirrors the semantics of boost::icl's
// interval_map, which the original implementation delegates to (spec
// §4.2, §9).
//
// Backed by a google/btree ordered by interval start, analogous to how
// the reference stack reaches for an ordered tree structure (btree is
// pinned transitively in linkerd2's dependency graph) instead of hand-
// rolling one.
type intervalMap struct {
	tree *btree.BTree
}

type node struct {
	start channel.Channel
	set   map[participant.Participant]struct{}
}

func (n *node) Less(than btree.Item) bool {
	return n.start < than.(*node).start
}

func newIntervalMap() *intervalMap {
	t := btree.New(32)
	t.ReplaceOrInsert(&node{start: 0, set: map[participant.Participant]struct{}{}})
	return &intervalMap{tree: t}
}

func cloneSet(s map[participant.Participant]struct{}) map[participant.Participant]struct{} {
	out := make(map[participant.Participant]struct{}, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

func setsEqual(a, b map[participant.Participant]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for p := range a {
		if _, ok := b[p]; !ok {
			return false
		}
	}
	return true
}

// floor returns the node whose interval contains key, i.e. the greatest
// node with start <= key. Always non-nil: the map covers the full space.
func (m *intervalMap) floor(key channel.Channel) *node {
	var found *node
	m.tree.DescendLessOrEqual(&node{start: key}, func(item btree.Item) bool {
		found = item.(*node)
		return false
	})
	return found
}

func (m *intervalMap) exact(key channel.Channel) *node {
	f := m.floor(key)
	if f != nil && f.start == key {
		return f
	}
	return nil
}

// ensureBreakpoint guarantees a node starting exactly at key exists,
// splitting the interval that currently covers it if necessary.
func (m *intervalMap) ensureBreakpoint(key channel.Channel) {
	f := m.floor(key)
	if f.start == key {
		return
	}
	m.tree.ReplaceOrInsert(&node{start: key, set: cloneSet(f.set)})
}

// mergeWithPrev collapses the node at key into its predecessor if their
// participant sets are identical (spec §3: "adjacent intervals with
// identical sets may be merged").
func (m *intervalMap) mergeWithPrev(key channel.Channel) {
	if key == 0 {
		return
	}
	cur := m.exact(key)
	if cur == nil {
		return
	}
	prev := m.floor(key - 1)
	if prev == nil || !setsEqual(prev.set, cur.set) {
		return
	}
	m.tree.Delete(cur)
}

// touched returns every node whose interval overlaps [a, upper), where
// upper is b+1, or none if b is the maximum channel value (the touched
// range then extends to the end of the space).
func (m *intervalMap) touched(a, b channel.Channel) (nodes []*node, upper channel.Channel, hasUpper bool) {
	m.ensureBreakpoint(a)
	if b != math.MaxUint64 {
		upper = b + 1
		hasUpper = true
		m.ensureBreakpoint(upper)
	}

	collect := func(item btree.Item) bool {
		nodes = append(nodes, item.(*node))
		return true
	}
	if hasUpper {
		m.tree.AscendRange(&node{start: a}, &node{start: upper}, collect)
	} else {
		m.tree.AscendGreaterOrEqual(&node{start: a}, collect)
	}
	return nodes, upper, hasUpper
}

// Add unions {p} into every interval overlapping [a,b]. It returns true
// iff at least one touched interval's set was empty before the add (the
// "introduced newly-covered sub-interval" condition from spec §4.3 that
// governs upstream ADD_RANGE propagation).
func (m *intervalMap) Add(a, b channel.Channel, p participant.Participant) bool {
	nodes, upper, hasUpper := m.touched(a, b)

	introducedCoverage := false
	for _, n := range nodes {
		if len(n.set) == 0 {
			introducedCoverage = true
		}
		n.set[p] = struct{}{}
	}

	m.mergeWithPrev(a)
	if hasUpper {
		m.mergeWithPrev(upper)
	}
	return introducedCoverage
}

// Remove subtracts {p} from every interval overlapping [a,b]. It returns
// true iff every touched interval's set is empty after the removal (the
// condition that governs upstream REMOVE_RANGE propagation).
func (m *intervalMap) Remove(a, b channel.Channel, p participant.Participant) bool {
	nodes, upper, hasUpper := m.touched(a, b)

	allEmpty := true
	for _, n := range nodes {
		delete(n.set, p)
		if len(n.set) > 0 {
			allEmpty = false
		}
	}

	m.mergeWithPrev(a)
	if hasUpper {
		m.mergeWithPrev(upper)
	}
	return allEmpty
}

// Lookup returns a snapshot of the participant set covering c.
func (m *intervalMap) Lookup(c channel.Channel) map[participant.Participant]struct{} {
	return cloneSet(m.floor(c).set)
}

// NonEmpty reports whether the interval covering c currently has any
// participant in it, without mutating the map.
func (m *intervalMap) NonEmpty(c channel.Channel) bool {
	return len(m.floor(c).set) > 0
}
