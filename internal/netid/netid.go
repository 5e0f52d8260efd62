// Package netid defines the identifier and edge model shared by the
// coordinator and every node: a node identifier and the canonical orientation
// of an undirected graph edge.
package netid

import "fmt"

// NodeId uniquely identifies a node, assigned 1..N by the coordinator in the
// order registrations arrive. Never reused within a run.
type NodeId uint32

func (id NodeId) String() string {
	return fmt.Sprintf("node#%d", uint32(id))
}

// Edge is an undirected pair of distinct node identifiers stored in its
// canonical orientation: Lo < Hi. The lower identifier dials, the higher one
// accepts — this is the sole mechanism preventing symmetric connect/accept
// deadlocks during stream setup (see internal/bootstrap).
type Edge struct {
	Lo, Hi NodeId
}

// NewEdge builds the canonical orientation of an edge between a and b.
// Panics on a == b: this system has no notion of a self-loop, and admitting
// one would break the dial/accept split in the coordinator.
func NewEdge(a, b NodeId) Edge {
	if a == b {
		panic(fmt.Sprintf("netid: self-loop on %s", a))
	}
	if a < b {
		return Edge{Lo: a, Hi: b}
	}
	return Edge{Lo: b, Hi: a}
}

// Other returns the endpoint of the edge that isn't self.
func (e Edge) Other(self NodeId) NodeId {
	if e.Lo == self {
		return e.Hi
	}
	return e.Lo
}

// DialsFirst reports whether self is the endpoint responsible for dialing
// (the lower identifier) on this edge.
func (e Edge) DialsFirst(self NodeId) bool {
	return e.Lo == self
}
