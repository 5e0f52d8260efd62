package graph

import (
	"strings"
	"testing"

	"github.com/sincronizacion-distribuida/renraku/internal/netid"
)

func TestParseCanonicalisesEdges(t *testing.T) {
	a, err := Parse(strings.NewReader("p edge 2 1\ne 5 3\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := Parse(strings.NewReader("p edge 2 1\ne 3 5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(a.Edges) != 1 || len(b.Edges) != 1 {
		t.Fatalf("expected exactly one edge in each graph")
	}
	for e := range a.Edges {
		if _, ok := b.Edges[e]; !ok {
			t.Fatalf("edge %+v from 'e 5 3' not found in graph parsed from 'e 3 5'", e)
		}
	}
}

func TestParseComment(t *testing.T) {
	g, err := Parse(strings.NewReader("c this is a comment\np edge 3 2\ne 1 2\ne 2 3\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(g.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(g.Edges))
	}
}

func TestParseEdgeBeforeManifestFails(t *testing.T) {
	_, err := Parse(strings.NewReader("e 1 2\n"))
	if err == nil {
		t.Fatal("expected error for edge before manifest")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Code != "edge before manifest" {
		t.Fatalf("unexpected error code: %s", pe.Code)
	}
}

func TestParseBadArity(t *testing.T) {
	_, err := Parse(strings.NewReader("p edge 2 1\ne 1\n"))
	if err == nil {
		t.Fatal("expected error for wrong edge arity")
	}
}

func TestParseUnknownMarker(t *testing.T) {
	_, err := Parse(strings.NewReader("x nonsense\n"))
	if err == nil {
		t.Fatal("expected error for unknown marker")
	}
}

func TestParseSelfLoopRejected(t *testing.T) {
	_, err := Parse(strings.NewReader("p edge 1 1\ne 1 1\n"))
	if err == nil {
		t.Fatal("expected error for self-loop edge")
	}
}

func TestGraphNeighbours(t *testing.T) {
	// Star of four: {1,2,3,4}, edges (1,2),(1,3),(1,4).
	g, err := Parse(strings.NewReader("p edge 4 3\ne 1 2\ne 1 3\ne 1 4\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	in, out := g.Neighbours(1)
	if len(in) != 0 {
		t.Fatalf("node 1 should have no incoming (accept) edges, got %v", in)
	}
	if len(out) != 3 {
		t.Fatalf("node 1 should dial all 3 neighbours, got %v", out)
	}

	in2, out2 := g.Neighbours(2)
	if len(in2) != 1 || in2[0] != netid.NodeId(1) {
		t.Fatalf("node 2 should accept from node 1, got %v", in2)
	}
	if len(out2) != 0 {
		t.Fatalf("node 2 should dial nobody, got %v", out2)
	}
}
