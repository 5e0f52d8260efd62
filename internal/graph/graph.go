// Package graph parses the line-oriented graph file format described in
// spec.md §6 and builds the immutable vertex/edge set the coordinator
// consumes.
//
// Grammar:
//
//	c ...       comment, ignored
//	p <tag> V E manifest: V vertices, E edges; must appear before any edge
//	e A B       undirected edge between vertices A and B
package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sincronizacion-distribuida/renraku/internal/netid"
)

// ParseError reports a malformed line, with enough context to find it in the
// source file.
type ParseError struct {
	Code string
	Line int
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("graph: %s at line %d: %q", e.Code, e.Line, e.Text)
}

// Graph is the coordinator's view of the system: the set of vertices {1..N}
// and the deduplicated, canonically-oriented set of edges. Immutable after
// Parse returns.
type Graph struct {
	Vertices map[netid.NodeId]struct{}
	Edges    map[netid.Edge]struct{}
}

// NumVertices returns the number of distinct vertices seen.
func (g *Graph) NumVertices() int {
	return len(g.Vertices)
}

// Neighbours returns the neighbours of id, split by dial direction:
// incoming are the lower-id neighbours that dial id (id accepts), outgoing
// are the higher-id neighbours that id dials.
func (g *Graph) Neighbours(id netid.NodeId) (incoming, outgoing []netid.NodeId) {
	for e := range g.Edges {
		switch {
		case e.Hi == id:
			incoming = append(incoming, e.Lo)
		case e.Lo == id:
			outgoing = append(outgoing, e.Hi)
		}
	}
	return incoming, outgoing
}

// Parse reads a graph description from r. The manifest line's vertex count V
// puts vertices 1..V in the vertex set; its edge count is used only as a
// capacity hint. Each edge's endpoints are also added to the vertex set as
// edges are read.
func Parse(r io.Reader) (*Graph, error) {
	var g *Graph

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}

		switch line[0] {
		case 'c':
			// comment, ignored

		case 'p':
			fields := strings.Fields(line)
			if len(fields) != 4 {
				return nil, &ParseError{Code: "bad manifest arity", Line: lineNo, Text: line}
			}
			v, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, errors.Wrapf(err, "graph: bad manifest vertex count at line %d", lineNo)
			}
			e, err := strconv.Atoi(fields[3])
			if err != nil {
				return nil, errors.Wrapf(err, "graph: bad manifest edge count at line %d", lineNo)
			}
			g = &Graph{
				Vertices: make(map[netid.NodeId]struct{}, v),
				Edges:    make(map[netid.Edge]struct{}, e),
			}
			for i := 1; i <= v; i++ {
				g.Vertices[netid.NodeId(i)] = struct{}{}
			}

		case 'e':
			if g == nil {
				return nil, &ParseError{Code: "edge before manifest", Line: lineNo, Text: line}
			}
			fields := strings.Fields(line)
			if len(fields) != 3 {
				return nil, &ParseError{Code: "bad edge arity", Line: lineNo, Text: line}
			}
			a, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, errors.Wrapf(err, "graph: bad edge endpoint at line %d", lineNo)
			}
			b, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, errors.Wrapf(err, "graph: bad edge endpoint at line %d", lineNo)
			}
			if a == b {
				return nil, &ParseError{Code: "self-loop edge", Line: lineNo, Text: line}
			}

			va, vb := netid.NodeId(a), netid.NodeId(b)
			g.Vertices[va] = struct{}{}
			g.Vertices[vb] = struct{}{}
			g.Edges[netid.NewEdge(va, vb)] = struct{}{}

		default:
			return nil, &ParseError{Code: fmt.Sprintf("unknown marker %q", string(line[0])), Line: lineNo, Text: line}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "graph: read")
	}
	if g == nil {
		return nil, &ParseError{Code: "no manifest line found", Line: lineNo, Text: ""}
	}

	return g, nil
}
