package bootstrap

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sincronizacion-distribuida/renraku/internal/coordinator"
	"github.com/sincronizacion-distribuida/renraku/internal/graph"
	"github.com/sincronizacion-distribuida/renraku/internal/netid"
)

// completeGraphSource builds a K_n graph description.
func completeGraphSource(n int) string {
	var edges []string
	edgeCount := 0
	for i := 1; i <= n; i++ {
		for j := i + 1; j <= n; j++ {
			edges = append(edges, fmt.Sprintf("e %d %d", i, j))
			edgeCount++
		}
	}
	return fmt.Sprintf("p edge %d %d\n%s\n", n, edgeCount, strings.Join(edges, "\n"))
}

// TestBootstrapDeadlockFreedomCompleteGraph exercises the full
// coordinator + node bootstrap handshake over a 5-node complete graph, the
// densest overlay in the seed scenarios, verifying the canonical-orientation
// rule prevents a dial/accept symmetry deadlock.
func TestBootstrapDeadlockFreedomCompleteGraph(t *testing.T) {
	const n = 5

	g, err := graph.Parse(strings.NewReader(completeGraphSource(n)))
	if err != nil {
		t.Fatalf("parse graph: %v", err)
	}

	coordConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer coordConn.Close()

	coord := coordinator.New(g, coordConn, zerolog.Nop())
	coordErrc := make(chan error, 1)
	go func() { coordErrc <- coord.Run(context.Background()) }()

	type result struct {
		plan *Plan
		err  error
	}
	results := make([]result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			plan, err := Configure(context.Background(), coordConn.LocalAddr().String(), zerolog.Nop())
			results[i] = result{plan: plan, err: err}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("bootstrap did not complete for all nodes (possible deadlock)")
	}

	seenIDs := make(map[netid.NodeId]bool)
	for i, r := range results {
		if r.err != nil {
			t.Fatalf("node %d: bootstrap failed: %v", i, r.err)
		}
		if r.plan.NodeCount != n {
			t.Fatalf("node %d: expected node count %d, got %d", i, n, r.plan.NodeCount)
		}
		if seenIDs[r.plan.ID] {
			t.Fatalf("duplicate node id assigned: %s", r.plan.ID)
		}
		seenIDs[r.plan.ID] = true

		// Handshake completeness: |peer_map| == degree(self) == n-1 in K_n.
		if len(r.plan.Peers) != n-1 {
			t.Fatalf("node %s: expected %d peers, got %d", r.plan.ID, n-1, len(r.plan.Peers))
		}
		for peerID := range r.plan.Peers {
			if peerID == r.plan.ID {
				t.Fatalf("node %s: peer map contains self", r.plan.ID)
			}
		}
	}
	if len(seenIDs) != n {
		t.Fatalf("expected %d distinct ids assigned, got %d", n, len(seenIDs))
	}

	select {
	case err := <-coordErrc:
		if err != nil {
			t.Fatalf("coordinator run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not finish")
	}
}
