package coordinator

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sincronizacion-distribuida/renraku/internal/graph"
	"github.com/sincronizacion-distribuida/renraku/internal/wire"
)

func mustListenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	return conn
}

// fakeNode drives the node side of the registration/plan-push protocol for
// one participant, without any TCP handshake: just enough to observe the
// plan the coordinator computed.
type fakeNode struct {
	conn *net.UDPConn
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	return &fakeNode{conn: conn}
}

func (f *fakeNode) register(t *testing.T, coordAddr *net.UDPAddr, fakeListenPort uint16) {
	t.Helper()
	if _, err := f.conn.WriteToUDP(wire.EncodeRegister(fakeListenPort), coordAddr); err != nil {
		t.Fatalf("send registration: %v", err)
	}
}

func (f *fakeNode) recvPlan(t *testing.T) (incoming, outgoing int) {
	t.Helper()
	f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 64)

	n, _, err := f.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("recv plan header: %v", err)
	}
	if _, _, err := wire.DecodePlanHeader(buf[:n]); err != nil {
		t.Fatalf("decode plan header: %v", err)
	}

	n, _, err = f.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("recv incoming count: %v", err)
	}
	incCount, err := wire.DecodeCount(buf[:n])
	if err != nil {
		t.Fatalf("decode incoming count: %v", err)
	}

	n, _, err = f.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("recv outgoing count: %v", err)
	}
	outCount, err := wire.DecodeCount(buf[:n])
	if err != nil {
		t.Fatalf("decode outgoing count: %v", err)
	}

	for i := uint32(0); i < outCount; i++ {
		n, _, err = f.conn.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("recv outgoing addr %d: %v", i, err)
		}
		if _, err := wire.DecodeAddr(buf[:n]); err != nil {
			t.Fatalf("decode outgoing addr %d: %v", i, err)
		}
	}

	return int(incCount), int(outCount)
}

func TestCoordinatorStarOfFour(t *testing.T) {
	g, err := graph.Parse(strings.NewReader("p edge 4 3\ne 1 2\ne 1 3\ne 1 4\n"))
	if err != nil {
		t.Fatalf("parse graph: %v", err)
	}

	coordConn := mustListenUDP(t)
	defer coordConn.Close()

	coord := New(g, coordConn, zerolog.Nop())

	errc := make(chan error, 1)
	go func() { errc <- coord.Run(context.Background()) }()

	nodes := make([]*fakeNode, 4)
	for i := range nodes {
		nodes[i] = newFakeNode(t)
		defer nodes[i].conn.Close()
	}
	for i, n := range nodes {
		n.register(t, coordConn.LocalAddr().(*net.UDPAddr), uint16(20000+i))
	}

	var hubs, leaves int
	for _, n := range nodes {
		incoming, outgoing := n.recvPlan(t)
		switch {
		case incoming == 0 && outgoing == 3:
			hubs++
		case incoming == 1 && outgoing == 0:
			leaves++
		default:
			t.Fatalf("unexpected neighbour split: incoming=%d outgoing=%d", incoming, outgoing)
		}
	}
	if hubs != 1 || leaves != 3 {
		t.Fatalf("expected exactly one hub and three leaves, got hubs=%d leaves=%d", hubs, leaves)
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("coordinator run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not finish")
	}
}
