// Package coordinator implements the single-shot bootstrap service: it
// binds one connectionless datagram endpoint, waits for the declared number
// of participants to register, assigns identifiers in arrival order, and
// pushes each peer's connection plan so that every declared edge becomes
// exactly one bidirectional stream.
package coordinator

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sincronizacion-distribuida/renraku/internal/graph"
	"github.com/sincronizacion-distribuida/renraku/internal/netid"
	"github.com/sincronizacion-distribuida/renraku/internal/wire"
)

// recvBufSize is generous for the small fixed-width datagrams this protocol
// ever sends; registration and plan messages are a handful of bytes each.
const recvBufSize = 64

// registration is what the coordinator records about one arriving node.
type registration struct {
	id         netid.NodeId
	controlAddr *net.UDPAddr // where to push plan datagrams
	listenAddr  *net.TCPAddr // where the node's TCP listener is bound
}

// Coordinator bootstraps a graph's overlay over a UDP control channel.
type Coordinator struct {
	graph *graph.Graph
	conn  *net.UDPConn
	log   zerolog.Logger
}

// New builds a Coordinator bound to conn, bootstrapping g.
func New(g *graph.Graph, conn *net.UDPConn, log zerolog.Logger) *Coordinator {
	return &Coordinator{graph: g, conn: conn, log: log}
}

// Run executes the full bootstrap protocol: registration phase followed by
// plan-push phase. It returns once every node has its plan, or fatally on
// the first error (malformed registration, deserialisation error, or send
// failure — this service does not retry).
func (c *Coordinator) Run(ctx context.Context) error {
	n := c.graph.NumVertices()

	regs, err := c.register(n)
	if err != nil {
		return errors.Wrap(err, "coordinator: registration phase")
	}
	c.log.Info().Int("node_count", n).Int("edge_count", len(c.graph.Edges)).Msg("all nodes registered")

	if err := c.pushPlans(ctx, regs); err != nil {
		return errors.Wrap(err, "coordinator: plan-push phase")
	}
	c.log.Info().Msg("all plans delivered, coordinator exiting")
	return nil
}

// register awaits exactly n distinct registration datagrams, assigning
// identifiers 1..n in arrival order. Registrations beyond n are never
// consumed: the coordinator stops reading once it has n.
func (c *Coordinator) register(n int) ([]registration, error) {
	regs := make([]registration, 0, n)
	buf := make([]byte, recvBufSize)

	for i := 0; i < n; i++ {
		size, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, errors.Wrap(err, "read registration datagram")
		}
		port, err := wire.DecodeRegister(buf[:size])
		if err != nil {
			return nil, errors.Wrap(err, "decode registration datagram")
		}

		id := netid.NodeId(i + 1)
		listenAddr := &net.TCPAddr{IP: addr.IP, Port: int(port)}
		regs = append(regs, registration{
			id:          id,
			controlAddr: addr,
			listenAddr:  listenAddr,
		})
		c.log.Debug().
			Stringer("node_id", id).
			Str("control_addr", addr.String()).
			Str("listen_addr", listenAddr.String()).
			Msg("node registered")
	}

	return regs, nil
}

// pushPlans sends each registered node its connection plan. Each node's
// 1-4-step sequence is independent of every other node's, so the pushes run
// concurrently; the phase fails with the first error once every push has
// returned (pushes to other nodes are not cancelled).
func (c *Coordinator) pushPlans(ctx context.Context, regs []registration) error {
	listenByID := make(map[netid.NodeId]*net.TCPAddr, len(regs))
	for _, r := range regs {
		listenByID[r.id] = r.listenAddr
	}

	g, _ := errgroup.WithContext(ctx)
	for _, r := range regs {
		r := r
		g.Go(func() error {
			return c.pushPlanTo(r, listenByID)
		})
	}
	return g.Wait()
}

func (c *Coordinator) pushPlanTo(r registration, listenByID map[netid.NodeId]*net.TCPAddr) error {
	incoming, outgoing := c.graph.Neighbours(r.id)

	if err := c.send(r.controlAddr, wire.EncodePlanHeader(uint32(c.graph.NumVertices()), r.id)); err != nil {
		return errors.Wrapf(err, "send plan header to %s", r.id)
	}
	if err := c.send(r.controlAddr, wire.EncodeCount(uint32(len(incoming)))); err != nil {
		return errors.Wrapf(err, "send incoming count to %s", r.id)
	}
	if err := c.send(r.controlAddr, wire.EncodeCount(uint32(len(outgoing)))); err != nil {
		return errors.Wrapf(err, "send outgoing count to %s", r.id)
	}
	for _, peer := range outgoing {
		addr, ok := listenByID[peer]
		if !ok {
			return errors.Errorf("no listen address recorded for node %s (dial target of %s)", peer, r.id)
		}
		if err := c.send(r.controlAddr, wire.EncodeAddr(addr)); err != nil {
			return errors.Wrapf(err, "send outgoing address %s to %s", addr, r.id)
		}
	}

	c.log.Info().
		Stringer("node_id", r.id).
		Int("incoming", len(incoming)).
		Int("outgoing", len(outgoing)).
		Msg("plan delivered")
	return nil
}

func (c *Coordinator) send(addr *net.UDPAddr, payload []byte) error {
	_, err := c.conn.WriteToUDP(payload, addr)
	return err
}
