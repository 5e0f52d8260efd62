// Package bootstrap implements the node-side half of the bootstrap protocol:
// registering with the coordinator, receiving the connection plan, and
// completing the overlay by accepting the declared incoming streams before
// dialing the declared outgoing addresses.
package bootstrap

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sincronizacion-distribuida/renraku/internal/netid"
	"github.com/sincronizacion-distribuida/renraku/internal/wire"
)

const recvBufSize = 64

// Plan is the outcome of a successful bootstrap: the total node count, this
// node's assigned identifier, and the frozen peer connection map (exactly
// one stream per graph neighbour).
type Plan struct {
	NodeCount int
	ID        netid.NodeId
	Peers     map[netid.NodeId]net.Conn
}

// Configure runs the full node bootstrap sequence against the coordinator at
// controllerAddr. Any I/O or deserialisation error is fatal; bootstrap never
// proceeds with a partial overlay.
func Configure(ctx context.Context, controllerAddr string, log zerolog.Logger) (*Plan, error) {
	tcpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap: bind tcp listener")
	}

	udpConn, err := net.Dial("udp", controllerAddr)
	if err != nil {
		tcpListener.Close()
		return nil, errors.Wrap(err, "bootstrap: dial coordinator control socket")
	}
	udpAddrConn := udpConn.(*net.UDPConn)

	listenPort := uint16(tcpListener.Addr().(*net.TCPAddr).Port)
	if _, err := udpAddrConn.Write(wire.EncodeRegister(listenPort)); err != nil {
		return nil, errors.Wrap(err, "bootstrap: send registration")
	}
	log.Debug().Uint16("listen_port", listenPort).Msg("registered with coordinator")

	buf := make([]byte, recvBufSize)

	n, err := udpAddrConn.Read(buf)
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap: receive plan header")
	}
	nodeCount, id, err := wire.DecodePlanHeader(buf[:n])
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap: decode plan header")
	}
	log = log.With().Stringer("node_id", id).Logger()
	log.Debug().Int("node_count", int(nodeCount)).Msg("received identifier")

	n, err = udpAddrConn.Read(buf)
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap: receive incoming count")
	}
	incomingCount, err := wire.DecodeCount(buf[:n])
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap: decode incoming count")
	}

	n, err = udpAddrConn.Read(buf)
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap: receive outgoing count")
	}
	outgoingCount, err := wire.DecodeCount(buf[:n])
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap: decode outgoing count")
	}
	log.Debug().Uint32("incoming", incomingCount).Uint32("outgoing", outgoingCount).Msg("received stream counts")

	peers := make(map[netid.NodeId]net.Conn, incomingCount+outgoingCount)
	var peersMu sync.Mutex

	// Accept loop precedes the dial loop: the coordinator only instructs
	// node i to dial peers with identifier > i, while peers with
	// identifier > i accept first. This ordering is load-bearing, not
	// incidental — it is the only thing that prevents symmetric
	// connect/accept deadlocks.
	if err := acceptIncoming(tcpListener, int(incomingCount), id, peers, &peersMu, log); err != nil {
		return nil, errors.Wrap(err, "bootstrap: accept loop")
	}
	if err := dialOutgoing(udpAddrConn, buf, int(outgoingCount), id, peers, &peersMu, log); err != nil {
		return nil, errors.Wrap(err, "bootstrap: dial loop")
	}

	log.Info().Int("peers", len(peers)).Msg("bootstrap complete")
	return &Plan{NodeCount: int(nodeCount), ID: id, Peers: peers}, nil
}

// acceptIncoming accepts exactly count incoming streams, handshaking each
// concurrently: the handshakes are independent of one another once a
// connection is accepted, so one slow peer cannot head-of-line block the
// rest.
func acceptIncoming(listener net.Listener, count int, self netid.NodeId, peers map[netid.NodeId]net.Conn, mu *sync.Mutex, log zerolog.Logger) error {
	g := new(errgroup.Group)
	for i := 0; i < count; i++ {
		conn, err := listener.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		g.Go(func() error {
			peerID, err := wire.ReadNodeID(conn)
			if err != nil {
				return errors.Wrap(err, "read peer id")
			}
			if err := wire.WriteNodeID(conn, self); err != nil {
				return errors.Wrap(err, "write own id")
			}

			mu.Lock()
			peers[peerID] = conn
			mu.Unlock()

			log.Debug().Stringer("peer_id", peerID).Msg("accepted incoming stream")
			return nil
		})
	}
	return g.Wait()
}

// dialOutgoing receives count addresses from the coordinator and dials each
// in turn, in list order. Outgoing peers are, by the orientation rule,
// already listening by the time we dial, so sequential dialing is sufficient
// (there is no benefit to concurrency here the way there is for accepts).
func dialOutgoing(udpConn *net.UDPConn, buf []byte, count int, self netid.NodeId, peers map[netid.NodeId]net.Conn, mu *sync.Mutex, log zerolog.Logger) error {
	for i := 0; i < count; i++ {
		n, err := udpConn.Read(buf)
		if err != nil {
			return errors.Wrap(err, "receive outgoing address")
		}
		addr, err := wire.DecodeAddr(buf[:n])
		if err != nil {
			return errors.Wrap(err, "decode outgoing address")
		}

		conn, err := net.Dial("tcp", addr.String())
		if err != nil {
			return errors.Wrapf(err, "dial %s", addr)
		}
		if err := wire.WriteNodeID(conn, self); err != nil {
			return errors.Wrap(err, "write own id")
		}
		peerID, err := wire.ReadNodeID(conn)
		if err != nil {
			return errors.Wrap(err, "read peer id")
		}

		mu.Lock()
		peers[peerID] = conn
		mu.Unlock()

		log.Debug().Stringer("peer_id", peerID).Str("addr", addr.String()).Msg("dialed outgoing stream")
	}
	return nil
}
