// Package wire implements the binary, fixed-width encoding used on both the
// coordinator's connectionless control channel and the node-to-node streams.
// There is no JSON, gob, or protobuf here: every field is a fixed-size
// unsigned integer or a fixed-size byte array (the address), encoded with
// encoding/binary the way _examples/R2Northstar-Atlas/pkg/a2s encodes its
// probe packets.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/sincronizacion-distribuida/renraku/internal/netid"
)

var order = binary.BigEndian

// --- Datagram messages (coordinator <-> node, over UDP) -------------------

// EncodeRegister builds the registration datagram a node sends the
// coordinator: the single uint16 TCP listening port it bound.
func EncodeRegister(listenPort uint16) []byte {
	b := make([]byte, 2)
	order.PutUint16(b, listenPort)
	return b
}

// DecodeRegister parses a registration datagram.
func DecodeRegister(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, errors.Errorf("wire: register datagram must be 2 bytes, got %d", len(b))
	}
	return order.Uint16(b), nil
}

// EncodePlanHeader builds the (N, id) datagram the coordinator sends a newly
// registered node.
func EncodePlanHeader(nodeCount uint32, id netid.NodeId) []byte {
	b := make([]byte, 8)
	order.PutUint32(b[0:4], nodeCount)
	order.PutUint32(b[4:8], uint32(id))
	return b
}

// DecodePlanHeader parses a plan-header datagram.
func DecodePlanHeader(b []byte) (nodeCount uint32, id netid.NodeId, err error) {
	if len(b) != 8 {
		return 0, 0, errors.Errorf("wire: plan header datagram must be 8 bytes, got %d", len(b))
	}
	return order.Uint32(b[0:4]), netid.NodeId(order.Uint32(b[4:8])), nil
}

// EncodeCount builds a single-uint32 count datagram (used for both the
// incoming- and outgoing-stream counts).
func EncodeCount(n uint32) []byte {
	b := make([]byte, 4)
	order.PutUint32(b, n)
	return b
}

// DecodeCount parses a count datagram.
func DecodeCount(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, errors.Errorf("wire: count datagram must be 4 bytes, got %d", len(b))
	}
	return order.Uint32(b), nil
}

// addrPayloadLen is the encoded length of a host+port pair, for both IPv4
// and IPv6: a 1-byte family tag, a 16-byte address (v4-mapped when the
// family is IPv4), and a 2-byte port.
const addrPayloadLen = 1 + 16 + 2

// EncodeAddr builds the address datagram sent once per outgoing neighbour.
func EncodeAddr(addr *net.TCPAddr) []byte {
	b := make([]byte, addrPayloadLen)
	ip4 := addr.IP.To4()
	if ip4 != nil {
		b[0] = 4
		copy(b[1:17], ip4.To16())
	} else {
		b[0] = 6
		copy(b[1:17], addr.IP.To16())
	}
	order.PutUint16(b[17:19], uint16(addr.Port))
	return b
}

// DecodeAddr parses an address datagram.
func DecodeAddr(b []byte) (*net.TCPAddr, error) {
	if len(b) != addrPayloadLen {
		return nil, errors.Errorf("wire: address datagram must be %d bytes, got %d", addrPayloadLen, len(b))
	}
	ip := make(net.IP, 16)
	copy(ip, b[1:17])
	if b[0] == 4 {
		ip = ip.To4()
	}
	port := order.Uint16(b[17:19])
	return &net.TCPAddr{IP: ip, Port: int(port)}, nil
}

// --- Stream messages (node <-> node, over TCP) -----------------------------

// NodeIDSize is the fixed width of a bare NodeId on the wire, used exactly
// twice per connection during handshake.
const NodeIDSize = 4

// WriteNodeID writes a bare NodeId (no tag), used during stream handshake.
func WriteNodeID(w io.Writer, id netid.NodeId) error {
	b := make([]byte, NodeIDSize)
	order.PutUint32(b, uint32(id))
	_, err := w.Write(b)
	return err
}

// ReadNodeID reads a bare NodeId written by WriteNodeID.
func ReadNodeID(r io.Reader) (netid.NodeId, error) {
	b := make([]byte, NodeIDSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return 0, err
	}
	return netid.NodeId(order.Uint32(b)), nil
}

// Message tags for the Request/Permission union.
const (
	tagRequest    byte = 1
	tagPermission byte = 2
)

// Request is sent by a node asking its neighbour for permission to enter the
// critical section.
type Request struct {
	Clock     uint64
	Requester netid.NodeId
}

// Permission is sent by a node granting a previously-requested (or
// previously-deferred) entry.
type Permission struct {
	Authorizer netid.NodeId
}

// Message is the tagged union of Request and Permission exchanged between
// neighbours once the overlay is established.
type Message interface {
	isMessage()
}

func (Request) isMessage()    {}
func (Permission) isMessage() {}

const requestPayloadLen = 8 + 4   // Clock uint64 + Requester uint32
const permissionPayloadLen = 4    // Authorizer uint32
const maxMessageLen = 1 + 8 + 4 // tag + largest payload

// WriteMessage encodes and writes a single whole message to w. Writes are
// performed as one Write call so that message-boundary atomicity holds even
// when multiple goroutines share the same underlying connection's write end
// (see internal/ricart, which guards each stream's write-end with a lock).
func WriteMessage(w io.Writer, m Message) error {
	var buf bytes.Buffer
	switch v := m.(type) {
	case Request:
		buf.WriteByte(tagRequest)
		var body [requestPayloadLen]byte
		order.PutUint64(body[0:8], v.Clock)
		order.PutUint32(body[8:12], uint32(v.Requester))
		buf.Write(body[:])
	case Permission:
		buf.WriteByte(tagPermission)
		var body [permissionPayloadLen]byte
		order.PutUint32(body[0:4], uint32(v.Authorizer))
		buf.Write(body[:])
	default:
		return fmt.Errorf("wire: unknown message type %T", m)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadMessage reads and decodes a single whole message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	switch tag[0] {
	case tagRequest:
		var body [requestPayloadLen]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return nil, err
		}
		return Request{
			Clock:     order.Uint64(body[0:8]),
			Requester: netid.NodeId(order.Uint32(body[8:12])),
		}, nil
	case tagPermission:
		var body [permissionPayloadLen]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return nil, err
		}
		return Permission{
			Authorizer: netid.NodeId(order.Uint32(body[0:4])),
		}, nil
	default:
		return nil, errors.Errorf("wire: unknown message tag %d", tag[0])
	}
}
