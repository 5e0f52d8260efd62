// Package ricart implements the Ricart–Agrawala mutual exclusion engine: a
// state machine plus one receiver that multiplexes reads from all neighbour
// streams, exposing Acquire (block until every neighbour has granted) and
// Release (flush deferred grants).
//
// The engine's shared mutable state — critical-section state, Lamport clock,
// last request timestamp, awaited set, deferred sequence — lives in a single
// struct guarded by one mutex and one condition variable; per spec.md's
// design note the invariants are cross-field and the mutex is never split.
package ricart

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/sincronizacion-distribuida/renraku/internal/netid"
	"github.com/sincronizacion-distribuida/renraku/internal/wire"
)

// State is the node's relationship to the critical section.
type State int

const (
	Idle State = iota
	Requesting
	InCS
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case InCS:
		return "in_cs"
	default:
		return "unknown"
	}
}

// ProtocolError reports a fatal violation of the neighbour protocol, e.g. a
// Request arriving from a node outside the peer map.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "ricart: protocol violation: " + e.Reason
}

// Snapshot is a consistent, read-only view of the engine's state, taken
// under its mutex — used by internal/debugsrv's /status endpoint.
type Snapshot struct {
	State         State
	Clock         uint64
	LastRequestTS uint64
	Awaited       []netid.NodeId
	Deferred      []netid.NodeId
}

// peerConn pairs a neighbour's stream with a dedicated write lock: writes to
// a stream may originate from Acquire, Release, or the dispatcher, and each
// message must land on the wire whole, never interleaved with another.
type peerConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (p *peerConn) send(m wire.Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return wire.WriteMessage(p.conn, m)
}

// state is the single mutex-guarded record described in spec.md §3.
type state struct {
	critical      State
	clock         uint64
	lastRequestTS uint64
	awaited       map[netid.NodeId]struct{}
	deferred      []netid.NodeId
}

// Engine runs the Ricart–Agrawala algorithm against a fixed set of
// neighbours, established once at bootstrap and never mutated afterward.
type Engine struct {
	self  netid.NodeId
	peers map[netid.NodeId]*peerConn

	mu   sync.Mutex
	cond *sync.Cond
	st   state

	log zerolog.Logger

	inbox    chan inboundMsg
	fatal    chan error
	fatalSet bool
}

type inboundMsg struct {
	from netid.NodeId
	msg  wire.Message
}

// New builds an Engine for self over the given frozen peer map. Call Start
// once bootstrap has completed to begin the background receiver.
func New(self netid.NodeId, peers map[netid.NodeId]net.Conn, log zerolog.Logger) *Engine {
	e := &Engine{
		self:  self,
		peers: make(map[netid.NodeId]*peerConn, len(peers)),
		log:   log,
		inbox: make(chan inboundMsg),
		fatal: make(chan error, 1),
	}
	e.cond = sync.NewCond(&e.mu)
	for id, conn := range peers {
		e.peers[id] = &peerConn{conn: conn}
	}
	return e
}

// Start launches one reader goroutine per neighbour stream, all fanning into
// a single dispatcher goroutine. The dispatcher is the only goroutine that
// ever applies a received message to the state; this is the Go-idiomatic
// analogue of spec.md's "one thread does ready-set multiplexing" design
// note — a channel fan-in plays the role select/epoll would play in a host
// with those primitives, while preserving the same "exactly one applier"
// guarantee.
func (e *Engine) Start() {
	for id, pc := range e.peers {
		go e.readLoop(id, pc.conn)
	}
	go e.dispatchLoop()
}

// Err returns a channel that receives the first fatal engine error (a send
// or receive failure on any neighbour stream, or a protocol violation). The
// engine defines no graceful shutdown; a fatal error here means the caller
// should surface it and exit.
func (e *Engine) Err() <-chan error {
	return e.fatal
}

func (e *Engine) readLoop(from netid.NodeId, conn net.Conn) {
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			e.reportFatal(errors.Wrapf(err, "ricart: read from %s", from))
			return
		}
		e.inbox <- inboundMsg{from: from, msg: msg}
	}
}

func (e *Engine) dispatchLoop() {
	for m := range e.inbox {
		if err := e.handle(m.from, m.msg); err != nil {
			e.reportFatal(err)
			return
		}
	}
}

func (e *Engine) reportFatal(err error) {
	e.mu.Lock()
	already := e.fatalSet
	e.fatalSet = true
	e.mu.Unlock()
	if already {
		return
	}
	select {
	case e.fatal <- err:
	default:
	}
}

// Acquire blocks until every neighbour has granted permission to enter the
// critical section. The caller must currently be Idle.
func (e *Engine) Acquire() error {
	e.mu.Lock()
	e.st.critical = Requesting
	e.st.clock++
	e.st.lastRequestTS = e.st.clock
	ts := e.st.clock
	e.st.awaited = make(map[netid.NodeId]struct{}, len(e.peers))
	for id := range e.peers {
		e.st.awaited[id] = struct{}{}
	}
	e.mu.Unlock()

	e.log.Debug().Uint64("clock", ts).Msg("requesting critical section")

	// Mutex released before network sends so permissions may arrive and be
	// recorded concurrently (spec.md §5).
	for id, pc := range e.peers {
		if err := pc.send(wire.Request{Clock: ts, Requester: e.self}); err != nil {
			return errors.Wrapf(err, "ricart: send request to %s", id)
		}
	}

	e.mu.Lock()
	for len(e.st.awaited) > 0 {
		e.cond.Wait()
	}
	e.st.critical = InCS
	e.mu.Unlock()

	e.log.Debug().Msg("entered critical section")
	return nil
}

// Release leaves the critical section and flushes every deferred grant, in
// the order requests were deferred. The caller must currently be InCS.
func (e *Engine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.st.critical = Idle

	var firstErr error
	for _, d := range e.st.deferred {
		pc, ok := e.peers[d]
		if !ok {
			continue
		}
		if err := pc.send(wire.Permission{Authorizer: e.self}); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "ricart: send permission to %s", d)
		}
	}
	sent := len(e.st.deferred)
	e.st.deferred = nil

	e.log.Debug().Int("deferred_flushed", sent).Msg("left critical section")
	return firstErr
}

// handle applies one inbound message under the state mutex — the sole
// location where state is written outside Acquire/Release (Snapshot only
// reads it).
func (e *Engine) handle(from netid.NodeId, msg wire.Message) error {
	if _, ok := e.peers[from]; !ok {
		return &ProtocolError{Reason: "message from non-neighbour " + from.String()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch m := msg.(type) {
	case wire.Request:
		return e.handleRequest(from, m)
	case wire.Permission:
		e.handlePermission(from)
		return nil
	default:
		return &ProtocolError{Reason: "unrecognised message type"}
	}
}

// handleRequest must be called with e.mu held.
func (e *Engine) handleRequest(from netid.NodeId, m wire.Request) error {
	if m.Clock > e.st.clock {
		e.st.clock = m.Clock
	}

	hasPriority := e.st.critical != Idle &&
		(e.st.lastRequestTS < m.Clock ||
			(e.st.lastRequestTS == m.Clock && e.self < from))

	if hasPriority {
		e.st.deferred = append(e.st.deferred, from)
		e.log.Debug().Stringer("from", from).Msg("deferred request")
		return nil
	}

	pc := e.peers[from]
	if err := pc.send(wire.Permission{Authorizer: e.self}); err != nil {
		return errors.Wrapf(err, "ricart: send permission to %s", from)
	}
	e.log.Debug().Stringer("from", from).Msg("granted request immediately")
	return nil
}

// handlePermission must be called with e.mu held.
func (e *Engine) handlePermission(from netid.NodeId) {
	// Idempotent: a permission from a node we weren't awaiting is tolerated.
	delete(e.st.awaited, from)
	if e.st.critical == Requesting && len(e.st.awaited) == 0 {
		e.cond.Broadcast()
	}
}

// Snapshot returns a consistent read-only copy of the engine's state, for
// the debug/status HTTP surface.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	awaited := make([]netid.NodeId, 0, len(e.st.awaited))
	for id := range e.st.awaited {
		awaited = append(awaited, id)
	}
	deferred := make([]netid.NodeId, len(e.st.deferred))
	copy(deferred, e.st.deferred)

	return Snapshot{
		State:         e.st.critical,
		Clock:         e.st.clock,
		LastRequestTS: e.st.lastRequestTS,
		Awaited:       awaited,
		Deferred:      deferred,
	}
}
