// Package cs implements the node's simulated critical section: a seat
// reservation ledger. It demonstrates mutual exclusion end-to-end rather
// than leaving the critical section abstract, while adding no persistence
// of its own — the ledger is process-local memory, released at process
// exit.
package cs

import "time"

// Seat is one reservation slot.
type Seat struct {
	Number     int
	Available  bool
	Holder     string
	ReservedAt time.Time
}

// LedgerError reports an invalid seat operation.
type LedgerError struct {
	Code    string
	Message string
}

func (e *LedgerError) Error() string {
	return e.Message
}

var (
	errNoSuchSeat    = "NO_SUCH_SEAT"
	errSeatTaken     = "SEAT_TAKEN"
	errSeatAlreadyFree = "SEAT_ALREADY_FREE"
)

// SeatLedger holds a fixed number of seats for one node. Callers are
// expected to hold the Ricart–Agrawala critical section for the duration of
// any Reserve/Release pair; the ledger itself applies no locking of its
// own — that would defeat the point of demonstrating mutual exclusion
// through the engine rather than through a second, redundant lock.
type SeatLedger struct {
	nodeName string
	seats    map[int]*Seat
}

// NewSeatLedger builds a ledger of n seats, numbered 1..n and all initially
// available, recording nodeName as the owning node. Seat holder names are
// given per Reserve call, not taken from nodeName.
func NewSeatLedger(nodeName string, n int) *SeatLedger {
	seats := make(map[int]*Seat, n)
	for i := 1; i <= n; i++ {
		seats[i] = &Seat{Number: i, Available: true}
	}
	return &SeatLedger{nodeName: nodeName, seats: seats}
}

// Reserve claims seat number for holder. Must be called only while the
// caller holds the distributed critical section.
func (l *SeatLedger) Reserve(number int, holder string) error {
	seat, ok := l.seats[number]
	if !ok {
		return &LedgerError{Code: errNoSuchSeat, Message: "no such seat"}
	}
	if !seat.Available {
		return &LedgerError{Code: errSeatTaken, Message: "seat already taken"}
	}
	seat.Available = false
	seat.Holder = holder
	seat.ReservedAt = time.Now()
	return nil
}

// Release frees seat number. Must be called only while the caller holds
// the distributed critical section.
func (l *SeatLedger) Release(number int) error {
	seat, ok := l.seats[number]
	if !ok {
		return &LedgerError{Code: errNoSuchSeat, Message: "no such seat"}
	}
	if seat.Available {
		return &LedgerError{Code: errSeatAlreadyFree, Message: "seat already free"}
	}
	seat.Available = true
	seat.Holder = ""
	seat.ReservedAt = time.Time{}
	return nil
}

// Snapshot returns a defensive copy of every seat, for the debug surface.
func (l *SeatLedger) Snapshot() []Seat {
	out := make([]Seat, 0, len(l.seats))
	for _, s := range l.seats {
		out = append(out, *s)
	}
	return out
}

// Available counts free seats.
func (l *SeatLedger) Available() int {
	n := 0
	for _, s := range l.seats {
		if s.Available {
			n++
		}
	}
	return n
}
