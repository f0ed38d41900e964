package dht

import (
	"crypto/rand"
	"encoding/hex"
	"net/netip"
	"time"
)

// DefaultQueryTimeout is the deadline a PendingQuery gets when it doesn't
// specify its own, per spec.md §4.2.
const DefaultQueryTimeout = 2 * time.Second

// Datagram is an outbound wire message paired with its destination — the
// unit the Controller returns to the reactor from every entry point.
type Datagram struct {
	Addr netip.AddrPort
	Data []byte
}

// PendingQuery is a not-yet-dispatched query: a collaborator (routing
// manager, lookup object, or the Controller itself) builds one whenever
// it wants a query sent, and hands it to the Querier for transaction-id
// assignment and serialization.
type PendingQuery struct {
	Msg     *Message
	Dest    Node
	Timeout time.Duration // zero means DefaultQueryTimeout

	// Lookup binds this query to the iterative lookup that issued it, so
	// the Controller knows which LookupObject to feed the eventual
	// response/error/timeout to. Nil for maintenance/responder-driven
	// queries (ping, etc.).
	Lookup *LookupObject

	// Experimental is an opaque hook object the experimental manager may
	// attach to correlate its own observations with this query's outcome.
	// The Controller never interprets it.
	Experimental any
}

// OutstandingQuery is a dispatched-but-not-yet-resolved query. At most one
// OutstandingQuery exists for a given (destination, transaction id) pair
// at any instant (spec.md §3).
type OutstandingQuery struct {
	TxID         string
	Dest         Node
	SentTs       time.Time
	Deadline     time.Time
	Lookup       *LookupObject
	Experimental any
	query        *Message
}

// Querier tracks in-flight queries, allocates transaction ids, and
// correlates inbound responses/errors back to the query that caused them.
//
// Like every other Controller collaborator, a Querier is only ever
// touched from the reactor thread, so it needs no locking.
type Querier struct {
	msgFactory *MessageFactory
	clock      Clock

	// outstanding is keyed by (dest addr, tx id) so the same tx id can be
	// reused concurrently against different destinations.
	outstanding map[string]*OutstandingQuery
}

// NewQuerier builds a Querier that encodes queries with msgFactory and
// reads the current time from clock.
func NewQuerier(msgFactory *MessageFactory, clock Clock) *Querier {
	return &Querier{
		msgFactory:  msgFactory,
		clock:       clock,
		outstanding: make(map[string]*OutstandingQuery),
	}
}

func correlationKey(addr netip.AddrPort, txID string) string {
	return addr.String() + "\x00" + txID
}

// Register assigns a fresh transaction id to each pending query, encodes
// it to a datagram, and tracks it as outstanding. It returns the earliest
// deadline across all outstanding queries (including ones registered in
// earlier calls), capped at now+1s, and the batch of datagrams to
// transmit, in the order the pending queries were given.
func (q *Querier) Register(pending []PendingQuery) (time.Time, []Datagram) {
	now := q.clock.Now()
	datagrams := make([]Datagram, 0, len(pending))

	for _, p := range pending {
		txID := q.allocateTxID(p.Dest.Addr)
		p.Msg.T = txID

		encoded, err := q.msgFactory.Encode(p.Msg)
		if err != nil {
			// An unencodable query is a programmer error in a
			// collaborator, not a wire-level failure; drop it rather
			// than panic the reactor.
			continue
		}

		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultQueryTimeout
		}

		oq := &OutstandingQuery{
			TxID:         txID,
			Dest:         p.Dest,
			SentTs:       now,
			Deadline:     now.Add(timeout),
			Lookup:       p.Lookup,
			Experimental: p.Experimental,
			query:        p.Msg,
		}
		q.outstanding[correlationKey(p.Dest.Addr, txID)] = oq

		datagrams = append(datagrams, Datagram{Addr: p.Dest.Addr, Data: encoded})
	}

	return q.earliestDeadline(now), datagrams
}

// Correlate matches an inbound response/error to its OutstandingQuery by
// (source address, transaction id), removing it so it can never be
// correlated or timed out twice.
func (q *Querier) Correlate(msg *Message) (*OutstandingQuery, bool) {
	key := correlationKey(msg.From, msg.T)
	oq, ok := q.outstanding[key]
	if !ok {
		return nil, false
	}
	delete(q.outstanding, key)
	return oq, true
}

// Expire removes and returns every OutstandingQuery whose deadline has
// passed, plus the next time to check again: the earliest remaining
// deadline or now+1s, whichever is sooner (now+1s if nothing remains
// outstanding).
func (q *Querier) Expire(now time.Time) (time.Time, []*OutstandingQuery) {
	var expired []*OutstandingQuery

	for key, oq := range q.outstanding {
		if !now.Before(oq.Deadline) {
			expired = append(expired, oq)
			delete(q.outstanding, key)
		}
	}

	return q.earliestDeadline(now), expired
}

func (q *Querier) earliestDeadline(now time.Time) time.Time {
	next := now.Add(time.Second)
	for _, oq := range q.outstanding {
		if oq.Deadline.Before(next) {
			next = oq.Deadline
		}
	}
	return next
}

// allocateTxID returns a transaction id guaranteed unique among queries
// currently outstanding to addr.
func (q *Querier) allocateTxID(addr netip.AddrPort) string {
	for {
		var b [4]byte
		_, _ = rand.Read(b[:])
		txID := hex.EncodeToString(b[:])

		if _, exists := q.outstanding[correlationKey(addr, txID)]; !exists {
			return txID
		}
	}
}
