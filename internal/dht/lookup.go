package dht

import (
	"container/heap"
	"sort"
	"time"
)

// Alpha is Kademlia's lookup concurrency factor: the number of
// unanswered queries a lookup keeps in flight at once.
const Alpha = 3

// LookupTimeout is the age past which LookupObject.TimedOut reports a
// lookup as overdue, independent of any one query's timeout. The
// Controller does not consult it; a lookup ends only when it converges.
const LookupTimeout = 30 * time.Second

// LookupKind distinguishes a get_peers lookup (which accumulates peers
// and ends in an announce phase) from a plain find_node lookup (which
// only converges on nodes, used for routing-table maintenance).
type LookupKind int

const (
	LookupPeers LookupKind = iota
	LookupNodes
)

// lookupCandidate is one node known to a lookup: a contact plus whether
// it has been queried yet, and the get_peers token it handed back (if
// any), needed to announce against it later.
type lookupCandidate struct {
	node    Node
	queried bool
	token   string
}

// LookupCallback is invoked zero or more times with non-empty peer
// batches as they're discovered, and exactly once with peers==nil to
// signal completion (normal or error-terminated), per spec.md §4.1.2.
type LookupCallback func(lookupID any, peers []Peer, source *Node)

// LookupObject is the state machine of one iterative Kademlia lookup, per
// spec.md §3/§6. It holds no goroutines or channels: the Controller drives
// it synchronously by feeding it responses, errors, and timeouts, exactly
// the way it drives every other collaborator.
//
// Grounded on the teacher's internal/dht/lookup.go: same candidate
// min-heap-by-distance, same Alpha/K convergence policy, but with the
// teacher's queryWorker/responseHandler goroutines and channels collapsed
// into plain method calls, per spec.md §5.
type LookupObject struct {
	id         any // caller-supplied opaque lookup_id
	kind       LookupKind
	target     ID // info_hash or find_node target
	localID    ID
	btPort     int
	callback   LookupCallback
	msgFactory *MessageFactory

	candidates  *candidateHeap
	contacted   map[ID]bool
	inFlight    map[ID]*lookupCandidate
	respondedOf []lookupCandidate // nodes that returned a valid response, for the announce phase
	peers       []Peer

	startedAt time.Time
	done      bool
}

// NewLookupObject builds a not-yet-started lookup for target. lookupID is
// opaque to this package; it is only threaded back through to the
// Controller's callback. btPort is only meaningful for LookupPeers.
func NewLookupObject(lookupID any, kind LookupKind, target, localID ID, btPort int, callback LookupCallback, msgFactory *MessageFactory) *LookupObject {
	return &LookupObject{
		id:         lookupID,
		kind:       kind,
		target:     target,
		localID:    localID,
		btPort:     btPort,
		callback:   callback,
		msgFactory: msgFactory,
		candidates: newCandidateHeap(target),
		contacted:  make(map[ID]bool),
		inFlight:   make(map[ID]*lookupCandidate),
	}
}

func (l *LookupObject) LookupID() any { return l.id }

// Callback returns the user callback bound at construction, or nil for a
// maintenance lookup that has none.
func (l *LookupObject) Callback() LookupCallback { return l.callback }

// InfoHash exposes the lookup's target for the Controller's cache logic.
func (l *LookupObject) InfoHash() ID { return l.target }

// Start seeds the candidate set with seedRNodes (the routing table's
// closest-known nodes at the lookup's bucket distance) and, when that
// seed is empty, falls back to bootstrapper. It returns the first batch
// of queries to register — up to Alpha of them.
func (l *LookupObject) Start(now time.Time, seedRNodes []Node, bootstrapper Bootstrapper) []PendingQuery {
	l.startedAt = now

	seeds := seedRNodes
	if len(seeds) == 0 && bootstrapper != nil {
		seeds = bootstrapper.FallbackContacts()
	}

	for _, n := range seeds {
		l.addCandidate(n)
	}

	return l.scheduleQueries()
}

func (l *LookupObject) addCandidate(n Node) {
	if n.ID == l.localID || l.contacted[n.ID] {
		return
	}
	heap.Push(l.candidates, &lookupCandidate{node: n})
	// Keep items fully sorted closest-first (a sorted slice is still a
	// valid min-heap) and drop the farthest beyond 2K.
	sort.Slice(l.candidates.items, l.candidates.Less)
	if l.candidates.Len() > K*2 {
		l.candidates.items = l.candidates.items[:K*2]
	}
}

// scheduleQueries issues queries to unqueried candidates until Alpha are
// in flight, closest-first.
func (l *LookupObject) scheduleQueries() []PendingQuery {
	var queries []PendingQuery

	for i := 0; i < l.candidates.Len() && len(l.inFlight) < Alpha; i++ {
		cand := l.candidates.items[i]
		if cand.queried {
			continue
		}
		cand.queried = true
		l.contacted[cand.node.ID] = true
		l.inFlight[cand.node.ID] = cand

		queries = append(queries, PendingQuery{
			Msg:    l.queryFor(cand.node),
			Dest:   cand.node,
			Lookup: l,
		})
	}

	return queries
}

func (l *LookupObject) queryFor(dest Node) *Message {
	switch l.kind {
	case LookupPeers:
		return l.msgFactory.GetPeersQuery(l.target)
	default:
		return l.msgFactory.FindNodeQuery(l.target)
	}
}

// OnResponseReceived feeds a matched response from src into the state
// machine. It returns the new queries to register, any peers this
// response carried, the current in-flight count, and whether the lookup
// is now done.
func (l *LookupObject) OnResponseReceived(msg *Message, src Node) ([]PendingQuery, []Peer, int, bool) {
	cand, ok := l.inFlight[src.ID]
	if !ok {
		return nil, nil, len(l.inFlight), l.done
	}
	delete(l.inFlight, src.ID)

	if token, ok := msg.Token(); ok {
		cand.token = token
	}
	l.respondedOf = append(l.respondedOf, *cand)

	var peers []Peer
	if values, ok := msg.Values(); ok {
		for _, v := range values {
			if p, ok := DecodeCompactPeerInfo([]byte(v)); ok {
				peers = append(peers, p)
				l.peers = append(l.peers, p)
			}
		}
	}

	if nodesData, ok := msg.Nodes(); ok {
		for _, n := range DecodeCompactNodeInfoList(nodesData) {
			l.addCandidate(n)
		}
	}

	queries := l.scheduleQueries()
	l.done = l.done || l.isConverged()
	return queries, peers, len(l.inFlight), l.done
}

// OnErrorReceived feeds a matched KRPC error reply. Error replies never
// carry peers or nodes, so only scheduling/completion state can change.
func (l *LookupObject) OnErrorReceived(msg *Message, addr Peer) ([]PendingQuery, int, bool) {
	for id, cand := range l.inFlight {
		if cand.node.Addr == addr {
			delete(l.inFlight, id)
			break
		}
	}

	queries := l.scheduleQueries()
	l.done = l.done || l.isConverged()
	return queries, len(l.inFlight), l.done
}

// OnTimeout feeds an expired query's destination.
func (l *LookupObject) OnTimeout(dst Node) ([]PendingQuery, int, bool) {
	delete(l.inFlight, dst.ID)

	queries := l.scheduleQueries()
	l.done = l.done || l.isConverged()
	return queries, len(l.inFlight), l.done
}

// isConverged reports the Kademlia termination criterion: nothing in
// flight, and the K closest known candidates have all been queried.
func (l *LookupObject) isConverged() bool {
	if len(l.inFlight) > 0 {
		return false
	}

	limit := K
	if l.candidates.Len() < limit {
		limit = l.candidates.Len()
	}

	queried := 0
	for i := 0; i < limit; i++ {
		if l.candidates.items[i].queried {
			queried++
		}
	}
	return queried >= limit
}

// TimedOut reports whether this lookup has exceeded LookupTimeout since
// it started, independent of per-query timeouts. Nothing in this package
// calls it; the Controller never cancels a lookup on age.
func (l *LookupObject) TimedOut(now time.Time) bool {
	return !l.startedAt.IsZero() && now.Sub(l.startedAt) > LookupTimeout
}

// Peers returns every peer value accumulated across the lookup's
// lifetime so far.
func (l *LookupObject) Peers() []Peer { return l.peers }

// Announce builds the announce_peer batch per spec.md §4.1.6: queries to
// the closest nodes that actually responded with a token, carrying the
// local BitTorrent port. announceToMyself mirrors the original
// implementation's self-announce flag; spec.md §9 leaves it permanently
// disabled, so the Controller never acts on it — it is only returned here
// for parity with the LookupObject contract.
func (l *LookupObject) Announce() ([]PendingQuery, bool) {
	if l.kind != LookupPeers {
		return nil, false
	}

	var queries []PendingQuery
	for _, cand := range l.respondedOf {
		if cand.token == "" {
			continue
		}
		queries = append(queries, PendingQuery{
			Msg:  l.msgFactory.AnnouncePeerQuery(l.target, l.btPort, cand.token),
			Dest: cand.node,
		})
	}

	announceToMyself := len(l.respondedOf) == 0
	return queries, announceToMyself
}

// candidateHeap is a min-heap of lookup candidates ordered by distance to
// target, mirroring the teacher's nodeHeap.
type candidateHeap struct {
	target ID
	items  []*lookupCandidate
}

func newCandidateHeap(target ID) *candidateHeap {
	h := &candidateHeap{target: target}
	heap.Init(h)
	return h
}

func (h *candidateHeap) Len() int { return len(h.items) }

func (h *candidateHeap) Less(i, j int) bool {
	return CompareDistance(h.target, h.items[i].node.ID, h.items[j].node.ID) < 0
}

func (h *candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *candidateHeap) Push(x any) { h.items = append(h.items, x.(*lookupCandidate)) }

func (h *candidateHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
