package dht

import (
	"net/netip"
	"sort"
	"time"
)

// numBuckets is the number of routing-table buckets: one per possible
// prefix length of a 160-bit id.
const numBuckets = IDLen * 8

// maintenanceInterval paces routing-table maintenance sweeps.
const maintenanceInterval = 30 * time.Second

// maintenancePingBudget caps how many questionable contacts get pinged in
// a single maintenance sweep, so a routing table full of stale entries
// doesn't burst a flood of pings.
const maintenancePingBudget = 4

// MaintenanceTarget is returned by RoutingManager.DoMaintenance when a
// bucket needs refreshing: a lookup should be started for Target, seeded
// with Seed.
type MaintenanceTarget struct {
	Target ID
	Seed   []Node
}

// RoutingManager is the routing-table collaborator described in
// spec.md §4.3: a 160-bucket Kademlia table plus the maintenance policy
// that keeps it populated with live contacts.
//
// Grounded on the teacher's internal/dht routing_table.go/bucket.go/
// contact.go, folded from the teacher's background-goroutine
// bootstrap/refresh/ping loops (internal/dht/dht.go) into a single
// do_maintenance-style synchronous sweep the Controller drives.
type RoutingManager struct {
	localID    ID
	msgFactory *MessageFactory
	buckets    [numBuckets]*bucket

	// refreshCursor rotates which stale bucket gets refreshed first each
	// sweep, so no single bucket starves under a busy table.
	refreshCursor int
}

// NewRoutingManager builds an empty routing table for localID.
func NewRoutingManager(localID ID, msgFactory *MessageFactory) *RoutingManager {
	rm := &RoutingManager{localID: localID, msgFactory: msgFactory}
	for i := range rm.buckets {
		rm.buckets[i] = newBucket()
	}
	return rm
}

// Insert adds or refreshes contact in its bucket. If the bucket is full
// and its LRU entry is bad, the LRU is evicted and replaced; if the LRU
// is merely questionable, the new contact is rejected until maintenance
// has a chance to ping the LRU and confirm it's actually gone.
func (rm *RoutingManager) Insert(contact *Contact) bool {
	if contact.ID() == rm.localID {
		return false
	}

	b := rm.buckets[BucketIndex(rm.localID, contact.ID())]
	if b.Insert(contact) {
		return true
	}

	lru := b.LRU()
	if lru != nil && lru.IsBad() {
		b.Remove(lru.ID())
		return b.Insert(contact)
	}
	return false
}

func (rm *RoutingManager) Remove(id ID) bool {
	return rm.buckets[BucketIndex(rm.localID, id)].Remove(id)
}

func (rm *RoutingManager) Get(id ID) *Contact {
	return rm.buckets[BucketIndex(rm.localID, id)].Get(id)
}

// FindClosestK returns up to k contacts closest to target, expanding
// outward from target's own bucket into neighboring buckets as needed.
func (rm *RoutingManager) FindClosestK(target ID, k int) []*Contact {
	targetBucket := BucketIndex(rm.localID, target)

	contacts := append([]*Contact{}, rm.buckets[targetBucket].All()...)
	for i := 1; len(contacts) < k && (targetBucket-i >= 0 || targetBucket+i < numBuckets); i++ {
		if targetBucket-i >= 0 {
			contacts = append(contacts, rm.buckets[targetBucket-i].All()...)
		}
		if targetBucket+i < numBuckets {
			contacts = append(contacts, rm.buckets[targetBucket+i].All()...)
		}
	}

	sort.Slice(contacts, func(i, j int) bool {
		return CompareDistance(target, contacts[i].ID(), contacts[j].ID()) < 0
	})

	if len(contacts) > k {
		contacts = contacts[:k]
	}
	return contacts
}

// GetClosestRNodes implements the collaborator contract of spec.md §4.3:
// the nodes closest to the bucket at logDistance from the local id.
//
// count==0 returns the full bucket at that log-distance without
// expanding into neighbors — this is what spec.md §4.1.2 uses to seed a
// lookup with "the closest known nodes... at the bucket distance", and
// matches the "#TODO: get the full bucket" shortcut the original
// implementation took for the same call (original_source/core/
// controller.py, get_peers). count>0 expands outward the way
// FindClosestK does, using a synthetic target inside that bucket's range
// since a log-distance alone doesn't pin down a direction.
func (rm *RoutingManager) GetClosestRNodes(logDistance, count int, includeMyself bool) []Node {
	idx := logDistance
	if logDistance < 0 {
		idx = 0
	}
	if idx >= numBuckets {
		idx = numBuckets - 1
	}

	var contacts []*Contact
	if count <= 0 {
		contacts = rm.buckets[idx].All()
	} else {
		target := RandomIDInBucket(rm.localID, idx)
		contacts = rm.FindClosestK(target, count)
	}

	nodes := make([]Node, 0, len(contacts)+1)
	for _, c := range contacts {
		nodes = append(nodes, c.Node)
	}
	if includeMyself {
		nodes = append(nodes, Node{ID: rm.localID})
	}
	return nodes
}

// OnQueryReceived registers the presence of an inbound query's source.
// New, not-yet-known contacts are inserted directly as good (they just
// proved reachability by querying us); it never needs to emit a
// maintenance query of its own.
func (rm *RoutingManager) OnQueryReceived(src Node) []PendingQuery {
	contact := rm.Get(src.ID)
	if contact == nil {
		contact = NewContact(src)
		contact.MarkSeen()
		rm.Insert(contact)
		return nil
	}
	contact.MarkSeen()
	return nil
}

// OnResponseReceived records src as good and, for each node discovered in
// its response, inserts it as a fresh (questionable) candidate if room
// allows. rtt is accepted for the contract (spec.md §4.1.4 invariant 5)
// even though this routing table doesn't currently weight by latency.
func (rm *RoutingManager) OnResponseReceived(src Node, rtt time.Duration, discovered []Node) []PendingQuery {
	contact := rm.Get(src.ID)
	if contact == nil {
		contact = NewContact(src)
		rm.Insert(contact)
	}
	contact.MarkSeen()

	for _, n := range discovered {
		if n.ID == rm.localID || rm.Get(n.ID) != nil {
			continue
		}
		rm.Insert(NewContact(n))
	}

	return nil
}

// OnErrorReceived downgrades the contact at addr, if any is known.
func (rm *RoutingManager) OnErrorReceived(addr netip.AddrPort) []PendingQuery {
	if c := rm.findByAddr(addr); c != nil {
		c.MarkFailed()
	}
	return nil
}

// OnTimeout downgrades dst, evicting it once it crosses into StateBad.
func (rm *RoutingManager) OnTimeout(dst Node) []PendingQuery {
	contact := rm.Get(dst.ID)
	if contact == nil {
		return nil
	}
	contact.MarkFailed()
	if contact.IsBad() {
		rm.Remove(dst.ID)
	}
	return nil
}

// DoMaintenance pings a bounded number of questionable contacts and, if a
// bucket has gone stale, returns a MaintenanceTarget for the Controller to
// seed a refresh lookup with. It returns the delay until the next sweep.
func (rm *RoutingManager) DoMaintenance() (time.Duration, []PendingQuery, *MaintenanceTarget) {
	var queries []PendingQuery

	for _, b := range rm.buckets {
		if len(queries) >= maintenancePingBudget {
			break
		}
		for _, c := range b.All() {
			if len(queries) >= maintenancePingBudget {
				break
			}
			if c.IsQuestionable() {
				c.MarkQueried()
				queries = append(queries, PendingQuery{
					Msg:  rm.msgFactory.PingQuery(),
					Dest: c.Node,
				})
			}
		}
	}

	target := rm.nextStaleBucket()

	return maintenanceInterval, queries, target
}

// nextStaleBucket rotates through buckets starting at refreshCursor,
// returning the first non-empty one that needs a refresh.
func (rm *RoutingManager) nextStaleBucket() *MaintenanceTarget {
	for i := 0; i < numBuckets; i++ {
		idx := (rm.refreshCursor + i) % numBuckets
		b := rm.buckets[idx]
		if b.Len() > 0 && b.NeedsRefresh() {
			rm.refreshCursor = (idx + 1) % numBuckets
			target := RandomIDInBucket(rm.localID, idx)
			return &MaintenanceTarget{Target: target, Seed: rm.GetClosestRNodes(idx, 0, false)}
		}
	}
	return nil
}

func (rm *RoutingManager) findByAddr(addr netip.AddrPort) *Contact {
	for _, b := range rm.buckets {
		for _, c := range b.All() {
			if c.Node.Addr == addr {
				return c
			}
		}
	}
	return nil
}

// Size returns the total number of contacts across all buckets.
func (rm *RoutingManager) Size() int {
	n := 0
	for _, b := range rm.buckets {
		n += b.Len()
	}
	return n
}

// Stats summarizes routing-table health, grounded on the teacher's
// RoutingTableStats (internal/dht/routing_table.go).
type Stats struct {
	TotalContacts        int
	GoodContacts         int
	QuestionableContacts int
	BadContacts          int
	FilledBuckets        int
	EmptyBuckets         int
}

func (rm *RoutingManager) Stats() Stats {
	var s Stats

	for _, b := range rm.buckets {
		contacts := b.All()
		if len(contacts) == 0 {
			s.EmptyBuckets++
			continue
		}

		s.FilledBuckets++
		s.TotalContacts += len(contacts)

		for _, c := range contacts {
			switch {
			case c.IsGood():
				s.GoodContacts++
			case c.IsQuestionable():
				s.QuestionableContacts++
			case c.IsBad():
				s.BadContacts++
			}
		}
	}

	return s
}
