package dht

import "time"

// K is Kademlia's replication parameter: the maximum number of contacts a
// single bucket holds and the target size of a FindClosestK result.
const K = 8

// bucket holds up to K contacts ordered least-recently-seen first, so the
// head is always the eviction candidate (BEP-5 LRU replacement policy).
//
// The Controller calls into the RoutingManager only from the reactor
// thread (spec.md §5), so bucket needs no internal locking.
type bucket struct {
	contacts    []*Contact
	lastChanged time.Time
}

func newBucket() *bucket {
	return &bucket{contacts: make([]*Contact, 0, K), lastChanged: time.Now()}
}

func (b *bucket) Len() int { return len(b.contacts) }

func (b *bucket) IsFull() bool { return len(b.contacts) >= K }

func (b *bucket) Get(id ID) *Contact {
	for _, c := range b.contacts {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// Insert moves an existing contact to the tail (most-recently-seen) or
// appends a new one if the bucket isn't full. Returns false when the
// bucket is full and id is unknown — the caller must decide whether to
// evict the LRU entry.
func (b *bucket) Insert(contact *Contact) bool {
	for i, c := range b.contacts {
		if c.ID() == contact.ID() {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.contacts = append(b.contacts, contact)
			b.lastChanged = time.Now()
			return true
		}
	}

	if len(b.contacts) < K {
		b.contacts = append(b.contacts, contact)
		b.lastChanged = time.Now()
		return true
	}

	return false
}

func (b *bucket) Remove(id ID) bool {
	for i, c := range b.contacts {
		if c.ID() == id {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.lastChanged = time.Now()
			return true
		}
	}
	return false
}

// LRU returns the least-recently-seen contact (the head), or nil if empty.
func (b *bucket) LRU() *Contact {
	if len(b.contacts) == 0 {
		return nil
	}
	return b.contacts[0]
}

func (b *bucket) NeedsRefresh() bool {
	return time.Since(b.lastChanged) > staleBucketWindow
}

func (b *bucket) All() []*Contact {
	out := make([]*Contact, len(b.contacts))
	copy(out, b.contacts)
	return out
}
