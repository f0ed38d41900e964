package dht

import (
	"net/netip"
	"testing"
)

func mustAddr(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("parse addr: %v", err)
	}
	return ap
}

func TestRoutingManager_InsertAndGet(t *testing.T) {
	local := RandomID()
	rm := NewRoutingManager(local, NewMessageFactory("TS", local, ""))

	remote := RandomID()
	addr := mustAddr(t, "1.1.1.1:1111")
	contact := NewContact(Node{ID: remote, Addr: addr})

	if !rm.Insert(contact) {
		t.Fatalf("expected insert to succeed into an empty bucket")
	}
	if got := rm.Get(remote); got == nil || got.Node.Addr != addr {
		t.Fatalf("expected to find the inserted contact, got %+v", got)
	}
	if rm.Size() != 1 {
		t.Fatalf("expected size 1, got %d", rm.Size())
	}
}

func TestRoutingManager_RejectsSelf(t *testing.T) {
	local := RandomID()
	rm := NewRoutingManager(local, NewMessageFactory("TS", local, ""))

	contact := NewContact(Node{ID: local, Addr: mustAddr(t, "2.2.2.2:2222")})
	if rm.Insert(contact) {
		t.Fatalf("expected insert of local id to be rejected")
	}
	if rm.Size() != 0 {
		t.Fatalf("expected routing table to remain empty")
	}
}

func TestRoutingManager_BucketFullRejectsUnlessLRUBad(t *testing.T) {
	local := RandomID()
	rm := NewRoutingManager(local, NewMessageFactory("TS", local, ""))

	// Fill the furthest bucket (idx numBuckets-1: ids that differ from
	// local in the top bit) with K entries that all land in that bucket.
	idx := numBuckets - 1
	var contacts []*Contact
	for i := 0; i < K; i++ {
		id := RandomIDInBucket(local, idx)
		c := NewContact(Node{ID: id, Addr: mustAddr(t, "3.3.3.3:3000")})
		contacts = append(contacts, c)
		if !rm.Insert(c) {
			t.Fatalf("expected bucket fill insert %d to succeed", i)
		}
	}

	overflow := NewContact(Node{ID: RandomIDInBucket(local, idx), Addr: mustAddr(t, "3.3.3.3:3001")})
	if rm.Insert(overflow) {
		t.Fatalf("expected insert into a full bucket of non-bad contacts to fail")
	}

	// Force the LRU (first inserted) bad, then the overflow should
	// replace it.
	lru := contacts[0]
	for i := 0; i < failureThreshold; i++ {
		lru.MarkFailed()
	}
	if !rm.Insert(overflow) {
		t.Fatalf("expected insert to succeed once the LRU is bad")
	}
	if rm.Get(lru.ID()) != nil {
		t.Fatalf("expected the bad LRU to have been evicted")
	}
}

func TestRoutingManager_GetClosestRNodesFullBucket(t *testing.T) {
	local := RandomID()
	rm := NewRoutingManager(local, NewMessageFactory("TS", local, ""))

	target := RandomID()
	logDistance := LogDistance(target, local)

	seedID := RandomIDInBucket(local, logDistance)
	seedAddr := mustAddr(t, "4.4.4.4:4000")
	rm.Insert(NewContact(Node{ID: seedID, Addr: seedAddr}))

	nodes := rm.GetClosestRNodes(logDistance, 0, true)

	foundSeed, foundSelf := false, false
	for _, n := range nodes {
		if n.ID == seedID {
			foundSeed = true
		}
		if n.ID == local {
			foundSelf = true
		}
	}
	if !foundSeed {
		t.Fatalf("expected seed node in the full-bucket result, got %+v", nodes)
	}
	if !foundSelf {
		t.Fatalf("expected local node appended when includeMyself is set")
	}
}

func TestRoutingManager_OnTimeoutEvictsBadContact(t *testing.T) {
	local := RandomID()
	rm := NewRoutingManager(local, NewMessageFactory("TS", local, ""))

	remote := Node{ID: RandomID(), Addr: mustAddr(t, "5.5.5.5:5000")}
	rm.Insert(NewContact(remote))

	for i := 0; i < failureThreshold; i++ {
		rm.OnTimeout(remote)
	}

	if rm.Get(remote.ID) != nil {
		t.Fatalf("expected contact to be evicted after crossing into bad state")
	}
}

func TestRoutingManager_OnResponseReceivedInsertsDiscovered(t *testing.T) {
	local := RandomID()
	rm := NewRoutingManager(local, NewMessageFactory("TS", local, ""))

	src := Node{ID: RandomID(), Addr: mustAddr(t, "6.6.6.6:6000")}
	discovered := Node{ID: RandomID(), Addr: mustAddr(t, "7.7.7.7:7000")}

	rm.OnResponseReceived(src, 0, []Node{discovered})

	if rm.Get(src.ID) == nil {
		t.Fatalf("expected the responding src to be tracked")
	}
	if rm.Get(discovered.ID) == nil {
		t.Fatalf("expected the discovered node to be tracked")
	}
}

func TestRoutingManager_OnResponseReceivedSkipsLocalID(t *testing.T) {
	local := RandomID()
	rm := NewRoutingManager(local, NewMessageFactory("TS", local, ""))

	src := Node{ID: RandomID(), Addr: mustAddr(t, "8.8.8.8:8000")}
	rm.OnResponseReceived(src, 0, []Node{{ID: local, Addr: mustAddr(t, "8.8.8.8:8001")}})

	if rm.Get(local) != nil {
		t.Fatalf("expected local id to never be inserted via discovery")
	}
}
