package dht

import (
	"testing"
	"time"
)

func newTestLookup(t *testing.T, callback LookupCallback) (*LookupObject, ID, *MessageFactory) {
	t.Helper()
	local := RandomID()
	target := RandomID()
	mf := NewMessageFactory("TS", local, "")
	lookup := NewLookupObject(1, LookupPeers, target, local, 6881, callback, mf)
	return lookup, local, mf
}

func TestLookupObject_StartSchedulesUpToAlpha(t *testing.T) {
	lookup, _, _ := newTestLookup(t, nil)

	var seeds []Node
	for i := 0; i < Alpha+3; i++ {
		seeds = append(seeds, Node{ID: RandomID(), Addr: mustAddr(t, "1.1.1.1:1111")})
	}

	queries := lookup.Start(time.Now(), seeds, nil)
	if len(queries) != Alpha {
		t.Fatalf("expected exactly Alpha=%d queries scheduled, got %d", Alpha, len(queries))
	}
}

func TestLookupObject_StartSkipsLocalID(t *testing.T) {
	lookup, local, _ := newTestLookup(t, nil)

	seeds := []Node{{ID: local, Addr: mustAddr(t, "2.2.2.2:2222")}}
	queries := lookup.Start(time.Now(), seeds, nil)
	if len(queries) != 0 {
		t.Fatalf("expected no queries when the only seed is the local id, got %d", len(queries))
	}
}

func TestLookupObject_StartFallsBackToBootstrapper(t *testing.T) {
	lookup, _, _ := newTestLookup(t, nil)

	fallback := &fakeBootstrapper{contacts: []Node{
		{ID: RandomID(), Addr: mustAddr(t, "3.3.3.3:3333")},
	}}

	queries := lookup.Start(time.Now(), nil, fallback)
	if len(queries) != 1 {
		t.Fatalf("expected a query against the bootstrapper's fallback contact, got %d", len(queries))
	}
}

func TestLookupObject_OnResponseReceivedAccumulatesPeersAndQueues(t *testing.T) {
	lookup, _, mf := newTestLookup(t, nil)

	seedNode := Node{ID: RandomID(), Addr: mustAddr(t, "4.4.4.4:4000")}
	lookup.Start(time.Now(), []Node{seedNode}, nil)

	peerAddr := mustAddr(t, "5.5.5.5:5000")
	_, ok := EncodeCompactPeerInfo(peerAddr)
	if !ok {
		t.Fatalf("failed to encode compact peer info")
	}

	discoveredNode := Node{ID: RandomID(), Addr: mustAddr(t, "6.6.6.6:6000")}
	resp := mf.GetPeersResponseValues("token-1", []Peer{peerAddr})
	resp.R["nodes"] = string(encodeNodes([]Node{discoveredNode}))

	queries, peers, inFlight, done := lookup.OnResponseReceived(resp, seedNode)

	if len(peers) != 1 || peers[0] != peerAddr {
		t.Fatalf("expected the response's peer to be surfaced, got %v", peers)
	}
	// The newly discovered node gets scheduled immediately: the seed's
	// reply left nothing in flight, and it is the only unqueried candidate.
	if inFlight != 1 {
		t.Fatalf("expected the discovered node to now be in flight, got %d", inFlight)
	}
	if len(queries) != 1 {
		t.Fatalf("expected the discovered node to be queried next, got %d queries", len(queries))
	}
	if done {
		t.Fatalf("lookup should not be done while an unqueried candidate remains")
	}
}

func TestLookupObject_ConvergesWhenNoCandidatesLeft(t *testing.T) {
	lookup, _, _ := newTestLookup(t, nil)

	seedNode := Node{ID: RandomID(), Addr: mustAddr(t, "7.7.7.7:7000")}
	lookup.Start(time.Now(), []Node{seedNode}, nil)

	resp := &Message{Y: ResponseType, R: map[string]any{"id": string(seedNode.ID[:])}}
	_, _, inFlight, done := lookup.OnResponseReceived(resp, seedNode)

	if inFlight != 0 {
		t.Fatalf("expected zero in-flight after the only candidate responded, got %d", inFlight)
	}
	if !done {
		t.Fatalf("expected the lookup to converge once every known candidate has responded")
	}
}

func TestLookupObject_OnTimeoutReschedulesOrConverges(t *testing.T) {
	lookup, _, _ := newTestLookup(t, nil)

	seedNode := Node{ID: RandomID(), Addr: mustAddr(t, "8.8.8.8:8000")}
	lookup.Start(time.Now(), []Node{seedNode}, nil)

	_, inFlight, done := lookup.OnTimeout(seedNode)
	if inFlight != 0 {
		t.Fatalf("expected zero in-flight after the only candidate timed out, got %d", inFlight)
	}
	if !done {
		t.Fatalf("expected the lookup to converge once its only candidate times out")
	}
}

func TestLookupObject_AnnounceOnlyQueriesTokenHolders(t *testing.T) {
	lookup, _, mf := newTestLookup(t, nil)

	withToken := Node{ID: RandomID(), Addr: mustAddr(t, "9.9.9.9:9000")}
	withoutToken := Node{ID: RandomID(), Addr: mustAddr(t, "9.9.9.9:9001")}
	lookup.Start(time.Now(), []Node{withToken, withoutToken}, nil)

	respWith := mf.GetPeersResponseNodes("tok", nil)
	respWith.R["id"] = string(withToken.ID[:])
	lookup.OnResponseReceived(respWith, withToken)

	respWithout := &Message{Y: ResponseType, R: map[string]any{"id": string(withoutToken.ID[:])}}
	lookup.OnResponseReceived(respWithout, withoutToken)

	queries, announceToMyself := lookup.Announce()
	if len(queries) != 1 {
		t.Fatalf("expected exactly one announce query (the token holder), got %d", len(queries))
	}
	if queries[0].Dest.Addr != withToken.Addr {
		t.Fatalf("expected the announce query to target the token holder")
	}
	if announceToMyself {
		t.Fatalf("expected announceToMyself to be false when some candidate responded")
	}
}

func TestLookupObject_TimedOut(t *testing.T) {
	lookup, _, _ := newTestLookup(t, nil)
	now := time.Now()
	lookup.Start(now, nil, nil)

	if lookup.TimedOut(now.Add(LookupTimeout - time.Second)) {
		t.Fatalf("expected lookup to not be timed out just before its deadline")
	}
	if !lookup.TimedOut(now.Add(LookupTimeout + time.Second)) {
		t.Fatalf("expected lookup to be timed out past its deadline")
	}
}

type fakeBootstrapper struct {
	contacts []Node
	seen     []Node
}

func (f *fakeBootstrapper) FallbackContacts() []Node { return f.contacts }
func (f *fakeBootstrapper) Seen(n Node)              { f.seen = append(f.seen, n) }
func (f *fakeBootstrapper) SaveToFile() error         { return nil }
