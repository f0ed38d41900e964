package dht

import (
	"testing"
	"time"
)

func newTestResponder(t *testing.T) (*Responder, ID, *MessageFactory, *TokenManager) {
	t.Helper()
	local := RandomID()
	mf := NewMessageFactory("TS", local, "")
	routing := NewRoutingManager(local, mf)
	peers := NewPeerStore()
	tokens := NewTokenManager(NewFakeClock(time.Now()))
	return NewResponder(mf, routing, peers, tokens), local, mf, tokens
}

func TestResponder_HandlePing(t *testing.T) {
	r, _, mf, _ := newTestResponder(t)
	from := mustAddr(t, "1.1.1.1:1000")

	query := mf.PingQuery()
	query.T = "aa"
	query.From = from

	reply := r.HandleQuery(query, time.Now())
	if reply.Data == nil {
		t.Fatalf("expected a ping reply")
	}
	if reply.Addr != from {
		t.Fatalf("expected the reply addressed back to the querier")
	}
}

func TestResponder_HandleFindNode(t *testing.T) {
	r, local, mf, _ := newTestResponder(t)

	known := Node{ID: RandomID(), Addr: mustAddr(t, "2.2.2.2:2000")}
	r.routing.Insert(NewContact(known))

	query := mf.FindNodeQuery(RandomID())
	query.T = "bb"
	query.From = mustAddr(t, "3.3.3.3:3000")

	reply := r.HandleQuery(query, time.Now())
	if reply.Data == nil {
		t.Fatalf("expected a find_node reply")
	}
	_ = local
}

func TestResponder_HandleGetPeersReturnsStoredPeers(t *testing.T) {
	r, _, mf, _ := newTestResponder(t)
	infoHash := RandomID()
	stored := mustAddr(t, "4.4.4.4:4000")
	r.peers.Store(infoHash, stored, time.Now())

	query := mf.GetPeersQuery(infoHash)
	query.T = "cc"
	query.From = mustAddr(t, "5.5.5.5:5000")

	reply := r.HandleQuery(query, time.Now())
	if reply.Data == nil {
		t.Fatalf("expected a get_peers reply")
	}

	decoded, err := mf.Decode(reply.Data, reply.Addr)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	values, ok := decoded.Values()
	if !ok || len(values) != 1 {
		t.Fatalf("expected the reply to carry the stored peer, got %v", values)
	}
}

func TestResponder_HandleAnnouncePeerRequiresValidToken(t *testing.T) {
	r, _, mf, _ := newTestResponder(t)
	from := mustAddr(t, "6.6.6.6:6000")
	infoHash := RandomID()

	announce := mf.AnnouncePeerQuery(infoHash, 6881, "bogus-token")
	announce.T = "dd"
	announce.From = from

	reply := r.HandleQuery(announce, time.Now())
	decoded, err := mf.Decode(reply.Data, reply.Addr)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !decoded.IsError() {
		t.Fatalf("expected an error reply for an invalid token")
	}
	if got := r.peers.Get(infoHash, time.Now()); len(got) != 0 {
		t.Fatalf("expected no peer stored for an invalid announce")
	}
}

func TestResponder_HandleAnnouncePeerStoresOnValidToken(t *testing.T) {
	r, _, mf, tokens := newTestResponder(t)
	from := mustAddr(t, "7.7.7.7:7000")
	infoHash := RandomID()

	token := tokens.Generate(from.Addr())
	announce := mf.AnnouncePeerQuery(infoHash, 6881, token)
	announce.T = "ee"
	announce.From = from

	reply := r.HandleQuery(announce, time.Now())
	decoded, err := mf.Decode(reply.Data, reply.Addr)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if decoded.IsError() {
		t.Fatalf("expected a successful announce_peer reply")
	}

	got := r.peers.Get(infoHash, time.Now())
	if len(got) != 1 || got[0].Addr() != from.Addr() || got[0].Port() != 6881 {
		t.Fatalf("expected the announced peer to be stored, got %v", got)
	}
}

func TestResponder_UnknownMethodProducesNoReply(t *testing.T) {
	r, _, _, _ := newTestResponder(t)

	senderID := RandomID()
	query := &Message{T: "ff", Y: QueryType, Q: "unknown_method", A: map[string]any{"id": string(senderID[:])}, From: mustAddr(t, "8.8.8.8:8000")}
	reply := r.HandleQuery(query, time.Now())
	if reply.Data != nil {
		t.Fatalf("expected no reply datagram for an unknown query method, got %v", reply)
	}
}
