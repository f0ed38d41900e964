package dht

import (
	"testing"
	"time"
)

func TestPeerStore_StoreAndGet(t *testing.T) {
	s := NewPeerStore()
	now := time.Now()
	infoHash := RandomID()
	p1 := mustAddr(t, "1.1.1.1:1000")
	p2 := mustAddr(t, "2.2.2.2:2000")

	s.Store(infoHash, p1, now)
	s.Store(infoHash, p2, now)

	got := s.Get(infoHash, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 stored peers, got %d", len(got))
	}
}

func TestPeerStore_GetUnknownInfoHash(t *testing.T) {
	s := NewPeerStore()
	if got := s.Get(RandomID(), time.Now()); got != nil {
		t.Fatalf("expected nil for an unknown info-hash, got %v", got)
	}
}

func TestPeerStore_CleanupDropsExpiredPeers(t *testing.T) {
	s := NewPeerStore()
	now := time.Now()
	infoHash := RandomID()
	p1 := mustAddr(t, "3.3.3.3:3000")

	s.Store(infoHash, p1, now)
	s.Cleanup(now.Add(PeerExpiration + time.Second))

	if got := s.Get(infoHash, now); got != nil {
		t.Fatalf("expected the expired peer's torrent to be gone, got %v", got)
	}
}

func TestPeerStore_CleanupKeepsFreshPeers(t *testing.T) {
	s := NewPeerStore()
	now := time.Now()
	infoHash := RandomID()
	p1 := mustAddr(t, "4.4.4.4:4000")

	s.Store(infoHash, p1, now)
	s.Cleanup(now.Add(time.Minute))

	got := s.Get(infoHash, now)
	if len(got) != 1 || got[0] != p1 {
		t.Fatalf("expected the fresh peer to remain, got %v", got)
	}
}

func TestPeerStore_ReannouncingResetsExpiration(t *testing.T) {
	s := NewPeerStore()
	now := time.Now()
	infoHash := RandomID()
	p1 := mustAddr(t, "5.5.5.5:5000")

	s.Store(infoHash, p1, now)
	s.Store(infoHash, p1, now.Add(PeerExpiration-time.Minute))
	s.Cleanup(now.Add(PeerExpiration))

	got := s.Get(infoHash, now)
	if len(got) != 1 {
		t.Fatalf("expected the re-announced peer to survive cleanup, got %v", got)
	}
}
