package dht

import (
	"testing"
	"time"
)

func TestLookupCache_GetMissWhenEmpty(t *testing.T) {
	c := newLookupCache()
	if peers := c.get(RandomID(), time.Now()); peers != nil {
		t.Fatalf("expected nil for an empty cache, got %v", peers)
	}
}

func TestLookupCache_AddThenGetWithinWindow(t *testing.T) {
	c := newLookupCache()
	now := time.Now()
	infoHash := RandomID()
	p1 := mustAddr(t, "1.1.1.1:1000")

	c.add(infoHash, []Peer{p1}, now)

	got := c.get(infoHash, now.Add(cacheValidWindow-time.Second))
	if len(got) != 1 || got[0] != p1 {
		t.Fatalf("expected cached peer within the valid window, got %v", got)
	}
}

func TestLookupCache_ExpiresAfterWindow(t *testing.T) {
	c := newLookupCache()
	now := time.Now()
	infoHash := RandomID()
	p1 := mustAddr(t, "2.2.2.2:2000")

	c.add(infoHash, []Peer{p1}, now)

	got := c.get(infoHash, now.Add(cacheValidWindow+time.Second))
	if got != nil {
		t.Fatalf("expected expired entry to be invisible, got %v", got)
	}
}

func TestLookupCache_ExtendsMostRecentEntryInPlace(t *testing.T) {
	c := newLookupCache()
	now := time.Now()
	infoHash := RandomID()
	p1 := mustAddr(t, "3.3.3.3:3000")
	p2 := mustAddr(t, "4.4.4.4:4000")

	c.add(infoHash, []Peer{p1}, now)
	c.add(infoHash, []Peer{p2}, now.Add(time.Second))

	if len(c.entries) != 1 {
		t.Fatalf("expected a repeated info-hash to extend in place, got %d entries", len(c.entries))
	}
	got := c.get(infoHash, now.Add(2*time.Second))
	if len(got) != 2 {
		t.Fatalf("expected both peers merged into the single entry, got %v", got)
	}
}

func TestLookupCache_PurgesStaleEntriesFromFront(t *testing.T) {
	c := newLookupCache()
	now := time.Now()
	staleHash := RandomID()
	freshHash := RandomID()

	c.entries = append(c.entries, cachedLookup{
		ts: now.Add(-cacheValidWindow - time.Minute), infoHash: staleHash,
		peers: []Peer{mustAddr(t, "5.5.5.5:5000")},
	})

	c.add(freshHash, []Peer{mustAddr(t, "6.6.6.6:6000")}, now)

	if len(c.entries) != 1 {
		t.Fatalf("expected the stale entry to be purged, got %d entries", len(c.entries))
	}
	if c.entries[0].infoHash != freshHash {
		t.Fatalf("expected only the fresh entry to remain")
	}
}
