package dht

import "time"

// cacheValidWindow is how long a cached get_peers result stays usable,
// per spec.md §3's CachedLookup definition.
const cacheValidWindow = 5 * time.Minute

// cachedLookup is a single memoized get_peers result.
type cachedLookup struct {
	ts       time.Time
	infoHash ID
	peers    []Peer
}

// lookupCache is the short-lived in-memory peer cache described in
// spec.md §4.1.7: an insertion-ordered sequence of CachedLookup entries,
// expired lazily and with in-place extension of the most recent entry
// for a repeated info-hash. Grounded on original_source/core/
// controller.py's self._cached_lookups list and _get_cached_peers/
// _add_cache_peers methods; kept as a plain slice rather than a richer
// structure, preserving the original's verbatim in-place-extension
// behavior as spec.md §7 requires.
type lookupCache struct {
	entries []cachedLookup
}

func newLookupCache() *lookupCache {
	return &lookupCache{}
}

// get returns the peers of the first non-expired entry matching
// infoHash, via a linear scan, or nil if none.
func (c *lookupCache) get(infoHash ID, now time.Time) []Peer {
	oldestValid := now.Add(-cacheValidWindow)
	for _, e := range c.entries {
		if !e.ts.Before(oldestValid) && e.infoHash == infoHash {
			return e.peers
		}
	}
	return nil
}

// add expires stale entries from the front, then either extends the most
// recent entry in place (if it already matches infoHash) or appends a new
// one.
func (c *lookupCache) add(infoHash ID, peers []Peer, now time.Time) {
	oldestValid := now.Add(-cacheValidWindow)
	for len(c.entries) > 0 && c.entries[0].ts.Before(oldestValid) {
		c.entries = c.entries[1:]
	}

	if n := len(c.entries); n > 0 && c.entries[n-1].infoHash == infoHash {
		c.entries[n-1].peers = append(c.entries[n-1].peers, peers...)
		return
	}

	c.entries = append(c.entries, cachedLookup{ts: now, infoHash: infoHash, peers: peers})
}
