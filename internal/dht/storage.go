package dht

import (
	"time"

	"github.com/prxssh/mdht/pkg/syncmap"
)

// MaxPeersPerTorrent and MaxTorrents bound memory use the same way the
// teacher's internal/dht/storage.go does, just renamed to this package's
// "peer store" vocabulary.
const (
	MaxPeersPerTorrent = 2000
	MaxTorrents        = 10000
	PeerExpiration     = 2 * time.Hour
)

type torrentPeers struct {
	peers    *syncmap.Map[Peer, time.Time]
	lastUsed time.Time
}

// PeerStore answers get_peers queries against InfoHashes this node has
// received announce_peer calls for. Adapted from the teacher's
// internal/dht/storage.go: same eviction/expiry policy, but keyed on
// netip.AddrPort (pkg/syncmap.Map) instead of a raw compact-info byte
// string, and with its time-driven cleanup folded into the Controller's
// Tick instead of a private ticker goroutine, per spec.md §5's
// single-threaded reactor model.
type PeerStore struct {
	torrents *syncmap.Map[ID, *torrentPeers]
}

func NewPeerStore() *PeerStore {
	return &PeerStore{torrents: syncmap.New[ID, *torrentPeers]()}
}

// Store records peer as announcing for infoHash at now.
func (s *PeerStore) Store(infoHash ID, peer Peer, now time.Time) {
	tp, exists := s.torrents.Get(infoHash)
	if !exists {
		if s.torrents.Len() >= MaxTorrents {
			s.evictOldest()
		}
		tp = &torrentPeers{peers: syncmap.New[Peer, time.Time](), lastUsed: now}
		s.torrents.Put(infoHash, tp)
	}
	tp.lastUsed = now

	if tp.peers.Len() >= MaxPeersPerTorrent {
		if _, exists := tp.peers.Get(peer); !exists {
			return
		}
	}
	tp.peers.Put(peer, now)
}

// Get returns every peer currently stored for infoHash.
func (s *PeerStore) Get(infoHash ID, now time.Time) []Peer {
	tp, exists := s.torrents.Get(infoHash)
	if !exists {
		return nil
	}
	tp.lastUsed = now

	peers := make([]Peer, 0, tp.peers.Len())
	tp.peers.Range(func(peer Peer, _ time.Time) bool {
		peers = append(peers, peer)
		return true
	})
	return peers
}

// Cleanup drops peers that haven't re-announced within PeerExpiration and
// any torrent left with no peers. The Controller calls this periodically
// from its maintenance sweep.
func (s *PeerStore) Cleanup(now time.Time) {
	var emptyHashes []ID

	s.torrents.Range(func(hash ID, tp *torrentPeers) bool {
		var stale []Peer
		tp.peers.Range(func(p Peer, lastSeen time.Time) bool {
			if now.Sub(lastSeen) > PeerExpiration {
				stale = append(stale, p)
			}
			return true
		})
		if len(stale) > 0 {
			tp.peers.Delete(stale...)
		}
		if tp.peers.Len() == 0 {
			emptyHashes = append(emptyHashes, hash)
		}
		return true
	})

	if len(emptyHashes) > 0 {
		s.torrents.Delete(emptyHashes...)
	}
}

func (s *PeerStore) evictOldest() {
	var (
		oldestHash ID
		oldestTime time.Time
		first      = true
	)

	s.torrents.Range(func(hash ID, tp *torrentPeers) bool {
		if first || tp.lastUsed.Before(oldestTime) {
			oldestHash, oldestTime, first = hash, tp.lastUsed, false
		}
		return true
	})

	if !first {
		s.torrents.Delete(oldestHash)
	}
}
