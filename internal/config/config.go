package config

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config defines behavior and resource limits for a DHT node.
//
// Adapted from the teacher's pkg/config/config.go: same atomic-swap
// global config idiom (see global.go), but the knobs themselves are
// rebuilt for DHT-node tuning instead of torrent-transfer tuning —
// listen address, bootstrap snapshot path, lookup/query timing, routing
// maintenance cadence, peer-store capacity, and the private-overlay
// qualifier — in place of piece-picker/peer-wire settings that have no
// home in this node.
//
// cmd/dhtnode reads only ListenAddr, BootstrapConfPath and VersionLabel
// from here; the dht package does not import this package, and uses its
// own package-level constants for timing and capacity values.
type Config struct {
	// ListenAddr is the "ip:port" this node's UDP socket binds to.
	ListenAddr string

	// VersionLabel is the client version tag ('v') stamped on every
	// outgoing KRPC message.
	VersionLabel string

	// BootstrapConfPath is where the bootstrap-nodes snapshot is read at
	// startup and written at shutdown.
	BootstrapConfPath string

	// PrivateDHTName, if non-empty, qualifies every wire message with a
	// private-overlay name so this node's traffic never parses as
	// mainline DHT traffic and vice versa.
	PrivateDHTName string

	// BootstrapMode marks this node as a well-known bootstrap node. The
	// dht package's own Config has a field of the same name, but no dht
	// component reads it: the responder answers queries the same way
	// whether it is set or not.
	BootstrapMode bool

	// QueryTimeout bounds how long a single outstanding query waits for
	// a reply before the Querier expires it.
	QueryTimeout time.Duration

	// LookupTimeout is an age limit for a whole iterative lookup. The
	// Controller never cancels a lookup on age; a lookup ends only when
	// it converges.
	LookupTimeout time.Duration

	// MaintenanceInterval paces routing-table maintenance sweeps.
	MaintenanceInterval time.Duration

	// TokenRotationInterval is how often the announce-token secret
	// rotates.
	TokenRotationInterval time.Duration

	// MaxPeersPerTorrent and MaxTorrents bound the responder's in-memory
	// peer store.
	MaxPeersPerTorrent int
	MaxTorrents        int
	PeerExpiration     time.Duration

	// EnableIPv6 allows this node to accept and return IPv6 contacts.
	// Compact node/peer info in this wire format is IPv4-only, so IPv6
	// support is advisory until a v6-capable wire extension exists.
	EnableIPv6 bool
	HasIPv6    bool
}

// defaultConfig returns sensible defaults for a public mainline-style
// node.
func defaultConfig() Config {
	return Config{
		ListenAddr:            "0.0.0.0:6881",
		VersionLabel:           "MD01",
		BootstrapConfPath:      defaultBootstrapPath(),
		PrivateDHTName:         "",
		BootstrapMode:          false,
		QueryTimeout:           2 * time.Second,
		LookupTimeout:          30 * time.Second,
		MaintenanceInterval:    30 * time.Second,
		TokenRotationInterval:  5 * time.Minute,
		MaxPeersPerTorrent:     2000,
		MaxTorrents:            10000,
		PeerExpiration:         2 * time.Hour,
		EnableIPv6:             true,
		HasIPv6:                hasIPv6(),
	}
}

func hasIPv6() bool {
	ifaces, _ := net.Interfaces()

	for _, ifi := range ifaces {
		if (ifi.Flags & net.FlagUp) == 0 {
			continue
		}
		addrs, _ := ifi.Addrs()
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}

			ip := ipNet.IP
			if ip == nil || ip.To4() != nil {
				continue
			}
			if ip.IsGlobalUnicast() && !ip.IsLinkLocalUnicast() && !ip.IsLoopback() {
				return true
			}
		}
	}

	return false
}

// defaultBootstrapPath picks a per-OS state directory, replacing the
// teacher's wails runtime.Environment platform switch with the stdlib
// runtime.GOOS equivalent — this package has no GUI runtime to ask.
func defaultBootstrapPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if cwd, err := os.Getwd(); err == nil {
			return filepath.Join(cwd, "dht-bootstrap.nodes")
		}
		return "./dht-bootstrap.nodes"
	}

	switch runtime.GOOS {
	case "windows", "darwin":
		return filepath.Join(home, "Library", "Application Support", "mdht", "bootstrap.nodes")
	default: // linux, bsd, etc.
		return filepath.Join(home, ".local", "share", "mdht", "bootstrap.nodes")
	}
}
