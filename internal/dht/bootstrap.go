package dht

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prxssh/mdht/pkg/retry"
)

// Bootstrapper supplies fallback contact nodes when the routing table is
// empty and persists known-good nodes to disk on shutdown, per spec.md
// §6. Reworked from the teacher's bootstrapLoop/bootstrap ticker
// (internal/dht/dht.go) into an on-demand collaborator with no goroutine
// of its own, driven by the Controller.
type Bootstrapper interface {
	// FallbackContacts returns nodes to seed a lookup with when the
	// routing table has nothing to offer.
	FallbackContacts() []Node
	// Seen records a contact worth persisting at shutdown.
	Seen(n Node)
	// SaveToFile writes the current snapshot to disk.
	SaveToFile() error
}

// OverlayBootstrapper is the default Bootstrapper: a flat "host:port" file
// of well-known nodes (seeded from static overlay entry points, like
// BitTorrent's router.bittorrent.com) plus nodes this process has itself
// observed, refreshed into the snapshot on shutdown.
type OverlayBootstrapper struct {
	confPath string
	logger   *slog.Logger

	staticHosts []string // unresolved "host:port" entries, resolved lazily
	seen        map[ID]Node
}

// NewOverlayBootstrapper loads confPath if present (one "host:port" or
// "ip:port" per line) and falls back to staticHosts when the file is
// missing or empty, matching spec.md's "file missing on startup → fresh
// bootstrap state" edge case.
func NewOverlayBootstrapper(confPath string, staticHosts []string, logger *slog.Logger) *OverlayBootstrapper {
	b := &OverlayBootstrapper{
		confPath:    confPath,
		logger:      logger,
		staticHosts: staticHosts,
		seen:        make(map[ID]Node),
	}

	if entries, err := readHostsFile(confPath); err == nil && len(entries) > 0 {
		b.staticHosts = entries
	} else if err != nil && !os.IsNotExist(err) {
		logger.Warn("bootstrap file unreadable, starting fresh", "path", confPath, "error", err)
	}

	return b
}

// FallbackContacts returns the nodes recorded via Seen, if there are any.
// Otherwise it resolves every configured host:port concurrently
// (errgroup, matching the teacher's fan-out idiom elsewhere in this
// codebase) and returns whatever resolves successfully as bare Nodes
// (no id known yet — the first ping response will fill it in via
// RoutingManager.OnResponseReceived).
func (b *OverlayBootstrapper) FallbackContacts() []Node {
	if len(b.seen) > 0 {
		nodes := make([]Node, 0, len(b.seen))
		for _, n := range b.seen {
			nodes = append(nodes, n)
		}
		return nodes
	}

	resolved := make([]netip.AddrPort, len(b.staticHosts))
	g, ctx := errgroup.WithContext(context.Background())
	for i, host := range b.staticHosts {
		i, host := i, host
		g.Go(func() error {
			addr, err := resolveWithRetry(ctx, host)
			if err != nil {
				b.logger.Debug("bootstrap host unresolvable", "host", host, "error", err)
				return nil // best-effort: one bad host doesn't fail the rest
			}
			resolved[i] = addr
			return nil
		})
	}
	_ = g.Wait()

	nodes := make([]Node, 0, len(resolved))
	for _, addr := range resolved {
		if addr.IsValid() {
			nodes = append(nodes, Node{Addr: addr})
		}
	}
	return nodes
}

func resolveWithRetry(ctx context.Context, hostport string) (netip.AddrPort, error) {
	var addr netip.AddrPort
	err := retry.Do(ctx, func(ctx context.Context) error {
		a, err := net.ResolveUDPAddr("udp", hostport)
		if err != nil {
			return err
		}
		parsed, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return err
		}
		addr = parsed
		return nil
	}, retry.WithExponentialBackoff(3, 200*time.Millisecond, 2*time.Second)...)
	return addr, err
}

func (b *OverlayBootstrapper) Seen(n Node) {
	b.seen[n.ID] = n
}

// SaveToFile writes every observed node as "ip:port" lines, per spec.md
// §4.4's "Persisted bootstrap-nodes file at conf_path, written on
// shutdown" contract.
func (b *OverlayBootstrapper) SaveToFile() error {
	if b.confPath == "" {
		return nil
	}

	f, err := os.Create(b.confPath)
	if err != nil {
		return fmt.Errorf("dht: save bootstrap snapshot: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, n := range b.seen {
		fmt.Fprintln(w, n.Addr.String())
	}
	return w.Flush()
}

func readHostsFile(path string) ([]string, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, _, err := net.SplitHostPort(line); err != nil {
			continue
		}
		hosts = append(hosts, line)
	}
	return hosts, scanner.Err()
}

// defaultBootstrapHosts mirrors the well-known BitTorrent mainline DHT
// entry points; a private overlay typically overrides these via its own
// conf file instead.
var defaultBootstrapHosts = []string{
	"router.bittorrent.com:6881",
	"router.utorrent.com:6881",
	"dht.transmissionbt.com:6881",
}
