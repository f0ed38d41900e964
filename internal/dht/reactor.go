package dht

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxDatagramSize is the largest UDP payload this reactor reads; KRPC
// messages are small, but a generous buffer keeps a truncated read from
// ever being the failure mode.
const maxDatagramSize = 65536

// Reactor owns the UDP socket and the wall clock on the Controller's
// behalf, per spec.md §5's "Shared resources" note: the Controller only
// ever sees them through Tick's return value and OnDatagram's argument.
//
// Grounded on the teacher's internal/dht/krpc.go readLoop/timeoutLoop,
// collapsed from two independent goroutines plus a per-transaction
// channel protocol into a single read goroutine that feeds OnDatagram
// and a single ticker goroutine that feeds Tick, coordinated with
// errgroup the way the teacher's KRPC.Start already does for its own
// pair of loops.
type Reactor struct {
	conn       *net.UDPConn
	controller *Controller
	logger     *slog.Logger

	mu   sync.Mutex // serializes writes to the Controller from the two loops
	stop context.CancelFunc
	grp  *errgroup.Group
}

// NewReactor binds a UDP socket at listenAddr and wraps controller.
func NewReactor(listenAddr netip.AddrPort, controller *Controller, logger *slog.Logger) (*Reactor, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(listenAddr))
	if err != nil {
		return nil, err
	}

	return &Reactor{conn: conn, controller: controller, logger: logger}, nil
}

// LocalAddr returns the bound socket's address.
func (r *Reactor) LocalAddr() netip.AddrPort {
	return r.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Run drives the Controller until ctx is canceled or Stop is called,
// running the read loop and the tick loop concurrently under a single
// errgroup so a panic or unrecoverable error in either one tears down
// the other.
func (r *Reactor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.stop = cancel

	g, ctx := errgroup.WithContext(ctx)
	r.grp = g

	g.Go(func() error { return r.readLoop(ctx) })
	g.Go(func() error { return r.tickLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels the reactor's context and closes its socket, unblocking
// any in-progress read.
func (r *Reactor) Stop() {
	if r.stop != nil {
		r.stop()
	}
	r.conn.Close()
	if r.grp != nil {
		_ = r.grp.Wait()
	}
}

func (r *Reactor) readLoop(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Error("udp read failed", "error", err)
			continue
		}

		from := addr.AddrPort()
		payload := append([]byte(nil), buf[:n]...)

		r.mu.Lock()
		_, datagrams := r.controller.OnDatagram(payload, from)
		r.mu.Unlock()

		r.send(datagrams)
	}
}

func (r *Reactor) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.mu.Lock()
			_, datagrams := r.controller.Tick()
			r.mu.Unlock()

			r.send(datagrams)
		}
	}
}

func (r *Reactor) send(datagrams []Datagram) {
	for _, d := range datagrams {
		if _, err := r.conn.WriteToUDP(d.Data, net.UDPAddrFromAddrPort(d.Addr)); err != nil {
			r.logger.Debug("udp write failed", "to", d.Addr, "error", err)
		}
	}
}
