package dht

import (
	"log/slog"
	"net/netip"
	"time"
)

// Controller is the event-driven coordination kernel described across
// spec.md §4: it mediates between the UDP transport, the Querier, the
// RoutingManager, the LookupManager/LookupObjects, the Responder, and a
// short-lived peer cache. Every call into it runs to completion and
// returns control to the reactor with (next_tick_ts, datagrams) — it
// holds no goroutines and no locks of its own (spec.md §5).
//
// Grounded on original_source/core/controller.py's Controller class: the
// method names and control flow below intentionally mirror
// get_peers/main_loop/on_datagram_received/_on_timeout/_announce/
// _register_queries, translated into the Go collaborator types built
// alongside this file.
type Controller struct {
	localID ID
	myNode  Node
	clock   Clock
	logger  *slog.Logger

	msgFactory    *MessageFactory
	querier       *Querier
	routing       *RoutingManager
	responder     *Responder
	lookupManager *LookupManager
	experimental  ExperimentalManager
	bootstrapper  Bootstrapper
	tokens        *TokenManager
	peers         *PeerStore
	cache         *lookupCache

	nextMaintenanceTs time.Time
	nextTimeoutTs     time.Time
	nextMainLoopTs    time.Time
}

// Config bundles the construction-time inputs of spec.md §4.1.1.
type Config struct {
	VersionLabel     string
	LocalAddr        netip.AddrPort
	LocalID          *ID // nil means generate one randomly
	ConfPath         string
	PrivateDHTName   string
	BootstrapMode    bool
	StaticBootstraps []string
	Logger           *slog.Logger
	Clock            Clock
	Experimental     ExperimentalManager // nil defaults to NopExperimentalManager
}

// NewController builds a Controller per spec.md §4.1.1: instantiates the
// bootstrapper, resolves/generates the local id, then wires every
// collaborator around it.
func NewController(cfg Config) *Controller {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	localID := RandomID()
	if cfg.LocalID != nil {
		localID = *cfg.LocalID
	}
	myNode := Node{Addr: cfg.LocalAddr, ID: localID, Version: cfg.VersionLabel}

	bootstrapper := Bootstrapper(NewOverlayBootstrapper(cfg.ConfPath, defaultBootstrapHosts, logger))

	msgFactory := NewMessageFactory(cfg.VersionLabel, localID, cfg.PrivateDHTName)
	querier := NewQuerier(msgFactory, clock)
	routing := NewRoutingManager(localID, msgFactory)
	tokens := NewTokenManager(clock)
	peerStore := NewPeerStore()
	responder := NewResponder(msgFactory, routing, peerStore, tokens)
	lookupManager := NewLookupManager(localID, msgFactory)

	experimental := cfg.Experimental
	if experimental == nil {
		experimental = NopExperimentalManager{}
	}

	now := clock.Now()
	return &Controller{
		localID:           localID,
		myNode:            myNode,
		clock:             clock,
		logger:            logger,
		msgFactory:        msgFactory,
		querier:           querier,
		routing:           routing,
		responder:         responder,
		lookupManager:     lookupManager,
		experimental:      experimental,
		bootstrapper:      bootstrapper,
		tokens:            tokens,
		peers:             peerStore,
		cache:             newLookupCache(),
		nextMaintenanceTs: now,
		nextTimeoutTs:     now,
		nextMainLoopTs:    now,
	}
}

// LocalID returns this node's id.
func (c *Controller) LocalID() ID { return c.localID }

// GetPeers implements spec.md §4.1.2. It either serves the request from
// the 5-minute cache (completing synchronously with no datagrams), or
// starts a new LookupObject seeded from the routing table / known
// trackers, returning whatever queries that seeding produced.
func (c *Controller) GetPeers(lookupID any, infoHash ID, callback LookupCallback, btPort int, useCache bool) []Datagram {
	now := c.clock.Now()

	if useCache {
		if peers := c.cache.get(infoHash, now); len(peers) > 0 {
			callback(lookupID, peers, nil)
			callback(lookupID, nil, nil)
			return nil
		}
	}

	lookup := c.lookupManager.GetPeers(lookupID, infoHash, callback, btPort)

	logDistance := LogDistance(infoHash, c.localID)
	seed := c.routing.GetClosestRNodes(logDistance, 0, true)

	if trackedPeers := c.peers.Get(infoHash, now); len(trackedPeers) > 0 {
		c.cache.add(infoHash, trackedPeers, now)
		callback(lookupID, trackedPeers, nil)
	}

	queries := lookup.Start(now, seed, c.bootstrapper)
	return c.registerQueries(queries)
}

// FindNode starts a plain find_node lookup for target (spec.md §7's
// supplemented public operation), returning the queries needed to start
// it. The lookup is then driven through OnDatagram/Tick like any other,
// since the Controller never blocks. It has no callback and is not
// returned, so the nodes it discovers reach the caller only indirectly,
// through the routing table that its responses update.
func (c *Controller) FindNode(target ID) []Datagram {
	lookup := c.lookupManager.MaintenanceLookup(target)
	seed := c.routing.GetClosestRNodes(LogDistance(target, c.localID), K, true)
	return c.registerQueries(lookup.Start(c.clock.Now(), seed, c.bootstrapper))
}

// Tick implements spec.md §4.1.3's main_loop: it paces itself to at most
// once per second, drains timed-out queries, and runs routing-table
// maintenance when due.
func (c *Controller) Tick() (time.Time, []Datagram) {
	now := c.clock.Now()

	if now.Before(c.nextMainLoopTs) {
		return c.nextMainLoopTs, nil
	}
	c.nextMainLoopTs = now.Add(time.Second)

	var queries []PendingQuery

	if !now.Before(c.nextTimeoutTs) {
		nextTimeoutTs, expired := c.querier.Expire(now)
		c.nextTimeoutTs = nextTimeoutTs
		for _, oq := range expired {
			queries = append(queries, c.onTimeout(oq)...)
		}
	}

	c.tokens.MaybeRotate(now)

	if !now.Before(c.nextMaintenanceTs) {
		delay, maintenanceQueries, target := c.routing.DoMaintenance()
		c.nextMaintenanceTs = now.Add(delay)
		if c.nextMaintenanceTs.Before(c.nextMainLoopTs) {
			c.nextMainLoopTs = c.nextMaintenanceTs
		}
		queries = append(queries, maintenanceQueries...)

		if target != nil {
			lookup := c.lookupManager.MaintenanceLookup(target.Target)
			queries = append(queries, lookup.Start(now, target.Seed, c.bootstrapper)...)
		}

		c.peers.Cleanup(now)
	}

	datagrams := c.registerQueries(queries)
	return c.nextMainLoopTs, datagrams
}

// OnDatagram implements spec.md §4.1.4: decode, dispatch by message type,
// and return whatever datagrams the dispatch produced.
func (c *Controller) OnDatagram(raw []byte, from netip.AddrPort) (time.Time, []Datagram) {
	msg, err := c.msgFactory.Decode(raw, from)
	if err != nil {
		return c.nextMainLoopTs, nil
	}

	var datagrams []Datagram

	switch {
	case msg.IsQuery():
		datagrams = c.onQuery(msg)
	case msg.IsResponse():
		datagrams = c.onResponse(msg)
	case msg.IsError():
		datagrams = c.onError(msg)
	default:
		return c.nextMainLoopTs, nil
	}

	return c.nextMainLoopTs, datagrams
}

func (c *Controller) onQuery(msg *Message) []Datagram {
	senderID, ok := msg.SenderID()
	if ok && senderID == c.localID {
		c.logger.Debug("dropping query from myself")
		return nil
	}

	now := c.clock.Now()

	expQueries := c.experimental.OnQueryReceived(msg)

	var datagrams []Datagram
	reply := c.responder.HandleQuery(msg, now)
	if reply.Data != nil {
		datagrams = append(datagrams, reply)
	}

	src := Node{Addr: msg.From, ID: senderID}
	maintenanceQueries := c.routing.OnQueryReceived(src)

	datagrams = append(datagrams, c.registerQueries(maintenanceQueries)...)
	datagrams = append(datagrams, c.registerQueries(expQueries)...)
	return datagrams
}

func (c *Controller) onResponse(msg *Message) []Datagram {
	oq, ok := c.querier.Correlate(msg)
	if !ok {
		return nil
	}

	senderID, _ := msg.SenderID()
	src := Node{Addr: msg.From, ID: senderID}

	var datagrams []Datagram
	datagrams = append(datagrams, c.registerQueries(c.experimental.OnResponseReceived(msg, oq))...)

	var discoveredNodes []Node
	if oq.Lookup != nil {
		queries, peers, _, done := oq.Lookup.OnResponseReceived(msg, src)
		datagrams = append(datagrams, c.registerQueries(queries)...)

		lookupID := oq.Lookup.LookupID()
		callback := oq.Lookup.Callback()
		if len(peers) > 0 {
			now := c.clock.Now()
			c.cache.add(oq.Lookup.InfoHash(), peers, now)
			if callback != nil {
				callback(lookupID, peers, &src)
			}
		}
		if done {
			if callback != nil {
				callback(lookupID, nil, &src)
			}
			datagrams = append(datagrams, c.announce(oq.Lookup)...)
		}
	}

	if nodesData, ok := msg.Nodes(); ok {
		discoveredNodes = DecodeCompactNodeInfoList(nodesData)
	}

	rtt := c.clock.Now().Sub(oq.SentTs)
	maintenanceQueries := c.routing.OnResponseReceived(src, rtt, discoveredNodes)
	datagrams = append(datagrams, c.registerQueries(maintenanceQueries)...)

	c.bootstrapper.Seen(src)
	return datagrams
}

func (c *Controller) onError(msg *Message) []Datagram {
	oq, ok := c.querier.Correlate(msg)
	if !ok {
		return nil
	}

	var datagrams []Datagram
	datagrams = append(datagrams, c.registerQueries(c.experimental.OnErrorReceived(msg, oq))...)

	if oq.Lookup != nil {
		queries, _, done := oq.Lookup.OnErrorReceived(msg, msg.From)
		datagrams = append(datagrams, c.registerQueries(queries)...)

		if done {
			lookupID := oq.Lookup.LookupID()
			if callback := oq.Lookup.Callback(); callback != nil {
				senderID, _ := msg.SenderID()
				src := Node{Addr: msg.From, ID: senderID}
				callback(lookupID, nil, &src)
			}
			datagrams = append(datagrams, c.announce(oq.Lookup)...)
		}
	}

	maintenanceQueries := c.routing.OnErrorReceived(msg.From)
	datagrams = append(datagrams, c.registerQueries(maintenanceQueries)...)
	return datagrams
}

// onTimeout implements spec.md §4.1.5.
func (c *Controller) onTimeout(oq *OutstandingQuery) []PendingQuery {
	var queries []PendingQuery
	queries = append(queries, c.experimental.OnTimeout(oq)...)

	if oq.Lookup != nil {
		lookupQueries, _, done := oq.Lookup.OnTimeout(oq.Dest)
		queries = append(queries, lookupQueries...)

		if done {
			lookupID := oq.Lookup.LookupID()
			if callback := oq.Lookup.Callback(); callback != nil {
				callback(lookupID, nil, nil)
			}
			announceQueries, _ := oq.Lookup.Announce()
			queries = append(queries, announceQueries...)
		}
	}

	queries = append(queries, c.routing.OnTimeout(oq.Dest)...)
	return queries
}

// announce implements spec.md §4.1.6. announce_to_myself is computed by
// the LookupObject but never acted on — see the Open Questions
// resolution recorded in DESIGN.md.
func (c *Controller) announce(lookup *LookupObject) []Datagram {
	queries, _ := lookup.Announce()
	return c.registerQueries(queries)
}

// registerQueries hands queries to the Querier, folding its returned
// earliest-deadline into nextMainLoopTs the way _register_queries folds
// timeout_call_ts in the original implementation.
func (c *Controller) registerQueries(queries []PendingQuery) []Datagram {
	if len(queries) == 0 {
		return nil
	}

	timeoutTs, datagrams := c.querier.Register(queries)
	if timeoutTs.Before(c.nextMainLoopTs) {
		c.nextMainLoopTs = timeoutTs
	}
	return datagrams
}

// OnStop implements spec.md §4.4: flush the experimental manager and
// persist the bootstrap snapshot. A failure to write the snapshot is
// logged, not fatal, per spec.md's edge-case table.
func (c *Controller) OnStop() {
	c.experimental.OnStop()
	if err := c.bootstrapper.SaveToFile(); err != nil {
		c.logger.Warn("failed to save bootstrap snapshot", "error", err)
	}
}

// Stats exposes routing-table health for diagnostics/CLI use.
func (c *Controller) Stats() Stats {
	return c.routing.Stats()
}
