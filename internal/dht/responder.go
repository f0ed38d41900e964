package dht

import (
	"net/netip"
	"time"
)

// Responder answers inbound queries: it is the Controller's collaborator
// for the server half of the protocol, as opposed to Querier/Lookup which
// drive the client half.
//
// Grounded on the teacher's internal/dht/query_handler.go, reworked to
// return the reply as a Datagram instead of calling a KRPC transport
// directly, and to consult the PeerStore/TokenManager collaborators this
// package uses in place of the teacher's Storage/TokenManager pair.
type Responder struct {
	msgFactory *MessageFactory
	routing    *RoutingManager
	peers      *PeerStore
	tokens     *TokenManager
}

func NewResponder(msgFactory *MessageFactory, routing *RoutingManager, peers *PeerStore, tokens *TokenManager) *Responder {
	return &Responder{msgFactory: msgFactory, routing: routing, peers: peers, tokens: tokens}
}

// HandleQuery dispatches an inbound query to the right handler and
// returns the single reply datagram (an error reply on any malformed
// argument), grounded on query_handler.go's HandleQuery switch.
func (r *Responder) HandleQuery(msg *Message, now time.Time) Datagram {
	senderID, ok := msg.SenderID()
	if !ok {
		return r.errorReply(msg, ErrorProtocol, "invalid node id")
	}

	var reply *Message
	switch msg.Q {
	case PingMethod:
		reply = r.msgFactory.PingResponse()
	case FindNodeMethod:
		reply = r.handleFindNode(msg)
	case GetPeersMethod:
		reply = r.handleGetPeers(msg, now)
	case AnnouncePeerMethod:
		reply = r.handleAnnouncePeer(msg, senderID, now)
	default:
		// spec.md §7: an unknown query kind gets no response at all, not
		// an error reply.
		return Datagram{}
	}

	if reply == nil {
		return r.errorReply(msg, ErrorProtocol, "malformed query")
	}

	return r.encode(msg, reply)
}

func (r *Responder) handleFindNode(msg *Message) *Message {
	target, ok := msg.Target()
	if !ok {
		return nil
	}
	contacts := r.routing.FindClosestK(target, K)
	return r.msgFactory.FindNodeResponse(contactNodes(contacts))
}

func (r *Responder) handleGetPeers(msg *Message, now time.Time) *Message {
	infoHash, ok := msg.InfoHash()
	if !ok {
		return nil
	}

	token := r.tokens.Generate(msg.From.Addr())

	if peers := r.peers.Get(infoHash, now); len(peers) > 0 {
		return r.msgFactory.GetPeersResponseValues(token, peers)
	}

	contacts := r.routing.FindClosestK(infoHash, K)
	return r.msgFactory.GetPeersResponseNodes(token, contactNodes(contacts))
}

func (r *Responder) handleAnnouncePeer(msg *Message, senderID ID, now time.Time) *Message {
	infoHash, ok := msg.InfoHash()
	if !ok {
		return nil
	}
	port, ok := msg.Port()
	if !ok {
		return nil
	}
	token, ok := msg.Token()
	if !ok || !r.tokens.Validate(msg.From.Addr(), token) {
		return nil
	}

	r.peers.Store(infoHash, peerFromAnnounce(msg.From, port), now)
	return r.msgFactory.AnnouncePeerResponse()
}

func (r *Responder) errorReply(msg *Message, code int, text string) Datagram {
	errMsg := NewErrorMessage(msg.T, code, text)
	encoded, err := r.msgFactory.Encode(errMsg)
	if err != nil {
		return Datagram{}
	}
	return Datagram{Addr: msg.From, Data: encoded}
}

func (r *Responder) encode(msg, reply *Message) Datagram {
	reply.T = msg.T
	encoded, err := r.msgFactory.Encode(reply)
	if err != nil {
		return r.errorReply(msg, ErrorServer, "internal encode failure")
	}
	return Datagram{Addr: msg.From, Data: encoded}
}

func contactNodes(contacts []*Contact) []Node {
	nodes := make([]Node, len(contacts))
	for i, c := range contacts {
		nodes[i] = c.Node
	}
	return nodes
}

// peerFromAnnounce builds the advertised Peer address from an
// announce_peer's source address and the 'port' argument it carries
// (ignoring implied_port, which this overlay doesn't support).
func peerFromAnnounce(from Peer, port int) Peer {
	return netip.AddrPortFrom(from.Addr(), uint16(port))
}
