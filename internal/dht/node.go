package dht

import (
	"encoding/binary"
	"net/netip"
)

const compactNodeInfoLen = IDLen + 6 // id + 4-byte IPv4 + 2-byte port

// Node is the (address, id, version) triple described by spec.md §3.
// Equality is by (addr, id); Version is advisory and only ever populated
// from the 'v' field of an inbound message.
type Node struct {
	Addr    netip.AddrPort
	ID      ID
	Version string
}

// Equal reports whether two nodes share the same address and id.
func (n Node) Equal(o Node) bool {
	return n.Addr == o.Addr && n.ID == o.ID
}

// Peer is an (IP, port) pair advertised as holding content for some
// InfoHash. Peers are opaque to the Controller; it only forwards them.
type Peer = netip.AddrPort

// CompactNodeInfo encodes n as the 26-byte "compact node info" triple
// (20-byte id, 4-byte IPv4, 2-byte big-endian port) used inside find_node
// and get_peers responses. It returns nil for non-IPv4 addresses, since
// compact node info has no portable IPv6 form in this wire format.
func (n Node) CompactNodeInfo() []byte {
	if !n.Addr.Addr().Is4() {
		return nil
	}

	buf := make([]byte, compactNodeInfoLen)
	copy(buf[:IDLen], n.ID[:])
	ip4 := n.Addr.Addr().As4()
	copy(buf[IDLen:IDLen+4], ip4[:])
	binary.BigEndian.PutUint16(buf[IDLen+4:], n.Addr.Port())
	return buf
}

// DecodeCompactNodeInfo parses a single 26-byte compact node info triple.
func DecodeCompactNodeInfo(data []byte) (Node, bool) {
	if len(data) != compactNodeInfoLen {
		return Node{}, false
	}

	var id ID
	copy(id[:], data[:IDLen])

	ip := netip.AddrFrom4([4]byte(data[IDLen : IDLen+4]))
	port := binary.BigEndian.Uint16(data[IDLen+4:])

	return Node{ID: id, Addr: netip.AddrPortFrom(ip, port)}, true
}

// DecodeCompactNodeInfoList parses a concatenated string of 26-byte compact
// node info triples, as carried in a find_node/get_peers response's
// "nodes" field. Malformed trailing bytes are dropped rather than erroring,
// matching how untrusted-peer wire data is handled elsewhere in this
// package.
func DecodeCompactNodeInfoList(data []byte) []Node {
	count := len(data) / compactNodeInfoLen
	nodes := make([]Node, 0, count)

	for i := 0; i < count; i++ {
		off := i * compactNodeInfoLen
		if node, ok := DecodeCompactNodeInfo(data[off : off+compactNodeInfoLen]); ok {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// EncodeCompactPeerInfo encodes a Peer as the 6-byte compact form used in
// get_peers "values" entries.
func EncodeCompactPeerInfo(p Peer) ([6]byte, bool) {
	var out [6]byte
	if !p.Addr().Is4() {
		return out, false
	}

	ip4 := p.Addr().As4()
	copy(out[:4], ip4[:])
	binary.BigEndian.PutUint16(out[4:], p.Port())
	return out, true
}

// DecodeCompactPeerInfo parses a 6-byte compact peer entry.
func DecodeCompactPeerInfo(data []byte) (Peer, bool) {
	if len(data) != 6 {
		return Peer{}, false
	}
	ip := netip.AddrFrom4([4]byte(data[:4]))
	port := binary.BigEndian.Uint16(data[4:])
	return netip.AddrPortFrom(ip, port), true
}
