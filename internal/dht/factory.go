package dht

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/prxssh/mdht/pkg/bencode"
)

// ErrDecodeFailed is returned by MessageFactory.Decode for any malformed,
// truncated, or foreign-overlay datagram. The Controller treats it as a
// silent drop (spec.md §7).
var ErrDecodeFailed = errors.New("dht: malformed message")

// overlaySeparator delimits a private-overlay name qualifier from the
// bencoded KRPC dict that follows it. Mainline traffic (privateName=="")
// carries no qualifier at all.
const overlaySeparator = '|'

// MessageFactory is the wire codec collaborator: it owns the KRPC
// bencoding, stamps every outgoing message with the local node's identity
// and version tag, and — for private overlays — a name qualifier that
// keeps the overlay's traffic from being parsed as mainline DHT traffic.
//
// Bound at construction to (version, local id, private name), per
// spec.md §4.1.1.
type MessageFactory struct {
	version     string
	localID     ID
	privateName string
}

// NewMessageFactory builds a factory bound to localID. version is placed
// in every outgoing message's 'v' field; an empty privateName targets the
// mainline (public) overlay.
func NewMessageFactory(version string, localID ID, privateName string) *MessageFactory {
	return &MessageFactory{version: version, localID: localID, privateName: privateName}
}

// Stamp sets a message's transaction id in place and returns it, for the
// "build response, then stamp with the incoming transaction id" flow
// spec.md §4.1.4 requires of query handling.
func (f *MessageFactory) Stamp(msg *Message, transactionID string) *Message {
	msg.T = transactionID
	return msg
}

// --- outgoing query constructors ---

func (f *MessageFactory) PingQuery() *Message {
	msg := newQuery(PingMethod)
	msg.A["id"] = string(f.localID[:])
	return msg
}

func (f *MessageFactory) FindNodeQuery(target ID) *Message {
	msg := newQuery(FindNodeMethod)
	msg.A["id"] = string(f.localID[:])
	msg.A["target"] = string(target[:])
	return msg
}

func (f *MessageFactory) GetPeersQuery(infoHash ID) *Message {
	msg := newQuery(GetPeersMethod)
	msg.A["id"] = string(f.localID[:])
	msg.A["info_hash"] = string(infoHash[:])
	return msg
}

func (f *MessageFactory) AnnouncePeerQuery(infoHash ID, port int, token string) *Message {
	msg := newQuery(AnnouncePeerMethod)
	msg.A["id"] = string(f.localID[:])
	msg.A["info_hash"] = string(infoHash[:])
	msg.A["port"] = port
	msg.A["token"] = token
	return msg
}

// --- outgoing response constructors ---

func (f *MessageFactory) PingResponse() *Message {
	msg := newResponse()
	msg.R["id"] = string(f.localID[:])
	return msg
}

func (f *MessageFactory) FindNodeResponse(nodes []Node) *Message {
	msg := newResponse()
	msg.R["id"] = string(f.localID[:])
	msg.R["nodes"] = string(encodeNodes(nodes))
	return msg
}

func (f *MessageFactory) GetPeersResponseValues(token string, peers []Peer) *Message {
	msg := newResponse()
	msg.R["id"] = string(f.localID[:])
	msg.R["token"] = token

	values := make([]any, 0, len(peers))
	for _, p := range peers {
		if compact, ok := EncodeCompactPeerInfo(p); ok {
			values = append(values, string(compact[:]))
		}
	}
	msg.R["values"] = values
	return msg
}

func (f *MessageFactory) GetPeersResponseNodes(token string, nodes []Node) *Message {
	msg := newResponse()
	msg.R["id"] = string(f.localID[:])
	msg.R["token"] = token
	msg.R["nodes"] = string(encodeNodes(nodes))
	return msg
}

func (f *MessageFactory) AnnouncePeerResponse() *Message {
	msg := newResponse()
	msg.R["id"] = string(f.localID[:])
	return msg
}

func encodeNodes(nodes []Node) []byte {
	buf := make([]byte, 0, len(nodes)*compactNodeInfoLen)
	for _, n := range nodes {
		if info := n.CompactNodeInfo(); info != nil {
			buf = append(buf, info...)
		}
	}
	return buf
}

// --- wire (de)serialization ---

// Encode bencodes msg, applying the private-overlay qualifier if this
// factory is bound to one.
func (f *MessageFactory) Encode(msg *Message) ([]byte, error) {
	dict := map[string]any{
		"t": msg.T,
		"y": string(msg.Y),
	}
	if f.version != "" {
		dict["v"] = f.version
	}

	switch msg.Y {
	case QueryType:
		dict["q"] = string(msg.Q)
		dict["a"] = msg.A
	case ResponseType:
		dict["r"] = msg.R
	case ErrorType:
		dict["e"] = msg.E
	default:
		return nil, fmt.Errorf("dht: cannot encode message with type %q", msg.Y)
	}

	encoded, err := bencode.Marshal(dict)
	if err != nil {
		return nil, fmt.Errorf("dht: encode message: %w", err)
	}

	if f.privateName == "" {
		return encoded, nil
	}

	out := make([]byte, 0, len(f.privateName)+1+len(encoded))
	out = append(out, f.privateName...)
	out = append(out, overlaySeparator)
	out = append(out, encoded...)
	return out, nil
}

// Decode parses a raw datagram from addr into a Message. It returns
// ErrDecodeFailed for anything malformed or, in a private overlay, not
// carrying this overlay's qualifier — both cases the Controller is
// required to silently drop.
func (f *MessageFactory) Decode(data []byte, from netip.AddrPort) (*Message, error) {
	if f.privateName != "" {
		prefix := f.privateName + string(overlaySeparator)
		if !strings.HasPrefix(string(data), prefix) {
			return nil, ErrDecodeFailed
		}
		data = data[len(prefix):]
	}

	decoded, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, ErrDecodeFailed
	}

	dict, ok := decoded.(map[string]any)
	if !ok {
		return nil, ErrDecodeFailed
	}

	t, ok := dict["t"].(string)
	if !ok {
		return nil, ErrDecodeFailed
	}

	y, ok := dict["y"].(string)
	if !ok {
		return nil, ErrDecodeFailed
	}

	msg := &Message{T: t, Y: MessageType(y), From: from}
	if v, ok := dict["v"].(string); ok {
		msg.V = v
	}

	switch msg.Y {
	case QueryType:
		q, ok := dict["q"].(string)
		if !ok {
			return nil, ErrDecodeFailed
		}
		msg.Q = QueryMethod(q)
		a, ok := dict["a"].(map[string]any)
		if !ok {
			return nil, ErrDecodeFailed
		}
		msg.A = a

	case ResponseType:
		r, ok := dict["r"].(map[string]any)
		if !ok {
			return nil, ErrDecodeFailed
		}
		msg.R = r

	case ErrorType:
		e, ok := dict["e"].([]any)
		if !ok {
			return nil, ErrDecodeFailed
		}
		msg.E = e

	default:
		return nil, ErrDecodeFailed
	}

	return msg, nil
}
