package dht

import "net/netip"

// MessageType is the KRPC 'y' field.
type MessageType string

const (
	QueryType    MessageType = "q"
	ResponseType MessageType = "r"
	ErrorType    MessageType = "e"
)

// QueryMethod is the KRPC 'q' field.
type QueryMethod string

const (
	PingMethod         QueryMethod = "ping"
	FindNodeMethod     QueryMethod = "find_node"
	GetPeersMethod     QueryMethod = "get_peers"
	AnnouncePeerMethod QueryMethod = "announce_peer"
)

// KRPC protocol error codes (BEP-5 §"Errors").
const (
	ErrorGeneric       = 201
	ErrorServer        = 202
	ErrorProtocol      = 203
	ErrorMethodUnknown = 204
)

// Message is a decoded KRPC datagram. Exactly one of (A, R, E) is
// meaningful, selected by Y.
type Message struct {
	T string      // transaction id
	Y MessageType // q / r / e
	V string      // sender's client version tag

	Q QueryMethod    // query method, Y==QueryType only
	A map[string]any // query arguments

	R map[string]any // response values

	E []any // [code, message]

	From netip.AddrPort // populated by the factory on decode, ignored on encode
}

func newQuery(method QueryMethod) *Message {
	return &Message{Y: QueryType, Q: method, A: make(map[string]any)}
}

func newResponse() *Message {
	return &Message{Y: ResponseType, R: make(map[string]any)}
}

// NewErrorMessage builds a KRPC error message replying to transactionID.
func NewErrorMessage(transactionID string, code int, msg string) *Message {
	return &Message{T: transactionID, Y: ErrorType, E: []any{code, msg}}
}

func (m *Message) IsQuery() bool    { return m.Y == QueryType }
func (m *Message) IsResponse() bool { return m.Y == ResponseType }
func (m *Message) IsError() bool    { return m.Y == ErrorType }

// SenderID extracts the 'id' argument/return value, present on every
// query and response.
func (m *Message) SenderID() (ID, bool) {
	var (
		idStr string
		ok    bool
	)

	switch {
	case m.Y == ResponseType && m.R != nil:
		idStr, ok = m.R["id"].(string)
	case m.Y == QueryType && m.A != nil:
		idStr, ok = m.A["id"].(string)
	}

	return stringToID(idStr, ok)
}

func (m *Message) Target() (ID, bool) {
	if m.Y != QueryType || m.A == nil {
		return ID{}, false
	}
	s, ok := m.A["target"].(string)
	return stringToID(s, ok)
}

func (m *Message) InfoHash() (ID, bool) {
	if m.Y != QueryType || m.A == nil {
		return ID{}, false
	}
	s, ok := m.A["info_hash"].(string)
	return stringToID(s, ok)
}

func (m *Message) Token() (string, bool) {
	switch {
	case m.Y == ResponseType && m.R != nil:
		token, ok := m.R["token"].(string)
		return token, ok
	case m.Y == QueryType && m.A != nil:
		token, ok := m.A["token"].(string)
		return token, ok
	}
	return "", false
}

func (m *Message) Nodes() ([]byte, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}
	s, ok := m.R["nodes"].(string)
	return []byte(s), ok
}

func (m *Message) Values() ([]string, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}

	raw, ok := m.R["values"].([]any)
	if !ok {
		return nil, false
	}

	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			values = append(values, s)
		}
	}
	return values, len(values) > 0
}

func (m *Message) Port() (int, bool) {
	if m.Y != QueryType || m.A == nil {
		return 0, false
	}

	switch p := m.A["port"].(type) {
	case int:
		return p, true
	case int64:
		return int(p), true
	default:
		return 0, false
	}
}

func stringToID(s string, ok bool) (ID, bool) {
	var id ID
	if !ok || len(s) != IDLen {
		return id, false
	}
	copy(id[:], s)
	return id, true
}
