package roomchat

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	// ServerSender is the sender used for inbound payloads that could not be decoded.
	ServerSender = "server"

	// TimestampLayout is the format of display timestamps attached by the client.
	TimestampLayout = time.RFC3339
)

// RoomID names a room. It is treated as an opaque key.
type RoomID string

// Kind is the event kind carried by a message.
type Kind string

const (
	// KindJoin announces presence in a room.
	KindJoin Kind = "JOIN"

	// KindTalk is a conversational text message.
	KindTalk Kind = "TALK"
)

// Known reports whether k is one of the kinds this client understands.
func (k Kind) Known() bool {
	return k == KindJoin || k == KindTalk
}

// Origin tells whether a message was authored here or received from the server.
type Origin int

const (
	// OriginRemote means the message arrived over the transport.
	OriginRemote Origin = iota

	// OriginLocal means the message was authored by this client and echoed optimistically.
	OriginLocal
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Message is a single entry of the message log.
type Message struct {
	ID        string
	Kind      Kind
	RoomID    RoomID
	Sender    string
	Body      string
	Timestamp string
	Origin    Origin

	// Confirmed is set on a local message once the server echoed it back.
	// Only used when echo reconciliation is enabled.
	Confirmed bool
}

// wireMessage is the JSON envelope written to the server.
type wireMessage struct {
	Kind      Kind   `json:"kind"`
	RoomID    RoomID `json:"roomId"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Encode renders m as a wire payload. Origin and Confirmed are not encoded.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(wireMessage{
		Kind:      m.Kind,
		RoomID:    m.RoomID,
		Sender:    m.Sender,
		Body:      m.Body,
		Timestamp: m.Timestamp,
		MessageID: m.ID,
	})
	if err != nil {
		return nil, WrapError(ErrorSerialization, "failed to encode message", err)
	}
	return data, nil
}

// Decode parses a wire payload. The returned message has OriginRemote.
// rejected is true when the payload carries a truthy "error" field.
//
// Any JSON object decodes. Envelope fields holding something other than a
// string are treated as absent.
func Decode(data []byte) (m Message, rejected bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Message{}, false, WrapError(ErrorSerialization, "failed to decode message", err)
	}
	if fields == nil {
		return Message{}, false, NewError(ErrorSerialization, "null payload")
	}
	m = Message{
		ID:        stringField(fields, "messageId"),
		Kind:      Kind(stringField(fields, "kind")),
		RoomID:    RoomID(stringField(fields, "roomId")),
		Sender:    stringField(fields, "sender"),
		Body:      stringField(fields, "body"),
		Timestamp: stringField(fields, "timestamp"),
		Origin:    OriginRemote,
	}
	return m, truthy(fields["error"]), nil
}

// stringField returns the string stored under key, or "" when the key is
// missing or holds another JSON type.
func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if err := json.Unmarshal(fields[key], &s); err != nil {
		return ""
	}
	return s
}

// truthy follows the loose truth rules of the chat server's JSON: null,
// false, zero and the empty string are false, anything else is true.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", `""`:
		return false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	return true
}

// inboundResult classifies a normalized inbound payload.
type inboundResult int

const (
	inboundAccepted inboundResult = iota
	inboundFallback
	inboundRejected
	inboundForeign
)

// normalizeInbound turns a raw payload received on a binding for room into a
// log entry. Undecodable payloads become a TALK from ServerSender carrying
// the raw text. A missing room is filled with the binding's room.
func normalizeInbound(raw []byte, room RoomID, now time.Time) (Message, inboundResult) {
	stamp := now.UTC().Format(TimestampLayout)
	m, rejected, err := Decode(raw)
	if err != nil {
		return Message{
			Kind:      KindTalk,
			RoomID:    room,
			Sender:    ServerSender,
			Body:      string(raw),
			Timestamp: stamp,
			Origin:    OriginRemote,
		}, inboundFallback
	}
	if rejected {
		return m, inboundRejected
	}
	if m.RoomID == "" {
		m.RoomID = room
	}
	if m.RoomID != room {
		return m, inboundForeign
	}
	if m.Timestamp == "" {
		m.Timestamp = stamp
	}
	return m, inboundAccepted
}
