// Package protocol defines the events exchanged between swaprelay and its
// clients over a persistent WebSocket connection.
//
// Every frame is a JSON object with a "type" discriminator naming the event
// and a "data" field carrying the event payload:
//
//	{"type": "send-message", "data": {"connectionId": "r1", "content": "hi"}}
//
// Payloads of relayed events (chat messages, typing indicators, WebRTC
// signaling) are opaque to the relay. Their raw "data" bytes are preserved
// on decode and written back unchanged when the event is forwarded.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingField is returned by Unmarshal when an event lacks a field
// needed to route it.
var ErrMissingField = errors.New("missing required field")

// Message is the interface implemented by all protocol events.
type Message interface {
	// MessageType returns the wire-format type string (e.g. "join-chat").
	MessageType() string
}

// frame is the on-the-wire envelope of every event.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// rawCarrier is implemented by events whose payload is forwarded verbatim.
type rawCarrier interface {
	Message
	Data() json.RawMessage
	SetData(json.RawMessage)
}

// validator is implemented by inbound events with required routing fields.
type validator interface {
	Validate() error
}

// messageTypes maps wire-format type strings to factory functions
// that produce zero-value pointers of the corresponding message type.
var messageTypes = map[string]func() Message{
	// client -> relay
	TypeIdentifyUser: func() Message { return &IdentifyUser{} },
	TypeJoinChat:     func() Message { return &JoinChat{} },
	TypeLeaveChat:    func() Message { return &LeaveChat{} },
	TypeSendMessage:  func() Message { return &SendMessage{} },
	TypeTyping:       func() Message { return &Typing{} },
	TypeStopTyping:   func() Message { return &StopTyping{} },
	TypeInitiateCall: func() Message { return &InitiateCall{} },
	TypeAcceptCall:   func() Message { return &AcceptCall{} },
	TypeRejectCall:   func() Message { return &RejectCall{} },
	TypeEndCall:      func() Message { return &EndCall{} },

	// both directions
	TypeWebRTCOffer:        func() Message { return &WebRTCOffer{} },
	TypeWebRTCAnswer:       func() Message { return &WebRTCAnswer{} },
	TypeWebRTCICECandidate: func() Message { return &WebRTCICECandidate{} },

	// relay -> client
	TypeReceiveMessage:   func() Message { return &ReceiveMessage{} },
	TypeUserTyping:       func() Message { return &UserTyping{} },
	TypeUserStopTyping:   func() Message { return &UserStopTyping{} },
	TypeIncomingCall:     func() Message { return &IncomingCall{} },
	TypeCallAccepted:     func() Message { return &CallAccepted{} },
	TypeCallRejected:     func() Message { return &CallRejected{} },
	TypeCallFailed:       func() Message { return &CallFailed{} },
	TypeCallEnded:        func() Message { return &CallEnded{} },
	TypeUserDisconnected: func() Message { return &UserDisconnected{} },
	TypeICEServers:       func() Message { return &ICEServers{} },
}

// Marshal serializes a Message into a frame. Relayed events write their
// preserved payload bytes unchanged.
func Marshal(msg Message) ([]byte, error) {
	var data json.RawMessage
	if rc, ok := msg.(rawCarrier); ok && len(rc.Data()) > 0 {
		data = rc.Data()
	} else {
		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshaling %q payload: %w", msg.MessageType(), err)
		}
		data = raw
	}

	return json.Marshal(frame{Type: msg.MessageType(), Data: data})
}

// Unmarshal deserializes a frame, using the "type" discriminator to decode
// the payload into the correct concrete Message type. Inbound events missing
// a routing field are rejected with an error wrapping ErrMissingField.
func Unmarshal(data []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	factory, ok := messageTypes[f.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %q", f.Type)
	}

	msg := factory()
	if len(f.Data) > 0 && string(f.Data) != "null" {
		if err := json.Unmarshal(f.Data, msg); err != nil {
			return nil, fmt.Errorf("decoding %q payload: %w", f.Type, err)
		}
	}
	if rc, ok := msg.(rawCarrier); ok {
		rc.SetData(append(json.RawMessage(nil), f.Data...))
	}

	if v, ok := msg.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %q event: %w", f.Type, err)
		}
	}

	return msg, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

// unmarshalStringOrObject decodes data that is either a bare JSON string or
// an object. Bare strings are stored through set.
func unmarshalStringOrObject(data []byte, set func(string), obj any) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		set(s)
		return nil
	}
	return json.Unmarshal(data, obj)
}
