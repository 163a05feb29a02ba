package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Wire-format event names.
const (
	TypeIdentifyUser = "identify-user"
	TypeJoinChat     = "join-chat"
	TypeLeaveChat    = "leave-chat"
	TypeSendMessage  = "send-message"
	TypeTyping       = "typing"
	TypeStopTyping   = "stop-typing"
	TypeInitiateCall = "initiate-call"
	TypeAcceptCall   = "accept-call"
	TypeRejectCall   = "reject-call"
	TypeEndCall      = "end-call"

	TypeWebRTCOffer        = "webrtc-offer"
	TypeWebRTCAnswer       = "webrtc-answer"
	TypeWebRTCICECandidate = "webrtc-ice-candidate"

	TypeReceiveMessage   = "receive-message"
	TypeUserTyping       = "user-typing"
	TypeUserStopTyping   = "user-stop-typing"
	TypeIncomingCall     = "incoming-call"
	TypeCallAccepted     = "call-accepted"
	TypeCallRejected     = "call-rejected"
	TypeCallFailed       = "call-failed"
	TypeCallEnded        = "call-ended"
	TypeUserDisconnected = "user-disconnected"
	TypeICEServers       = "ice-servers"
)

// Reasons carried by CallFailed and CallEnded.
const (
	ReasonOffline          = "offline"
	ReasonBusy             = "busy"
	ReasonSelfCall         = "self-call"
	ReasonNoAnswer         = "no-answer"
	ReasonTimeout          = "timeout"
	ReasonPeerDisconnected = "peer-disconnected"
)

// relayed holds the raw payload of an event that the relay forwards
// without interpreting it.
type relayed struct {
	raw json.RawMessage
}

// Data returns the payload bytes exactly as received.
func (r *relayed) Data() json.RawMessage { return r.raw }

// SetData replaces the payload written by Marshal.
func (r *relayed) SetData(data json.RawMessage) { r.raw = data }

// --- client -> relay ---

// IdentifyUser binds the sending connection to a stable user identity.
// The payload may be the bare identity string or {"userId": "..."}.
type IdentifyUser struct {
	UserID string `json:"userId"`
}

func (IdentifyUser) MessageType() string { return TypeIdentifyUser }

func (m *IdentifyUser) UnmarshalJSON(data []byte) error {
	type plain IdentifyUser
	return unmarshalStringOrObject(data, func(s string) { m.UserID = s }, (*plain)(m))
}

func (m *IdentifyUser) Validate() error {
	if m.UserID == "" {
		return missing("userId")
	}
	return nil
}

// JoinChat adds the sending connection to a room. The payload may be the
// bare room id or {"connectionId": "..."}.
type JoinChat struct {
	ConnectionID string `json:"connectionId"`
}

func (JoinChat) MessageType() string { return TypeJoinChat }

func (m *JoinChat) UnmarshalJSON(data []byte) error {
	type plain JoinChat
	return unmarshalStringOrObject(data, func(s string) { m.ConnectionID = s }, (*plain)(m))
}

func (m *JoinChat) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// LeaveChat removes the sending connection from a room.
type LeaveChat struct {
	ConnectionID string `json:"connectionId"`
}

func (LeaveChat) MessageType() string { return TypeLeaveChat }

func (m *LeaveChat) UnmarshalJSON(data []byte) error {
	type plain LeaveChat
	return unmarshalStringOrObject(data, func(s string) { m.ConnectionID = s }, (*plain)(m))
}

func (m *LeaveChat) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// SendMessage is a chat message for the other members of a room.
type SendMessage struct {
	relayed
	ConnectionID string `json:"connectionId"`
}

func (SendMessage) MessageType() string { return TypeSendMessage }

func (m *SendMessage) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// Typing signals that a user started typing in a room.
type Typing struct {
	relayed
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
}

func (Typing) MessageType() string { return TypeTyping }

func (m *Typing) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// StopTyping signals that a user stopped typing in a room.
type StopTyping struct {
	relayed
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
}

func (StopTyping) MessageType() string { return TypeStopTyping }

func (m *StopTyping) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// InitiateCall invites TargetUserID to a call scoped to a room.
type InitiateCall struct {
	ConnectionID string `json:"connectionId"`
	TargetUserID string `json:"targetUserId"`
	CallerName   string `json:"callerName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
}

func (InitiateCall) MessageType() string { return TypeInitiateCall }

func (m *InitiateCall) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	if m.TargetUserID == "" {
		return missing("targetUserId")
	}
	return nil
}

// AcceptCall answers a ringing call. CallerID is optional; when set it
// must match the ringing session's caller.
type AcceptCall struct {
	ConnectionID string `json:"connectionId"`
	CallerID     string `json:"callerId,omitempty"`
}

func (AcceptCall) MessageType() string { return TypeAcceptCall }

func (m *AcceptCall) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// RejectCall declines a ringing call.
type RejectCall struct {
	ConnectionID string `json:"connectionId"`
	CallerID     string `json:"callerId,omitempty"`
}

func (RejectCall) MessageType() string { return TypeRejectCall }

func (m *RejectCall) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// EndCall hangs up a ringing or active call.
type EndCall struct {
	ConnectionID string `json:"connectionId"`
}

func (EndCall) MessageType() string { return TypeEndCall }

func (m *EndCall) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// --- WebRTC signaling, identical in both directions ---

// WebRTCOffer carries an SDP offer. The rest of the payload is opaque.
type WebRTCOffer struct {
	relayed
	ConnectionID string `json:"connectionId"`
}

func (WebRTCOffer) MessageType() string { return TypeWebRTCOffer }

func (m *WebRTCOffer) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// WebRTCAnswer carries an SDP answer.
type WebRTCAnswer struct {
	relayed
	ConnectionID string `json:"connectionId"`
}

func (WebRTCAnswer) MessageType() string { return TypeWebRTCAnswer }

func (m *WebRTCAnswer) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// WebRTCICECandidate carries a trickle ICE candidate.
type WebRTCICECandidate struct {
	relayed
	ConnectionID string `json:"connectionId"`
}

func (WebRTCICECandidate) MessageType() string { return TypeWebRTCICECandidate }

func (m *WebRTCICECandidate) Validate() error {
	if m.ConnectionID == "" {
		return missing("connectionId")
	}
	return nil
}

// --- relay -> client ---

// ReceiveMessage delivers a chat message sent by another room member.
type ReceiveMessage struct {
	relayed
	ConnectionID string `json:"connectionId"`
}

func (ReceiveMessage) MessageType() string { return TypeReceiveMessage }

// UserTyping is the forwarded form of Typing.
type UserTyping struct {
	relayed
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
}

func (UserTyping) MessageType() string { return TypeUserTyping }

// UserStopTyping is the forwarded form of StopTyping.
type UserStopTyping struct {
	relayed
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
}

func (UserStopTyping) MessageType() string { return TypeUserStopTyping }

// IncomingCall notifies a callee of a call invitation, wherever they are
// connected from.
type IncomingCall struct {
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
	ConnectionID string `json:"connectionId"`
}

func (IncomingCall) MessageType() string { return TypeIncomingCall }

// CallAccepted tells the caller that the callee answered.
type CallAccepted struct {
	ConnectionID string `json:"connectionId"`
}

func (CallAccepted) MessageType() string { return TypeCallAccepted }

// CallRejected tells the caller that the callee declined.
type CallRejected struct {
	ConnectionID string `json:"connectionId"`
}

func (CallRejected) MessageType() string { return TypeCallRejected }

// CallFailed tells the caller that no session was created, or that a
// ringing session expired.
type CallFailed struct {
	ConnectionID string `json:"connectionId,omitempty"`
	Reason       string `json:"reason"`
}

func (CallFailed) MessageType() string { return TypeCallFailed }

// CallEnded tells a participant that the call is over.
type CallEnded struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason,omitempty"`
}

func (CallEnded) MessageType() string { return TypeCallEnded }

// UserDisconnected is a best-effort presence signal broadcast when a user
// goes offline.
type UserDisconnected struct {
	UserID string `json:"userId"`
}

func (UserDisconnected) MessageType() string { return TypeUserDisconnected }

// ICEServers hands the client the STUN/TURN servers to use for its peer
// connection. It is sent right after identify-user.
type ICEServers struct {
	Servers []webrtc.ICEServer `json:"iceServers"`
}

func (ICEServers) MessageType() string { return TypeICEServers }
