// Package relay routes inbound client events to their recipients.
//
// The Dispatcher owns no transport. It consults the presence registry, the
// room membership index and the call table to work out who an event is for,
// then hands outbound events to a Sender. Chat traffic is broadcast to the
// other members of a room; call control and WebRTC signaling are addressed
// to a user identity and resolved to that user's current connection at send
// time, so a user who reconnects mid-call keeps receiving them.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/kuuji/swaprelay/internal/calls"
	"github.com/kuuji/swaprelay/internal/conn"
	"github.com/kuuji/swaprelay/internal/presence"
	"github.com/kuuji/swaprelay/internal/rooms"
	"github.com/kuuji/swaprelay/pkg/protocol"
)

// Sender delivers outbound events to live connections.
type Sender interface {
	// Send queues msg for delivery on connection to.
	Send(to conn.ID, msg protocol.Message) error

	// Broadcast queues msg for every live connection except one.
	Broadcast(except conn.ID, msg protocol.Message)
}

// ICEServerFunc returns the ICE servers handed to user after identify-user.
type ICEServerFunc func(user string) []webrtc.ICEServer

// Config holds the collaborators of a Dispatcher.
type Config struct {
	Registry *presence.Registry
	Rooms    *rooms.Membership
	Calls    *calls.Table
	Sender   Sender

	// ICEServers is optional. When set, its result is sent to each client
	// as an ice-servers event right after the client identifies.
	ICEServers ICEServerFunc

	// RingTimeout bounds how long a call may ring unanswered. Zero disables
	// the timeout and a ringing call lasts until it is answered, ended or a
	// participant disconnects.
	RingTimeout time.Duration

	// Logger is the structured logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Dispatcher routes events between connections. All handlers run under a
// single lock so no handler observes another's partial update.
type Dispatcher struct {
	mu sync.Mutex

	registry    *presence.Registry
	rooms       *rooms.Membership
	calls       *calls.Table
	sender      Sender
	iceServers  ICEServerFunc
	ringTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// New creates a Dispatcher. Nil state collaborators are replaced with empty
// ones.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	d := &Dispatcher{
		registry:    cfg.Registry,
		rooms:       cfg.Rooms,
		calls:       cfg.Calls,
		sender:      cfg.Sender,
		iceServers:  cfg.ICEServers,
		ringTimeout: cfg.RingTimeout,
		now:         now,
		log:         logger.With("component", "relay"),
	}
	if d.registry == nil {
		d.registry = presence.NewRegistry()
	}
	if d.rooms == nil {
		d.rooms = rooms.NewMembership()
	}
	if d.calls == nil {
		d.calls = calls.NewTable()
	}
	return d
}

// Handle processes one inbound event from connection from.
func (d *Dispatcher) Handle(from conn.ID, msg protocol.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.IdentifyUser:
		d.identify(from, m)
	case *protocol.JoinChat:
		if d.rooms.Join(from, m.ConnectionID) {
			d.log.Debug("joined room", "conn_id", from, "room", m.ConnectionID)
		}
	case *protocol.LeaveChat:
		d.rooms.Leave(from, m.ConnectionID)
		d.log.Debug("left room", "conn_id", from, "room", m.ConnectionID)

	case *protocol.SendMessage:
		out := &protocol.ReceiveMessage{ConnectionID: m.ConnectionID}
		out.SetData(m.Data())
		d.relayToRoom(from, m.ConnectionID, out)
	case *protocol.Typing:
		out := &protocol.UserTyping{ConnectionID: m.ConnectionID, UserID: m.UserID}
		out.SetData(m.Data())
		d.relayToRoom(from, m.ConnectionID, out)
	case *protocol.StopTyping:
		out := &protocol.UserStopTyping{ConnectionID: m.ConnectionID, UserID: m.UserID}
		out.SetData(m.Data())
		d.relayToRoom(from, m.ConnectionID, out)

	case *protocol.InitiateCall:
		d.initiateCall(from, m)
	case *protocol.AcceptCall:
		d.acceptCall(from, m)
	case *protocol.RejectCall:
		d.rejectCall(from, m)
	case *protocol.EndCall:
		d.endCall(from, m)

	case *protocol.WebRTCOffer:
		d.relayToPeer(from, m.ConnectionID, m)
	case *protocol.WebRTCAnswer:
		d.relayToPeer(from, m.ConnectionID, m)
	case *protocol.WebRTCICECandidate:
		d.relayToPeer(from, m.ConnectionID, m)

	default:
		d.log.Warn("dropping unexpected event", "conn_id", from, "type", msg.MessageType())
	}
}

// Disconnect cleans up after a closed connection: it leaves every room,
// drops the identity mapping and, if the user is now offline, ends their
// calls and announces their departure.
func (d *Dispatcher) Disconnect(c conn.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	left := d.rooms.LeaveAll(c)
	user, offline := d.registry.Forget(c)

	d.log.Debug("connection state released", "conn_id", c, "user_id", user, "rooms", len(left))
	if offline {
		d.log.Info("user offline", "user_id", user)
		d.wentOffline(user, c)
	}
}

// ExpireRinging ends calls that have rung longer than the ring timeout.
// The caller is told the call failed and the callee that it ended.
func (d *Dispatcher) ExpireRinging() {
	if d.ringTimeout <= 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range d.calls.ExpireRinging(d.now().Add(-d.ringTimeout)) {
		d.log.Info("call unanswered", "room", s.Room, "caller", s.Caller, "callee", s.Callee)
		d.sendToUser(s.Caller, &protocol.CallFailed{ConnectionID: s.Room, Reason: protocol.ReasonNoAnswer})
		d.sendToUser(s.Callee, &protocol.CallEnded{ConnectionID: s.Room, Reason: protocol.ReasonTimeout})
	}
}

// Run expires unanswered calls until ctx is cancelled. It returns
// immediately when no ring timeout is configured.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.ringTimeout <= 0 {
		return nil
	}

	interval := d.ringTimeout / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.ExpireRinging()
		}
	}
}

// Snapshot is a point-in-time view of relay state.
type Snapshot struct {
	Users []string

	// UserRooms lists the rooms joined by each online user's current
	// connection. Users without rooms are omitted.
	UserRooms map[string][]string

	Rooms int
	Calls []calls.Session
}

// Snapshot returns the current relay state.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	users := d.registry.Users()
	userRooms := make(map[string][]string)
	for _, u := range users {
		c, ok := d.registry.Resolve(u)
		if !ok {
			continue
		}
		if joined := d.rooms.RoomsOf(c); len(joined) > 0 {
			userRooms[u] = joined
		}
	}

	return Snapshot{
		Users:     users,
		UserRooms: userRooms,
		Rooms:     d.rooms.Rooms(),
		Calls:     d.calls.Sessions(),
	}
}

func (d *Dispatcher) identify(from conn.ID, m *protocol.IdentifyUser) {
	displaced := d.registry.Identify(from, m.UserID)
	d.log.Info("user identified", "conn_id", from, "user_id", m.UserID)

	if displaced != "" {
		d.wentOffline(displaced, from)
	}

	if d.iceServers == nil {
		return
	}
	if servers := d.iceServers(m.UserID); len(servers) > 0 {
		d.send(from, &protocol.ICEServers{Servers: servers})
	}
}

// wentOffline ends every call user takes part in and tells everyone else
// that user left. except is the connection that triggered it.
func (d *Dispatcher) wentOffline(user string, except conn.ID) {
	for _, s := range d.calls.Drop(user) {
		d.log.Info("call ended by disconnect", "room", s.Room, "user_id", user, "state", s.State)
		d.sendToUser(s.Peer(user), &protocol.CallEnded{
			ConnectionID: s.Room,
			Reason:       protocol.ReasonPeerDisconnected,
		})
	}
	d.sender.Broadcast(except, &protocol.UserDisconnected{UserID: user})
}

func (d *Dispatcher) relayToRoom(from conn.ID, room string, out protocol.Message) {
	for _, c := range d.rooms.Members(room, from) {
		d.send(c, out)
	}
}

// relayToPeer forwards WebRTC signaling to the other participant of the
// room's call, resolved by identity.
func (d *Dispatcher) relayToPeer(from conn.ID, room string, out protocol.Message) {
	user, ok := d.registry.IdentityOf(from)
	if !ok {
		d.log.Warn("dropping signaling from unidentified connection", "conn_id", from, "type", out.MessageType())
		return
	}

	s, ok := d.calls.Get(room)
	if !ok || !s.Involves(user) {
		d.log.Debug("dropping signaling outside a call", "room", room, "user_id", user, "type", out.MessageType())
		return
	}

	if !d.sendToUser(s.Peer(user), out) {
		d.log.Debug("signaling peer offline", "room", room, "peer", s.Peer(user), "type", out.MessageType())
	}
}

func (d *Dispatcher) initiateCall(from conn.ID, m *protocol.InitiateCall) {
	caller, ok := d.registry.IdentityOf(from)
	if !ok {
		d.log.Warn("dropping initiate-call from unidentified connection", "conn_id", from, "room", m.ConnectionID)
		return
	}

	target, online := d.registry.Resolve(m.TargetUserID)
	if !online {
		d.log.Info("call target offline", "room", m.ConnectionID, "caller", caller, "callee", m.TargetUserID)
		d.send(from, &protocol.CallFailed{ConnectionID: m.ConnectionID, Reason: protocol.ReasonOffline})
		return
	}

	info := calls.CallerInfo{Name: m.CallerName, Avatar: m.CallerAvatar}
	s, err := d.calls.Begin(m.ConnectionID, caller, m.TargetUserID, info, d.now())
	if err != nil {
		reason := protocol.ReasonBusy
		if errors.Is(err, calls.ErrSelfCall) {
			reason = protocol.ReasonSelfCall
		}
		d.log.Info("call refused", "room", m.ConnectionID, "caller", caller, "error", err)
		d.send(from, &protocol.CallFailed{ConnectionID: m.ConnectionID, Reason: reason})
		return
	}

	d.log.Info("call ringing", "room", s.Room, "caller", s.Caller, "callee", s.Callee)
	d.send(target, &protocol.IncomingCall{
		CallerID:     s.Caller,
		CallerName:   s.CallerInfo.Name,
		CallerAvatar: s.CallerInfo.Avatar,
		ConnectionID: s.Room,
	})
}

func (d *Dispatcher) acceptCall(from conn.ID, m *protocol.AcceptCall) {
	user, ok := d.registry.IdentityOf(from)
	if !ok || !d.callerMatches(m.ConnectionID, m.CallerID) {
		d.log.Debug("ignoring accept-call", "conn_id", from, "room", m.ConnectionID)
		return
	}

	s, ok := d.calls.Accept(m.ConnectionID, user, d.now())
	if !ok {
		d.log.Debug("ignoring stale accept-call", "room", m.ConnectionID, "user_id", user)
		return
	}

	d.log.Info("call accepted", "room", s.Room, "caller", s.Caller, "callee", s.Callee)
	d.sendToUser(s.Caller, &protocol.CallAccepted{ConnectionID: s.Room})
}

func (d *Dispatcher) rejectCall(from conn.ID, m *protocol.RejectCall) {
	user, ok := d.registry.IdentityOf(from)
	if !ok || !d.callerMatches(m.ConnectionID, m.CallerID) {
		d.log.Debug("ignoring reject-call", "conn_id", from, "room", m.ConnectionID)
		return
	}

	s, ok := d.calls.Reject(m.ConnectionID, user)
	if !ok {
		d.log.Debug("ignoring stale reject-call", "room", m.ConnectionID, "user_id", user)
		return
	}

	d.log.Info("call rejected", "room", s.Room, "caller", s.Caller, "callee", s.Callee)
	d.sendToUser(s.Caller, &protocol.CallRejected{ConnectionID: s.Room})
}

func (d *Dispatcher) endCall(from conn.ID, m *protocol.EndCall) {
	user, ok := d.registry.IdentityOf(from)
	if !ok {
		d.log.Debug("ignoring end-call from unidentified connection", "conn_id", from, "room", m.ConnectionID)
		return
	}

	s, ok := d.calls.End(m.ConnectionID, user)
	if !ok {
		d.log.Debug("ignoring stale end-call", "room", m.ConnectionID, "user_id", user)
		return
	}
	d.log.Info("call ended", "room", s.Room, "by", user)

	// Everyone else in the room hears about it, and so does the other
	// party even if they never joined the room (e.g. still ringing
	// elsewhere in the app).
	out := &protocol.CallEnded{ConnectionID: s.Room}
	for _, c := range d.rooms.Members(s.Room, from) {
		d.send(c, out)
	}
	if pc, ok := d.registry.Resolve(s.Peer(user)); ok && pc != from && !d.rooms.Has(s.Room, pc) {
		d.send(pc, out)
	}
}

// callerMatches reports whether an optional caller id from an accept or
// reject event agrees with the room's session.
func (d *Dispatcher) callerMatches(room, callerID string) bool {
	if callerID == "" {
		return true
	}
	s, ok := d.calls.Get(room)
	return ok && s.Caller == callerID
}

// sendToUser delivers msg to user's current connection. It reports false
// when the user is offline.
func (d *Dispatcher) sendToUser(user string, msg protocol.Message) bool {
	c, ok := d.registry.Resolve(user)
	if !ok {
		return false
	}
	d.send(c, msg)
	return true
}

func (d *Dispatcher) send(to conn.ID, msg protocol.Message) {
	if err := d.sender.Send(to, msg); err != nil {
		d.log.Debug("send failed", "conn_id", to, "type", msg.MessageType(), "error", err)
	}
}
