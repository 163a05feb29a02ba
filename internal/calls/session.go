// Package calls implements the per-room call session state machine.
//
// A room has at most one session. Sessions are created ringing, become
// active when the callee accepts, and are removed on any terminal
// transition (end, reject, disconnect, ring timeout). Participants are
// stored by identity, never by connection, so a reconnect during a call
// does not disturb the session.
package calls

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// State is the lifecycle state of a live session. Terminal states are not
// represented: a terminated session is simply removed from the table.
type State int

const (
	// StateRinging means the invitation was delivered and the callee has
	// not answered yet.
	StateRinging State = iota + 1

	// StateActive means the callee accepted and the peers are negotiating
	// or exchanging media.
	StateActive
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

var (
	// ErrBusy is returned by Begin when the room already has a session.
	ErrBusy = errors.New("room already has a call in progress")

	// ErrSelfCall is returned by Begin when caller and callee are the same.
	ErrSelfCall = errors.New("caller and callee are the same user")
)

// CallerInfo is the display information shown to the callee.
type CallerInfo struct {
	Name   string
	Avatar string
}

// Session is a snapshot of one call attempt.
type Session struct {
	Room       string
	Caller     string
	Callee     string
	CallerInfo CallerInfo
	State      State
	CreatedAt  time.Time
	AnsweredAt time.Time
}

// Peer returns the other participant relative to user, or "" if user is
// not part of the session.
func (s Session) Peer(user string) string {
	switch user {
	case s.Caller:
		return s.Callee
	case s.Callee:
		return s.Caller
	default:
		return ""
	}
}

// Involves reports whether user is the caller or the callee.
func (s Session) Involves(user string) bool {
	return user != "" && (user == s.Caller || user == s.Callee)
}

// Table holds every live session, indexed by room and by participant.
type Table struct {
	mu     sync.Mutex
	byRoom map[string]*Session
	byUser map[string]map[string]struct{}
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		byRoom: make(map[string]*Session),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Begin creates a ringing session for room.
func (t *Table) Begin(room, caller, callee string, info CallerInfo, now time.Time) (Session, error) {
	if caller == callee {
		return Session{}, ErrSelfCall
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byRoom[room]; ok {
		return Session{}, ErrBusy
	}

	s := &Session{
		Room:       room,
		Caller:     caller,
		Callee:     callee,
		CallerInfo: info,
		State:      StateRinging,
		CreatedAt:  now,
	}
	t.byRoom[room] = s
	t.index(caller, room)
	t.index(callee, room)
	return *s, nil
}

// Accept moves the ringing session of room to active. It is a no-op unless
// the session is ringing and callee is its callee.
func (t *Table) Accept(room, callee string, now time.Time) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byRoom[room]
	if !ok || s.State != StateRinging || s.Callee != callee {
		return Session{}, false
	}
	s.State = StateActive
	s.AnsweredAt = now
	return *s, true
}

// Reject removes the ringing session of room. It is a no-op unless the
// session is ringing and callee is its callee.
func (t *Table) Reject(room, callee string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byRoom[room]
	if !ok || s.State != StateRinging || s.Callee != callee {
		return Session{}, false
	}
	t.removeLocked(s)
	return *s, true
}

// End removes the session of room if party takes part in it.
func (t *Table) End(room, party string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byRoom[room]
	if !ok || !s.Involves(party) {
		return Session{}, false
	}
	t.removeLocked(s)
	return *s, true
}

// Drop removes every session user takes part in. It is used when the user
// goes offline.
func (t *Table) Drop(user string) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dropped []Session
	for room := range t.byUser[user] {
		if s, ok := t.byRoom[room]; ok {
			dropped = append(dropped, *s)
		}
	}
	for i := range dropped {
		t.removeLocked(t.byRoom[dropped[i].Room])
	}
	sortByRoom(dropped)
	return dropped
}

// ExpireRinging removes ringing sessions created before cutoff.
func (t *Table) ExpireRinging(cutoff time.Time) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Session
	for _, s := range t.byRoom {
		if s.State == StateRinging && s.CreatedAt.Before(cutoff) {
			expired = append(expired, *s)
		}
	}
	for i := range expired {
		t.removeLocked(t.byRoom[expired[i].Room])
	}
	sortByRoom(expired)
	return expired
}

// Get returns the session of room.
func (t *Table) Get(room string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byRoom[room]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns every live session, sorted by room.
func (t *Table) Sessions() []Session {
	t.mu.Lock()
	out := make([]Session, 0, len(t.byRoom))
	for _, s := range t.byRoom {
		out = append(out, *s)
	}
	t.mu.Unlock()

	sortByRoom(out)
	return out
}

func (t *Table) index(user, room string) {
	rooms := t.byUser[user]
	if rooms == nil {
		rooms = make(map[string]struct{})
		t.byUser[user] = rooms
	}
	rooms[room] = struct{}{}
}

func (t *Table) unindex(user, room string) {
	rooms := t.byUser[user]
	delete(rooms, room)
	if len(rooms) == 0 {
		delete(t.byUser, user)
	}
}

func (t *Table) removeLocked(s *Session) {
	delete(t.byRoom, s.Room)
	t.unindex(s.Caller, s.Room)
	t.unindex(s.Callee, s.Room)
}

func sortByRoom(ss []Session) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].Room < ss[j].Room })
}
