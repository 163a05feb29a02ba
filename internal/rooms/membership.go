// Package rooms tracks which connections have joined which rooms.
//
// A room exists only while it has at least one member. Operations on
// unknown rooms or connections are no-ops: the relay does not decide which
// relationships are valid.
package rooms

import (
	"sort"
	"sync"

	"github.com/kuuji/swaprelay/internal/conn"
)

// Membership is the room <-> connection index.
type Membership struct {
	mu      sync.RWMutex
	members map[string]map[conn.ID]struct{}
	joined  map[conn.ID]map[string]struct{}
}

// NewMembership returns an empty Membership.
func NewMembership() *Membership {
	return &Membership{
		members: make(map[string]map[conn.ID]struct{}),
		joined:  make(map[conn.ID]map[string]struct{}),
	}
}

// Join adds c to room. It reports whether c was not already a member.
func (m *Membership) Join(c conn.ID, room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.members[room]
	if set == nil {
		set = make(map[conn.ID]struct{})
		m.members[room] = set
	}
	if _, ok := set[c]; ok {
		return false
	}
	set[c] = struct{}{}

	rs := m.joined[c]
	if rs == nil {
		rs = make(map[string]struct{})
		m.joined[c] = rs
	}
	rs[room] = struct{}{}
	return true
}

// Leave removes c from room, deleting the room if it becomes empty.
func (m *Membership) Leave(c conn.ID, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(c, room)
}

// LeaveAll removes c from every room it joined and returns those rooms.
func (m *Membership) LeaveAll(c conn.ID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	left := make([]string, 0, len(m.joined[c]))
	for room := range m.joined[c] {
		left = append(left, room)
	}
	for _, room := range left {
		m.leaveLocked(c, room)
	}
	sort.Strings(left)
	return left
}

func (m *Membership) leaveLocked(c conn.ID, room string) {
	if set, ok := m.members[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(m.members, room)
		}
	}
	if rs, ok := m.joined[c]; ok {
		delete(rs, room)
		if len(rs) == 0 {
			delete(m.joined, c)
		}
	}
}

// Members returns the connections in room other than except. Pass an empty
// ID to get every member.
func (m *Membership) Members(room string, except conn.ID) []conn.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.members[room]
	out := make([]conn.ID, 0, len(set))
	for c := range set {
		if c == except {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Has reports whether c is a member of room.
func (m *Membership) Has(room string, c conn.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[room][c]
	return ok
}

// RoomsOf returns the rooms c has joined, sorted.
func (m *Membership) RoomsOf(c conn.ID) []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.joined[c]))
	for room := range m.joined[c] {
		out = append(out, room)
	}
	m.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Rooms returns the number of non-empty rooms.
func (m *Membership) Rooms() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}
