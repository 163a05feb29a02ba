// Package presence maps stable user identities to the live connection each
// user is currently reachable on.
package presence

import (
	"sort"
	"sync"

	"github.com/kuuji/swaprelay/internal/conn"
)

// Registry is a bidirectional identity <-> connection map with one live
// connection per identity. A later Identify for the same identity replaces
// the earlier mapping.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]conn.ID
	byConn map[conn.ID]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]conn.ID),
		byConn: make(map[conn.ID]string),
	}
}

// Identify binds c to user. Any connection previously bound to user loses
// its identity. If c was previously identified as a different user whose
// mapping still pointed at c, that user is unmapped and returned so the
// caller can treat it as having gone offline.
func (r *Registry) Identify(c conn.ID, user string) (displaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[c]; ok && prev != user {
		if r.byUser[prev] == c {
			delete(r.byUser, prev)
			displaced = prev
		}
	}

	if old, ok := r.byUser[user]; ok && old != c {
		delete(r.byConn, old)
	}

	r.byUser[user] = c
	r.byConn[c] = user
	return displaced
}

// Resolve returns the live connection of user. The boolean is false when
// the user is offline.
func (r *Registry) Resolve(user string) (conn.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[user]
	return c, ok
}

// IdentityOf returns the identity bound to c, if any.
func (r *Registry) IdentityOf(c conn.ID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byConn[c]
	return user, ok
}

// Forget drops c from the registry. The identity mapping is removed only if
// it still points at c; offline reports whether that happened, which is
// false when the user has since identified from another connection.
func (r *Registry) Forget(c conn.ID) (user string, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byConn[c]
	if !ok {
		return "", false
	}
	delete(r.byConn, c)

	if r.byUser[user] == c {
		delete(r.byUser, user)
		return user, true
	}
	return user, false
}

// Online returns the number of identified users.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Users returns the identities currently online, sorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		users = append(users, u)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	return users
}
