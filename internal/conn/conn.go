// Package conn defines the handle that identifies one live transport
// connection to the relay.
package conn

import "github.com/google/uuid"

// ID is an opaque connection handle. It is assigned when a client connects
// and is never reused after that connection closes.
type ID string

// NewID returns a fresh random connection handle.
func NewID() ID {
	return ID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }
