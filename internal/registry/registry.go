// Package registry tracks per-connection metadata: the display name and room
// binding of every live transport connection.
//
// The registry is the exclusive owner of connection metadata; room membership
// itself is owned by the room store.
package registry

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateConnection indicates a transport bug: connection identifiers
	// must be unique for the lifetime of the process.
	ErrDuplicateConnection = errors.New("connection already registered")

	// ErrUnknownConnection indicates a lookup for a connection that was never
	// registered or has already been removed.
	ErrUnknownConnection = errors.New("unknown connection")
)

type entry struct {
	displayName string
	roomID      string
}

type Registry struct {
	mu    sync.Mutex
	conns map[string]*entry
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
	}
}

// Register creates an entry for a freshly connected transport connection,
// with no display name and no room.
func (r *Registry) Register(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; ok {
		return ErrDuplicateConnection
	}
	r.conns[connID] = &entry{}
	return nil
}

// SetIdentity binds a display name and room to a registered connection.
func (r *Registry) SetIdentity(connID, displayName, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	e.displayName = displayName
	e.roomID = roomID
	return nil
}

// ClearIdentity drops the display name and room binding but keeps the
// connection registered. Used on explicit leave-room: the connection stays
// alive and may create or join another room.
func (r *Registry) ClearIdentity(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	e.displayName = ""
	e.roomID = ""
	return nil
}

// RoomID returns the room the connection is currently bound to ("" if none).
func (r *Registry) RoomID(connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return "", ErrUnknownConnection
	}
	return e.roomID, nil
}

// Unregister removes the connection and returns its last room binding ("" if
// none). Called exactly once per connection, on transport disconnect.
func (r *Registry) Unregister(connID string) (roomID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return "", ErrUnknownConnection
	}
	delete(r.conns, connID)
	return e.roomID, nil
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
