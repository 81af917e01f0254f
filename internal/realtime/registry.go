package realtime

import (
	"fmt"

	"github.com/samber/lo"
)

type set[K comparable] map[K]struct{}

// Registry is the ground truth for who is physically connected right now.
// It is not safe for concurrent use; the Engine goroutine owns it.
type Registry struct {
	connections map[ConnID]*Connection
	byUser      map[UserID]set[ConnID]
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[ConnID]*Connection),
		byUser:      make(map[UserID]set[ConnID]),
	}
}

func (r *Registry) Register(conn *Connection) error {
	if _, exists := r.connections[conn.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, conn.ID)
	}
	r.connections[conn.ID] = conn

	if _, ok := r.byUser[conn.UserID]; !ok {
		r.byUser[conn.UserID] = make(set[ConnID])
	}
	r.byUser[conn.UserID][conn.ID] = struct{}{}
	return nil
}

// Unregister is idempotent. It returns the removed connection, or nil.
func (r *Registry) Unregister(id ConnID) *Connection {
	conn, ok := r.connections[id]
	if !ok {
		return nil
	}
	delete(r.connections, id)

	if conns, ok := r.byUser[conn.UserID]; ok {
		delete(conns, id)
		// No empty sets left behind
		if len(conns) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	return conn
}

func (r *Registry) Get(id ConnID) (*Connection, bool) {
	conn, ok := r.connections[id]
	return conn, ok
}

func (r *Registry) IsUserOnline(userID UserID) bool {
	return len(r.byUser[userID]) > 0
}

func (r *Registry) ConnectionsFor(userID UserID) []ConnID {
	return lo.Keys(r.byUser[userID])
}

func (r *Registry) Len() int {
	return len(r.connections)
}
