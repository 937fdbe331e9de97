package realtime

import (
	"sync"
)

// Registry tracks which rooms each connection has joined. Membership is
// connection-scoped and ephemeral: created on join, gone on disconnect,
// never persisted. All methods are safe for concurrent use and a leave is
// visible to every Members call that starts after it returns.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn
	conns map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Conn),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to a room. Joining the same room twice is a
// no-op. A connection may belong to many rooms at once.
func (r *Registry) Join(c Conn, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[room] = members
	}
	members[c.ID()] = c

	joined, ok := r.conns[c.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.conns[c.ID()] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes the connection from one room.
func (r *Registry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, room)
}

// LeaveAll removes the connection from every room it joined; called on
// disconnect. O(1) amortized per room, so high connection churn cannot leak
// memberships.
func (r *Registry) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.conns[connID] {
		r.leaveLocked(connID, room)
	}
}

func (r *Registry) leaveLocked(connID, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.conns[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.conns, connID)
		}
	}
}

// Members returns the connections currently in the room.
func (r *Registry) Members(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Rooms returns the rooms the connection has joined.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	joined := r.conns[connID]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	return out
}
