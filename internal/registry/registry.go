// Package registry keeps the in-memory table of active class rooms and the
// participants connected to each of them.
package registry

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrInvalidParticipant  = errors.New("participant needs session, user and connection ids")
	ErrDuplicateConnection = errors.New("connection already registered in room")
)

// Role is the classroom role of a participant.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Participant is one open connection in a room.
type Participant struct {
	SessionID    string
	UserID       string
	ConnectionID string
	Role         Role
	DisplayName  string
	JoinedAt     time.Time
}

// room holds its members in join order.
type room struct {
	members []Participant
}

func (r *room) index(connectionID string) int {
	for i := range r.members {
		if r.members[i].ConnectionID == connectionID {
			return i
		}
	}
	return -1
}

// Registry maps session ids to rooms. Rooms are created on first join and
// removed when the last participant leaves.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join adds p to the room and returns the roster as it was before the join.
func (r *Registry) Join(sessionID string, p Participant) ([]Participant, error) {
	if sessionID == "" || p.UserID == "" || p.ConnectionID == "" {
		return nil, ErrInvalidParticipant
	}
	p.SessionID = sessionID
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		rm = &room{}
		r.rooms[sessionID] = rm
	}
	if rm.index(p.ConnectionID) >= 0 {
		return nil, ErrDuplicateConnection
	}

	existing := make([]Participant, len(rm.members))
	copy(existing, rm.members)
	rm.members = append(rm.members, p)
	return existing, nil
}

// Leave removes the connection from the room. The returned bool is false when
// the connection was not registered there.
func (r *Registry) Leave(sessionID, connectionID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return Participant{}, false
	}
	i := rm.index(connectionID)
	if i < 0 {
		return Participant{}, false
	}
	p := rm.members[i]
	rm.members = append(rm.members[:i], rm.members[i+1:]...)
	if len(rm.members) == 0 {
		delete(r.rooms, sessionID)
	}
	return p, true
}

// ListActive returns a snapshot of the room's participants in join order.
func (r *Registry) ListActive(sessionID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}
	out := make([]Participant, len(rm.members))
	copy(out, rm.members)
	return out
}

// Lookup finds a connection inside a room.
func (r *Registry) Lookup(sessionID, connectionID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return Participant{}, false
	}
	i := rm.index(connectionID)
	if i < 0 {
		return Participant{}, false
	}
	return rm.members[i], true
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rm := range r.rooms {
		n += len(rm.members)
	}
	return n
}
