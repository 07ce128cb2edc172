package registry

import "time"

// EventKind tells a join from a leave.
type EventKind int

const (
	EventJoined EventKind = iota + 1
	EventLeft
)

func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	}
	return "unknown"
}

// Event is a presence delta, emitted in the order the room processed it.
type Event struct {
	Kind        EventKind
	Participant Participant
	At          time.Time
}
