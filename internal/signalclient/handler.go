package signalclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/protocol"
)

// Event is one decoded gateway message. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type string

	Joined      *protocol.JoinedPayload
	Participant *protocol.ParticipantInfo
	Left        *protocol.ParticipantLeftPayload
	Offer       *protocol.OfferPayload
	Answer      *protocol.AnswerPayload
	Candidate   *protocol.ICECandidatePayload
	Chat        *protocol.ChatPayload
	Marked      *protocol.AttendanceMarkedPayload
	Ended       *protocol.ClassEndedPayload
	Error       *protocol.ErrorPayload
}

// Decode turns a gateway message into an Event.
func Decode(msg *protocol.Message) (Event, error) {
	ev := Event{Type: msg.Type}
	var target any
	switch msg.Type {
	case protocol.TypeJoined:
		ev.Joined = &protocol.JoinedPayload{}
		target = ev.Joined
	case protocol.TypeParticipantJoined:
		ev.Participant = &protocol.ParticipantInfo{}
		target = ev.Participant
	case protocol.TypeParticipantLeft:
		ev.Left = &protocol.ParticipantLeftPayload{}
		target = ev.Left
	case protocol.TypeOffer:
		ev.Offer = &protocol.OfferPayload{}
		target = ev.Offer
	case protocol.TypeAnswer:
		ev.Answer = &protocol.AnswerPayload{}
		target = ev.Answer
	case protocol.TypeICECandidate:
		ev.Candidate = &protocol.ICECandidatePayload{}
		target = ev.Candidate
	case protocol.TypeChat:
		ev.Chat = &protocol.ChatPayload{}
		target = ev.Chat
	case protocol.TypeAttendanceMarked:
		ev.Marked = &protocol.AttendanceMarkedPayload{}
		target = ev.Marked
	case protocol.TypeClassEnded:
		ev.Ended = &protocol.ClassEndedPayload{}
		target = ev.Ended
	case protocol.TypeError:
		ev.Error = &protocol.ErrorPayload{}
		target = ev.Error
	default:
		return ev, fmt.Errorf("unknown message type %q", msg.Type)
	}
	if err := msg.Decode(target); err != nil {
		return ev, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return ev, nil
}

// Handler decodes incoming messages into a single ordered Events stream,
// so offers, candidates and roster changes are seen in gateway order.
type Handler struct {
	client *Client
	logger *zap.Logger
	Events chan Event
}

// NewHandler creates a new message handler.
func NewHandler(client *Client, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		client: client,
		logger: logger,
		Events: make(chan Event, 64),
	}
}

// Start routes messages until the connection ends, then closes Events.
func (h *Handler) Start() {
	defer close(h.Events)
	for msg := range h.client.Incoming() {
		ev, err := Decode(msg)
		if err != nil {
			h.logger.Debug("ignoring gateway message", zap.Error(err))
			continue
		}
		h.Events <- ev
	}
}
