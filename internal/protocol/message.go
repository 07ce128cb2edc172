// Package protocol defines the websocket event contract shared by the
// signaling gateway and the classroom client.
package protocol

import (
	"encoding/json"
	"time"

	pion "github.com/pion/webrtc/v4"
)

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client to server events.
const (
	TypeJoin           = "join-virtual-class"
	TypeLeave          = "leave-virtual-class"
	TypeOffer          = "video-offer"
	TypeAnswer         = "video-answer"
	TypeICECandidate   = "ice-candidate"
	TypeChat           = "chat-message"
	TypeMarkAttendance = "mark-attendance"
)

// Server to client events. Offer, answer, candidate and chat reuse the
// names above in both directions.
const (
	TypeJoined            = "joined-virtual-class"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeAttendanceMarked  = "attendance-marked"
	TypeClassEnded        = "class-ended"
	TypeError             = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeBadRequest   = "bad_request"
	CodeNotInRoom    = "not_in_room"
	CodeJoinRejected = "join_rejected"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal"
)

// Participant roles as sent in userType.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

type JoinPayload struct {
	ClassID  string `json:"classId" validate:"required,max=128"`
	UserID   string `json:"userId" validate:"required,max=128"`
	UserType string `json:"userType" validate:"required,oneof=teacher student"`
	UserName string `json:"userName" validate:"max=128"`
}

type LeavePayload struct {
	ClassID string `json:"classId"`
}

// ParticipantInfo is the payload of participant-joined and the element type
// of the roster sent back to a joiner.
type ParticipantInfo struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
	UserName string `json:"userName"`
	SocketID string `json:"socketId"`
}

// JoinedPayload acknowledges a join. Participants is informational only:
// the joiner never initiates links toward them.
type JoinedPayload struct {
	ClassID      string            `json:"classId"`
	SocketID     string            `json:"socketId"`
	Participants []ParticipantInfo `json:"participants"`
}

type ParticipantLeftPayload struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
	SocketID string `json:"socketId"`
}

type OfferPayload struct {
	Offer          pion.SessionDescription `json:"offer"`
	TargetSocketID string                  `json:"targetSocketId,omitempty"`
	FromSocketID   string                  `json:"fromSocketId,omitempty"`
	FromUserID     string                  `json:"fromUserId,omitempty"`
}

type AnswerPayload struct {
	Answer         pion.SessionDescription `json:"answer"`
	TargetSocketID string                  `json:"targetSocketId,omitempty"`
	FromSocketID   string                  `json:"fromSocketId,omitempty"`
	FromUserID     string                  `json:"fromUserId,omitempty"`
}

type ICECandidatePayload struct {
	Candidate      pion.ICECandidateInit `json:"candidate"`
	TargetSocketID string                `json:"targetSocketId,omitempty"`
	FromSocketID   string                `json:"fromSocketId,omitempty"`
	FromUserID     string                `json:"fromUserId,omitempty"`
}

// ChatPayload carries a chat line. Sender is the sender's role.
type ChatPayload struct {
	ClassID   string    `json:"classId"`
	Message   string    `json:"message" validate:"required,max=4000"`
	Sender    string    `json:"sender,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type MarkAttendancePayload struct {
	ClassID   string `json:"classId"`
	StudentID string `json:"studentId" validate:"required,max=128"`
	IsPresent bool   `json:"isPresent"`
}

type AttendanceMarkedPayload struct {
	ClassID   string `json:"classId"`
	StudentID string `json:"studentId"`
	IsPresent bool   `json:"isPresent"`
	MarkedBy  string `json:"markedBy"`
}

type ClassEndedPayload struct {
	ClassID string `json:"classId"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// New builds a message of the given type with payload encoded as JSON.
func New(t string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: t}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: t, Payload: b}, nil
}

// NewError builds an error message.
func NewError(code, text string) *Message {
	b, _ := json.Marshal(ErrorPayload{Error: text, Code: code})
	return &Message{Type: TypeError, Payload: b}
}

// Decode decodes the message payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Payload, v)
}
