package protocol

import (
	"time"

	pion "github.com/pion/webrtc/v4"
)

// JoinInfo answers POST /v1/sessions/{id}/join.
type JoinInfo struct {
	SessionID    string           `json:"sessionId"`
	WebSocketURL string           `json:"websocketUrl"`
	ICEServers   []pion.ICEServer `json:"iceServers"`
}

// AttendanceView is one attendance row as served over REST.
type AttendanceView struct {
	StudentID       string     `json:"studentId"`
	StudentName     string     `json:"studentName,omitempty"`
	IsPresent       bool       `json:"isPresent"`
	JoinedAt        *time.Time `json:"joinedAt,omitempty"`
	LeftAt          *time.Time `json:"leftAt,omitempty"`
	DurationSeconds int64      `json:"durationSeconds"`
	Manual          bool       `json:"manual"`
	MarkedBy        string     `json:"markedBy,omitempty"`
	MarkedAt        *time.Time `json:"markedAt,omitempty"`
}

type MarkRequest struct {
	StudentID string `json:"studentId" validate:"required,max=128"`
	IsPresent bool   `json:"isPresent"`
}

type BatchMarkRequest struct {
	StudentIDs []string `json:"studentIds" validate:"required,min=1,max=500"`
	IsPresent  bool     `json:"isPresent"`
}

type BatchMarkResult struct {
	StudentID string `json:"studentId"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

type BatchMarkResponse struct {
	Results []BatchMarkResult `json:"results"`
}
