// Package sessions manages class sessions and decides who may enter them.
package sessions

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrForbidden         = errors.New("only the session teacher can do that")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrNotLive           = errors.New("session is not live")
	ErrInvalid           = errors.New("invalid session")
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Session is one scheduled class.
type Session struct {
	ID              string     `gorm:"primaryKey;size:128" json:"id"`
	Title           string     `gorm:"size:256" json:"title"`
	Subject         string     `gorm:"size:128" json:"subject,omitempty"`
	TeacherID       string     `gorm:"index;size:128" json:"teacherId"`
	Status          Status     `gorm:"size:16;index" json:"status"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	DurationMinutes int        `json:"durationMinutes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

func (Session) TableName() string { return "class_sessions" }

// CreateInput is what a teacher supplies when scheduling a class.
type CreateInput struct {
	Title           string     `json:"title" validate:"required,max=256"`
	Subject         string     `json:"subject" validate:"max=128"`
	StartTime       *time.Time `json:"startTime"`
	DurationMinutes int        `json:"durationMinutes" validate:"gte=0,lte=1440"`
}

// transitions lists the allowed status moves.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusLive, StatusCancelled},
	StatusLive:      {StatusEnded},
}

func canMove(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
