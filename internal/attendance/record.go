// Package attendance derives per-student attendance from classroom presence
// and lets teachers override it by hand.
package attendance

import (
	"errors"
	"time"
)

var (
	ErrUnauthorized = errors.New("not allowed to mark attendance")
	ErrPersistence  = errors.New("attendance store failure")
	ErrNotFound     = errors.New("attendance record not found")
	ErrInvalid      = errors.New("session and student ids are required")
)

// Record is the attendance of one student in one session.
type Record struct {
	SessionID   string `gorm:"primaryKey;size:128"`
	StudentID   string `gorm:"primaryKey;size:128"`
	StudentName string `gorm:"size:128"`
	IsPresent   bool
	JoinedAt    *time.Time
	LeftAt      *time.Time

	// Manual is set when the last IsPresent change came from a teacher.
	Manual   bool
	MarkedBy string `gorm:"size:128"`
	MarkedAt *time.Time

	UpdatedAt time.Time
}

func (Record) TableName() string { return "attendance_records" }

// Duration is how long the student stayed: (LeftAt or now) minus JoinedAt.
// It is zero for students who never connected.
func Duration(r Record, now time.Time) time.Duration {
	if r.JoinedAt == nil {
		return 0
	}
	end := now
	if r.LeftAt != nil {
		end = *r.LeftAt
	}
	if end.Before(*r.JoinedAt) {
		return 0
	}
	return end.Sub(*r.JoinedAt)
}

// MarkResult is the outcome of one student in a batch mark.
type MarkResult struct {
	StudentID string
	Err       error
}

func timePtr(t time.Time) *time.Time { return &t }
