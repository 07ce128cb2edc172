package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/registry"
)

// Service owns the session lifecycle: scheduled -> live -> ended, or
// scheduled -> cancelled.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	// mu serializes status transitions.
	mu sync.Mutex
}

func NewService(store Store, logger *zap.Logger) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Create schedules a new session taught by teacherID.
func (s *Service) Create(ctx context.Context, teacherID string, in CreateInput) (Session, error) {
	if teacherID == "" || strings.TrimSpace(in.Title) == "" {
		return Session{}, ErrInvalid
	}

	sess := Session{
		Title:           strings.TrimSpace(in.Title),
		Subject:         in.Subject,
		TeacherID:       teacherID,
		Status:          StatusScheduled,
		StartTime:       in.StartTime,
		DurationMinutes: in.DurationMinutes,
		CreatedAt:       s.now().UTC(),
	}

	var lookupErr error
	sess.ID = newCode(func(code string) bool {
		_, err := s.store.Get(ctx, code)
		if err != nil && !errors.Is(err, ErrNotFound) {
			lookupErr = err
			return false
		}
		return err == nil
	})
	if lookupErr != nil {
		return Session{}, fmt.Errorf("check session code: %w", lookupErr)
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created", zap.String("session", sess.ID), zap.String("teacher", teacherID))
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	return s.store.Get(ctx, id)
}

// Start opens a scheduled session for joining.
func (s *Service) Start(ctx context.Context, id, actorID string) (Session, error) {
	return s.move(ctx, id, actorID, StatusLive, func(sess *Session, now time.Time) {
		sess.StartedAt = &now
	})
}

// End closes a live session.
func (s *Service) End(ctx context.Context, id, actorID string) (Session, error) {
	return s.move(ctx, id, actorID, StatusEnded, func(sess *Session, now time.Time) {
		sess.EndedAt = &now
	})
}

// Cancel drops a session that never started.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (Session, error) {
	return s.move(ctx, id, actorID, StatusCancelled, func(sess *Session, now time.Time) {
		sess.EndedAt = &now
	})
}

func (s *Service) move(ctx context.Context, id, actorID string, to Status, stamp func(*Session, time.Time)) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.TeacherID != actorID {
		return Session{}, ErrForbidden
	}
	if !canMove(sess.Status, to) {
		return Session{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, to)
	}

	from := sess.Status
	sess.Status = to
	stamp(&sess, s.now().UTC())
	if err := s.store.Update(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("update session: %w", err)
	}

	s.logger.Info("session status changed",
		zap.String("session", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return sess, nil
}

// AdmitJoin lets a user into a live session. The session's own teacher may
// enter at any status short of ended or cancelled.
func (s *Service) AdmitJoin(ctx context.Context, sessionID, userID string, role registry.Role) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if role == registry.RoleTeacher && sess.TeacherID == userID &&
		(sess.Status == StatusScheduled || sess.Status == StatusLive) {
		return nil
	}
	if sess.Status != StatusLive {
		return fmt.Errorf("%w: %s", ErrNotLive, sess.Status)
	}
	return nil
}

// CanMark reports whether markerID teaches the session.
func (s *Service) CanMark(ctx context.Context, sessionID, markerID string) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.TeacherID != markerID {
		return ErrForbidden
	}
	return nil
}
