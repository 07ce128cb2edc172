package sessions

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/classmesh/internal/registry"
)

func create(t *testing.T, svc *Service) Session {
	t.Helper()
	sess, err := svc.Create(context.Background(), "t-1", CreateInput{Title: " Fractions ", Subject: "math", DurationMinutes: 45})
	require.NoError(t, err)
	return sess
}

func TestService_Create(t *testing.T) {
	svc := NewService(nil, nil)
	sess := create(t, svc)

	assert.Regexp(t, regexp.MustCompile(`^[a-z]+-[a-z]+-[a-z]+-[a-z]+$`), sess.ID)
	assert.Equal(t, "Fractions", sess.Title)
	assert.Equal(t, StatusScheduled, sess.Status)
	assert.Equal(t, "t-1", sess.TeacherID)

	got, err := svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	_, err = svc.Create(context.Background(), "t-1", CreateInput{Title: "  "})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, nil)
	sess := create(t, svc)

	_, err := svc.End(ctx, sess.ID, "t-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Start(ctx, sess.ID, "s-1")
	assert.ErrorIs(t, err, ErrForbidden)

	live, err := svc.Start(ctx, sess.ID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, StatusLive, live.Status)
	assert.NotNil(t, live.StartedAt)

	_, err = svc.Cancel(ctx, sess.ID, "t-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	ended, err := svc.End(ctx, sess.ID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	assert.NotNil(t, ended.EndedAt)

	_, err = svc.Start(ctx, sess.ID, "t-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, nil)
	sess := create(t, svc)

	cancelled, err := svc.Cancel(ctx, sess.ID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Start(ctx, sess.ID, "t-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_AdmitJoin(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, nil)
	sess := create(t, svc)

	assert.ErrorIs(t, svc.AdmitJoin(ctx, "missing", "s-1", registry.RoleStudent), ErrNotFound)
	assert.ErrorIs(t, svc.AdmitJoin(ctx, sess.ID, "s-1", registry.RoleStudent), ErrNotLive)
	assert.NoError(t, svc.AdmitJoin(ctx, sess.ID, "t-1", registry.RoleTeacher))
	assert.ErrorIs(t, svc.AdmitJoin(ctx, sess.ID, "t-2", registry.RoleTeacher), ErrNotLive)

	_, err := svc.Start(ctx, sess.ID, "t-1")
	require.NoError(t, err)
	assert.NoError(t, svc.AdmitJoin(ctx, sess.ID, "s-1", registry.RoleStudent))

	_, err = svc.End(ctx, sess.ID, "t-1")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.AdmitJoin(ctx, sess.ID, "s-1", registry.RoleStudent), ErrNotLive)
	assert.ErrorIs(t, svc.AdmitJoin(ctx, sess.ID, "t-1", registry.RoleTeacher), ErrNotLive)
}

func TestService_CanMark(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, nil)
	sess := create(t, svc)

	assert.NoError(t, svc.CanMark(ctx, sess.ID, "t-1"))
	assert.ErrorIs(t, svc.CanMark(ctx, sess.ID, "s-1"), ErrForbidden)
	assert.ErrorIs(t, svc.CanMark(ctx, "missing", "t-1"), ErrNotFound)
}

func TestNewCode_SkipsTakenCodes(t *testing.T) {
	first := newCode(nil)
	calls := 0
	code := newCode(func(c string) bool {
		calls++
		return calls < 3
	})
	assert.Equal(t, 3, calls)
	assert.NotEmpty(t, code)
	assert.NotEmpty(t, first)
}
