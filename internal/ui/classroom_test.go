package ui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/classmesh/internal/mesh"
	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/signalclient"
)

type markCall struct {
	studentID string
	present   bool
}

type recordingActions struct {
	chats   []string
	marks   []markCall
	chatErr error
}

func (a *recordingActions) Chat(text string) error {
	if a.chatErr != nil {
		return a.chatErr
	}
	a.chats = append(a.chats, text)
	return nil
}

func (a *recordingActions) Mark(studentID string, present bool) error {
	a.marks = append(a.marks, markCall{studentID, present})
	return nil
}

func event(ev signalclient.Event) tea.Msg { return EventMsg{ev} }

func joinedClass(t *testing.T, role string) (*ClassroomModel, *recordingActions) {
	t.Helper()
	actions := &recordingActions{}
	m := NewClassroomModel("math-101", "Me", role, actions)
	m.Update(event(signalclient.Event{Type: protocol.TypeJoined, Joined: &protocol.JoinedPayload{
		ClassID:  "math-101",
		SocketID: "sock-me",
		Participants: []protocol.ParticipantInfo{
			{UserID: "s1", UserType: protocol.RoleStudent, UserName: "Ada", SocketID: "sock-s1"},
		},
	}}))
	m.Update(event(signalclient.Event{Type: protocol.TypeParticipantJoined, Participant: &protocol.ParticipantInfo{
		UserID: "s2", UserType: protocol.RoleStudent, UserName: "Grace", SocketID: "sock-s2",
	}}))
	return m, actions
}

func typeText(m *ClassroomModel, text string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func TestClassroom_JoinBuildsRoster(t *testing.T) {
	m, _ := joinedClass(t, protocol.RoleStudent)

	assert.Equal(t, ClassLive, m.State())
	require.Len(t, m.students(), 2)
	assert.Equal(t, "Ada", m.students()[0].info.UserName)
	assert.Equal(t, "Grace", m.students()[1].info.UserName)
	assert.Contains(t, m.View(), "Grace")
}

func TestClassroom_ParticipantLeft(t *testing.T) {
	m, _ := joinedClass(t, protocol.RoleStudent)

	m.Update(event(signalclient.Event{Type: protocol.TypeParticipantLeft, Left: &protocol.ParticipantLeftPayload{
		UserID: "s1", SocketID: "sock-s1",
	}}))
	require.Len(t, m.students(), 1)
	assert.Equal(t, "s2", m.students()[0].info.UserID)
}

func TestClassroom_EnterSendsChat(t *testing.T) {
	m, actions := joinedClass(t, protocol.RoleStudent)

	typeText(m, "hello class")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, []string{"hello class"}, actions.chats)
	assert.Empty(t, m.input.Value())
	require.NotEmpty(t, m.chat)
	assert.Contains(t, m.chat[len(m.chat)-1], "hello class")
}

func TestClassroom_ChatFailureKeepsInput(t *testing.T) {
	m, actions := joinedClass(t, protocol.RoleStudent)
	actions.chatErr = errors.New("offline")

	typeText(m, "anyone?")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, "anyone?", m.input.Value())
	require.Len(t, m.warnings, 1)
	assert.Contains(t, m.warnings[0], "offline")
}

func TestClassroom_IncomingChat(t *testing.T) {
	m, _ := joinedClass(t, protocol.RoleStudent)

	m.Update(event(signalclient.Event{Type: protocol.TypeChat, Chat: &protocol.ChatPayload{
		Message: "quiz on friday", UserName: "Ms. T", Sender: protocol.RoleTeacher, Timestamp: time.Now(),
	}}))
	assert.Contains(t, m.chat[len(m.chat)-1], "quiz on friday")
}

func TestClassroom_TeacherBatchMarks(t *testing.T) {
	m, actions := joinedClass(t, protocol.RoleTeacher)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	require.True(t, m.focusRoster)

	m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Equal(t, []string{"s1", "s2"}, m.Selection().IDs())

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	assert.Equal(t, []markCall{{"s1", true}, {"s2", true}}, actions.marks)
	assert.Zero(t, m.Selection().Len())
	assert.Empty(t, actions.chats)
}

func TestClassroom_StudentCannotFocusRoster(t *testing.T) {
	m, _ := joinedClass(t, protocol.RoleStudent)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.False(t, m.focusRoster)
}

func TestClassroom_AttendanceMarkedShown(t *testing.T) {
	m, _ := joinedClass(t, protocol.RoleStudent)

	m.Update(event(signalclient.Event{Type: protocol.TypeAttendanceMarked, Marked: &protocol.AttendanceMarkedPayload{
		StudentID: "s2", IsPresent: true, MarkedBy: "t1",
	}}))
	mem := m.members["sock-s2"]
	require.NotNil(t, mem.present)
	assert.True(t, *mem.present)
}

func TestClassroom_NoticesUpdateLinks(t *testing.T) {
	m, _ := joinedClass(t, protocol.RoleStudent)

	m.Update(NoticeMsg{mesh.Notice{Kind: mesh.NoticeLinkState, Peer: mesh.Peer{SocketID: "sock-s1"}, State: mesh.StateConnected}})
	assert.Equal(t, "connected", m.members["sock-s1"].link)

	m.Update(NoticeMsg{mesh.Notice{Kind: mesh.NoticeWarning, Err: errors.New("camera busy")}})
	assert.Equal(t, []string{"camera busy"}, m.warnings)
}

func TestClassroom_ClassEndedQuits(t *testing.T) {
	m, _ := joinedClass(t, protocol.RoleStudent)

	_, cmd := m.Update(event(signalclient.Event{Type: protocol.TypeClassEnded, Ended: &protocol.ClassEndedPayload{ClassID: "math-101"}}))
	assert.Equal(t, ClassEnded, m.State())
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestClassroom_EscQuits(t *testing.T) {
	m, _ := joinedClass(t, protocol.RoleStudent)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
