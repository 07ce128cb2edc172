package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/classmesh/internal/attendance"
	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/registry"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []registry.Event
}

func (o *recordingObserver) ObservePresence(ev registry.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) snapshot() []registry.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]registry.Event, len(o.events))
	copy(out, o.events)
	return out
}

type mark struct {
	sessionID, studentID, markedBy string
	isPresent                      bool
}

type fakeMarker struct {
	mu    sync.Mutex
	marks []mark
	err   error
}

func (m *fakeMarker) Mark(_ context.Context, sessionID, studentID string, isPresent bool, markedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.marks = append(m.marks, mark{sessionID, studentID, markedBy, isPresent})
	return nil
}

type admissionFunc func(ctx context.Context, sessionID, userID string, role registry.Role) error

func (f admissionFunc) AdmitJoin(ctx context.Context, sessionID, userID string, role registry.Role) error {
	return f(ctx, sessionID, userID, role)
}

func newTestServer(t *testing.T, gw *Gateway, identity func(*http.Request) *Identity) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var id *Identity
		if identity != nil {
			id = identity(r)
		}
		gw.Attach(conn, id)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testPeer struct {
	t        *testing.T
	conn     *websocket.Conn
	socketID string
}

func dial(t *testing.T, srv *httptest.Server, query string) *testPeer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testPeer{t: t, conn: conn}
}

func (p *testPeer) send(typ string, payload any) {
	p.t.Helper()
	msg, err := protocol.New(typ, payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(msg))
}

func (p *testPeer) read() *protocol.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg protocol.Message
	require.NoError(p.t, p.conn.ReadJSON(&msg))
	return &msg
}

func (p *testPeer) expect(typ string, v any) {
	p.t.Helper()
	msg := p.read()
	require.Equal(p.t, typ, msg.Type, "payload: %s", string(msg.Payload))
	if v != nil {
		require.NoError(p.t, msg.Decode(v))
	}
}

func (p *testPeer) expectError(code string) {
	p.t.Helper()
	var e protocol.ErrorPayload
	p.expect(protocol.TypeError, &e)
	assert.Equal(p.t, code, e.Code)
}

func (p *testPeer) join(classID, userID, role, name string) protocol.JoinedPayload {
	p.t.Helper()
	p.send(protocol.TypeJoin, protocol.JoinPayload{ClassID: classID, UserID: userID, UserType: role, UserName: name})
	var ack protocol.JoinedPayload
	p.expect(protocol.TypeJoined, &ack)
	p.socketID = ack.SocketID
	return ack
}

// classroom joins a teacher and two students into "math-101".
func classroom(t *testing.T, srv *httptest.Server) (teacher, s1, s2 *testPeer) {
	t.Helper()
	teacher = dial(t, srv, "")
	ack := teacher.join("math-101", "t-1", protocol.RoleTeacher, "Ms. Frizzle")
	require.Empty(t, ack.Participants)

	s1 = dial(t, srv, "")
	ack = s1.join("math-101", "s-1", protocol.RoleStudent, "Arnold")
	require.Len(t, ack.Participants, 1)
	assert.Equal(t, teacher.socketID, ack.Participants[0].SocketID)

	var joined protocol.ParticipantInfo
	teacher.expect(protocol.TypeParticipantJoined, &joined)
	assert.Equal(t, s1.socketID, joined.SocketID)
	assert.Equal(t, "s-1", joined.UserID)
	assert.Equal(t, protocol.RoleStudent, joined.UserType)

	s2 = dial(t, srv, "")
	ack = s2.join("math-101", "s-2", protocol.RoleStudent, "Wanda")
	require.Len(t, ack.Participants, 2)
	assert.Equal(t, teacher.socketID, ack.Participants[0].SocketID)
	assert.Equal(t, s1.socketID, ack.Participants[1].SocketID)

	teacher.expect(protocol.TypeParticipantJoined, &joined)
	assert.Equal(t, s2.socketID, joined.SocketID)
	s1.expect(protocol.TypeParticipantJoined, &joined)
	assert.Equal(t, s2.socketID, joined.SocketID)
	return teacher, s1, s2
}

func TestGateway_JoinAnnouncesToExistingMembers(t *testing.T) {
	obs := &recordingObserver{}
	gw := New(Options{Presence: obs})
	srv := newTestServer(t, gw, nil)

	teacher, s1, s2 := classroom(t, srv)

	roster := gw.Roster("math-101")
	require.Len(t, roster, 3)
	assert.Equal(t, []string{teacher.socketID, s1.socketID, s2.socketID},
		[]string{roster[0].SocketID, roster[1].SocketID, roster[2].SocketID})

	events := obs.snapshot()
	require.Len(t, events, 3)
	for i, uid := range []string{"t-1", "s-1", "s-2"} {
		assert.Equal(t, registry.EventJoined, events[i].Kind)
		assert.Equal(t, uid, events[i].Participant.UserID)
		assert.Equal(t, "math-101", events[i].Participant.SessionID)
	}
}

func TestGateway_RelaysSignalsToTargetOnly(t *testing.T) {
	gw := New(Options{})
	srv := newTestServer(t, gw, nil)
	teacher, s1, s2 := classroom(t, srv)

	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0\r\n"}
	teacher.send(protocol.TypeOffer, protocol.OfferPayload{Offer: offer, TargetSocketID: s1.socketID})

	var got protocol.OfferPayload
	s1.expect(protocol.TypeOffer, &got)
	assert.Equal(t, offer, got.Offer)
	assert.Equal(t, teacher.socketID, got.FromSocketID)
	assert.Equal(t, "t-1", got.FromUserID)
	assert.Empty(t, got.TargetSocketID)

	answer := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "v=0\r\n"}
	s1.send(protocol.TypeAnswer, protocol.AnswerPayload{Answer: answer, TargetSocketID: teacher.socketID})
	var gotAnswer protocol.AnswerPayload
	teacher.expect(protocol.TypeAnswer, &gotAnswer)
	assert.Equal(t, s1.socketID, gotAnswer.FromSocketID)

	mid := "0"
	cand := pion.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host", SDPMid: &mid}
	s1.send(protocol.TypeICECandidate, protocol.ICECandidatePayload{Candidate: cand, TargetSocketID: teacher.socketID})
	var gotCand protocol.ICECandidatePayload
	teacher.expect(protocol.TypeICECandidate, &gotCand)
	assert.Equal(t, cand.Candidate, gotCand.Candidate.Candidate)
	assert.Equal(t, s1.socketID, gotCand.FromSocketID)

	// s2 saw none of it: its next message is the chat below.
	teacher.send(protocol.TypeChat, protocol.ChatPayload{Message: "hello"})
	var chat protocol.ChatPayload
	s2.expect(protocol.TypeChat, &chat)
	assert.Equal(t, "hello", chat.Message)
}

func TestGateway_DropsSignalForDepartedTarget(t *testing.T) {
	obs := &recordingObserver{}
	gw := New(Options{Presence: obs})
	srv := newTestServer(t, gw, nil)
	teacher, s1, s2 := classroom(t, srv)

	gone := s1.socketID
	require.NoError(t, s1.conn.Close())

	var left protocol.ParticipantLeftPayload
	teacher.expect(protocol.TypeParticipantLeft, &left)
	assert.Equal(t, gone, left.SocketID)
	assert.Equal(t, "s-1", left.UserID)
	s2.expect(protocol.TypeParticipantLeft, &left)
	assert.Equal(t, gone, left.SocketID)

	teacher.send(protocol.TypeOffer, protocol.OfferPayload{
		Offer:          pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0\r\n"},
		TargetSocketID: gone,
	})
	// No error comes back; the sender's next message is the chat reply.
	s2.send(protocol.TypeChat, protocol.ChatPayload{Message: "still here"})
	var chat protocol.ChatPayload
	teacher.expect(protocol.TypeChat, &chat)
	assert.Equal(t, "still here", chat.Message)

	require.Eventually(t, func() bool {
		events := obs.snapshot()
		last := events[len(events)-1]
		return last.Kind == registry.EventLeft && last.Participant.ConnectionID == gone
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, gw.Roster("math-101"), 2)
}

func TestGateway_ChatStampsSenderAndSkipsEcho(t *testing.T) {
	gw := New(Options{})
	srv := newTestServer(t, gw, nil)
	teacher, s1, s2 := classroom(t, srv)

	s1.send(protocol.TypeChat, protocol.ChatPayload{Message: "question", UserName: "spoofed", Sender: "teacher"})

	for _, p := range []*testPeer{teacher, s2} {
		var chat protocol.ChatPayload
		p.expect(protocol.TypeChat, &chat)
		assert.Equal(t, "question", chat.Message)
		assert.Equal(t, "Arnold", chat.UserName)
		assert.Equal(t, protocol.RoleStudent, chat.Sender)
		assert.Equal(t, "s-1", chat.UserID)
		assert.Equal(t, "math-101", chat.ClassID)
		assert.False(t, chat.Timestamp.IsZero())
	}

	// The sender gets no echo: its next message is the teacher's reply.
	teacher.send(protocol.TypeChat, protocol.ChatPayload{Message: "answer"})
	var chat protocol.ChatPayload
	s1.expect(protocol.TypeChat, &chat)
	assert.Equal(t, "answer", chat.Message)
}

func TestGateway_RejectsMessagesOutsideRoom(t *testing.T) {
	gw := New(Options{})
	srv := newTestServer(t, gw, nil)

	p := dial(t, srv, "")
	p.send(protocol.TypeOffer, protocol.OfferPayload{
		Offer:          pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0\r\n"},
		TargetSocketID: "nobody",
	})
	p.expectError(protocol.CodeNotInRoom)

	p.send(protocol.TypeChat, protocol.ChatPayload{Message: "hi"})
	p.expectError(protocol.CodeNotInRoom)

	p.send("bogus", nil)
	p.expectError(protocol.CodeBadRequest)

	p.send(protocol.TypeJoin, protocol.JoinPayload{ClassID: "c", UserID: "u", UserType: "principal"})
	p.expectError(protocol.CodeBadRequest)
}

func TestGateway_MarkAttendance(t *testing.T) {
	marker := &fakeMarker{}
	gw := New(Options{Attendance: marker})
	srv := newTestServer(t, gw, nil)
	teacher, s1, s2 := classroom(t, srv)

	s1.send(protocol.TypeMarkAttendance, protocol.MarkAttendancePayload{StudentID: "s-2", IsPresent: true})
	s1.expectError(protocol.CodeUnauthorized)

	teacher.send(protocol.TypeMarkAttendance, protocol.MarkAttendancePayload{ClassID: "math-101", StudentID: "s-2", IsPresent: false})
	for _, p := range []*testPeer{teacher, s1, s2} {
		var marked protocol.AttendanceMarkedPayload
		p.expect(protocol.TypeAttendanceMarked, &marked)
		assert.Equal(t, "s-2", marked.StudentID)
		assert.False(t, marked.IsPresent)
		assert.Equal(t, "t-1", marked.MarkedBy)
	}

	marker.mu.Lock()
	require.Len(t, marker.marks, 1)
	assert.Equal(t, mark{"math-101", "s-2", "t-1", false}, marker.marks[0])
	marker.err = errors.New("db down")
	marker.mu.Unlock()

	teacher.send(protocol.TypeMarkAttendance, protocol.MarkAttendancePayload{StudentID: "s-1", IsPresent: true})
	teacher.expectError(protocol.CodeInternal)
}

func TestGateway_AdmissionRejectsJoin(t *testing.T) {
	gw := New(Options{Admission: admissionFunc(func(_ context.Context, sessionID, _ string, _ registry.Role) error {
		if sessionID == "closed" {
			return errors.New("class is not live")
		}
		return nil
	})})
	srv := newTestServer(t, gw, nil)

	p := dial(t, srv, "")
	p.send(protocol.TypeJoin, protocol.JoinPayload{ClassID: "closed", UserID: "s-1", UserType: protocol.RoleStudent})
	p.expectError(protocol.CodeJoinRejected)
	assert.Empty(t, gw.Roster("closed"))

	p.join("open", "s-1", protocol.RoleStudent, "Arnold")
	assert.Len(t, gw.Roster("open"), 1)
}

func TestGateway_IdentityMustMatchJoin(t *testing.T) {
	gw := New(Options{})
	srv := newTestServer(t, gw, func(r *http.Request) *Identity {
		return &Identity{UserID: r.URL.Query().Get("user"), Role: registry.RoleStudent}
	})

	p := dial(t, srv, "?user=s-1")
	p.send(protocol.TypeJoin, protocol.JoinPayload{ClassID: "c", UserID: "t-1", UserType: protocol.RoleTeacher})
	p.expectError(protocol.CodeUnauthorized)

	p.join("c", "s-1", protocol.RoleStudent, "Arnold")
}

func TestGateway_SwitchingRoomsLeavesPrevious(t *testing.T) {
	gw := New(Options{})
	srv := newTestServer(t, gw, nil)

	a := dial(t, srv, "")
	a.join("room-a", "t-1", protocol.RoleTeacher, "T")
	b := dial(t, srv, "")
	b.join("room-a", "s-1", protocol.RoleStudent, "S")
	a.expect(protocol.TypeParticipantJoined, nil)

	b.join("room-b", "s-1", protocol.RoleStudent, "S")
	var left protocol.ParticipantLeftPayload
	a.expect(protocol.TypeParticipantLeft, &left)
	assert.Equal(t, b.socketID, left.SocketID)

	assert.Len(t, gw.Roster("room-a"), 1)
	assert.Len(t, gw.Roster("room-b"), 1)
}

func TestGateway_EndRoom(t *testing.T) {
	obs := &recordingObserver{}
	gw := New(Options{Presence: obs})
	srv := newTestServer(t, gw, nil)
	teacher, s1, s2 := classroom(t, srv)

	assert.Equal(t, 3, gw.EndRoom("math-101"))

	for _, p := range []*testPeer{teacher, s1, s2} {
		var ended protocol.ClassEndedPayload
		p.expect(protocol.TypeClassEnded, &ended)
		assert.Equal(t, "math-101", ended.ClassID)

		_, _, err := p.conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	}

	assert.Empty(t, gw.Roster("math-101"))
	left := 0
	for _, ev := range obs.snapshot() {
		if ev.Kind == registry.EventLeft {
			left++
		}
	}
	assert.Equal(t, 3, left)
	assert.Equal(t, 0, gw.EndRoom("math-101"))
}

func TestRoomLocks_ReleasesEntries(t *testing.T) {
	l := newRoomLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.acquire("room")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.size())
}

type rejectingAuthorizer struct{}

func (rejectingAuthorizer) CanMark(context.Context, string, string) error {
	return errors.New("not your class")
}

func TestGateway_MarkAttendanceUnauthorizedByDeriver(t *testing.T) {
	store := attendance.NewMemoryStore()
	deriver := attendance.New(attendance.Options{Store: store, Authorizer: rejectingAuthorizer{}})
	gw := New(Options{Attendance: deriver})
	srv := newTestServer(t, gw, nil)
	teacher, _, _ := classroom(t, srv)

	teacher.send(protocol.TypeMarkAttendance, protocol.MarkAttendancePayload{StudentID: "s-1", IsPresent: true})
	teacher.expectError(protocol.CodeUnauthorized)

	recs, err := deriver.List(context.Background(), "math-101")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestGateway_MarkAttendanceErrorCodes(t *testing.T) {
	marker := &fakeMarker{}
	gw := New(Options{Attendance: marker})
	srv := newTestServer(t, gw, nil)
	teacher, _, _ := classroom(t, srv)

	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("%w: not your class", attendance.ErrUnauthorized), protocol.CodeUnauthorized},
		{attendance.ErrInvalid, protocol.CodeBadRequest},
		{fmt.Errorf("%w: connection refused", attendance.ErrPersistence), protocol.CodeInternal},
	}
	for _, tc := range cases {
		marker.mu.Lock()
		marker.err = tc.err
		marker.mu.Unlock()

		teacher.send(protocol.TypeMarkAttendance, protocol.MarkAttendancePayload{StudentID: "s-1", IsPresent: true})
		teacher.expectError(tc.code)
	}
}

func TestGateway_CloseWaitsForLeaves(t *testing.T) {
	obs := &recordingObserver{}
	gw := New(Options{Presence: obs})
	srv := newTestServer(t, gw, nil)
	classroom(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, gw.Close(ctx))

	left := 0
	for _, ev := range obs.snapshot() {
		if ev.Kind == registry.EventLeft {
			left++
		}
	}
	assert.Equal(t, 3, left)
	assert.Empty(t, gw.Roster("math-101"))
}
