package signalclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/signaling"
)

func startGateway(t *testing.T) (*signaling.Gateway, string) {
	t.Helper()
	gw := signaling.New(signaling.Options{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw.Attach(conn, nil)
	}))
	t.Cleanup(srv.Close)
	return gw, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func connect(t *testing.T, url string) (*Client, *Handler) {
	t.Helper()
	c := NewClient(url, nil, WithResolver(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)

	h := NewHandler(c, nil)
	go h.Start()
	return c, h
}

func next(t *testing.T, h *Handler) Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestClient_JoinAndChat(t *testing.T) {
	_, url := startGateway(t)

	teacher, th := connect(t, url)
	require.NoError(t, teacher.JoinClass("bio-7", "t1", protocol.RoleTeacher, "Ms. Frizzle"))
	ev := next(t, th)
	require.Equal(t, protocol.TypeJoined, ev.Type)
	assert.Equal(t, "bio-7", ev.Joined.ClassID)
	assert.Empty(t, ev.Joined.Participants)

	student, sh := connect(t, url)
	require.NoError(t, student.JoinClass("bio-7", "s1", protocol.RoleStudent, "Arnold"))
	ack := next(t, sh)
	require.Equal(t, protocol.TypeJoined, ack.Type)
	require.Len(t, ack.Joined.Participants, 1)
	assert.Equal(t, "t1", ack.Joined.Participants[0].UserID)

	ev = next(t, th)
	require.Equal(t, protocol.TypeParticipantJoined, ev.Type)
	assert.Equal(t, "s1", ev.Participant.UserID)
	assert.Equal(t, ack.Joined.SocketID, ev.Participant.SocketID)

	require.NoError(t, student.Chat("bio-7", "field trip?"))
	ev = next(t, th)
	require.Equal(t, protocol.TypeChat, ev.Type)
	assert.Equal(t, "field trip?", ev.Chat.Message)
	assert.Equal(t, "Arnold", ev.Chat.UserName)
	assert.Equal(t, protocol.RoleStudent, ev.Chat.Sender)
}

func TestClient_LeaveIsSeenByRoom(t *testing.T) {
	_, url := startGateway(t)

	teacher, th := connect(t, url)
	require.NoError(t, teacher.JoinClass("bio-7", "t1", protocol.RoleTeacher, "T"))
	next(t, th)

	student, sh := connect(t, url)
	require.NoError(t, student.JoinClass("bio-7", "s1", protocol.RoleStudent, "S"))
	next(t, sh)
	next(t, th)

	require.NoError(t, student.LeaveClass("bio-7"))
	ev := next(t, th)
	require.Equal(t, protocol.TypeParticipantLeft, ev.Type)
	assert.Equal(t, "s1", ev.Left.UserID)
}

func TestClient_ServerErrorEvent(t *testing.T) {
	_, url := startGateway(t)
	c, h := connect(t, url)

	require.NoError(t, c.Chat("nowhere", "hello?"))
	ev := next(t, h)
	require.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.CodeNotInRoom, ev.Error.Code)
}

func TestClient_SendAfterClose(t *testing.T) {
	_, url := startGateway(t)
	c, h := connect(t, url)

	c.Close()
	assert.ErrorIs(t, c.Send(protocol.TypeLeave, nil), ErrClosed)

	select {
	case _, ok := <-h.Events:
		for ok {
			_, ok = <-h.Events
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events not closed after Close")
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(&protocol.Message{Type: "quiz-started"})
	assert.Error(t, err)
}
