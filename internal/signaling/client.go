package signaling

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages
)

// Identity is the authenticated user behind a connection, when the server
// runs with authentication enabled.
type Identity struct {
	UserID string
	Role   registry.Role
}

// Client is a wrapper for a single websocket connection (a participant).
type Client struct {
	gw   *Gateway
	conn *websocket.Conn

	// ID is the connection id, announced to other participants as socketId.
	ID string

	// identity is nil when the server runs without authentication.
	identity *Identity

	// send is a buffered channel for all outbound messages. A nil message
	// asks the write pump to flush a close frame and stop.
	send chan *protocol.Message

	kickOnce sync.Once

	// roomID and participant are only touched by the read pump goroutine.
	roomID      string
	participant registry.Participant

	logger *zap.Logger
}

// ReadPump pumps messages from the websocket connection to the gateway.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.gw.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		c.dispatch(&msg)
	}
}

// dispatch hands one message to the gateway. A panic while handling it is
// confined to this connection's message.
func (c *Client) dispatch(msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked",
				zap.String("type", msg.Type),
				zap.String("panic", fmt.Sprint(r)),
			)
			c.reply(protocol.NewError(protocol.CodeInternal, "internal error"))
		}
	}()
	c.gw.handle(c, msg)
}

// WritePump pumps messages from the gateway to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok || message == nil {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends a message to this client from its own read goroutine.
func (c *Client) reply(msg *protocol.Message) {
	c.gw.enqueue(c, msg)
}

// kick drops the connection. The read pump then performs a normal leave.
func (c *Client) kick() {
	c.kickOnce.Do(func() {
		c.conn.Close()
	})
}

func (c *Client) info() protocol.ParticipantInfo {
	return participantInfo(c.participant)
}

func participantInfo(p registry.Participant) protocol.ParticipantInfo {
	return protocol.ParticipantInfo{
		UserID:   p.UserID,
		UserType: string(p.Role),
		UserName: p.DisplayName,
		SocketID: p.ConnectionID,
	}
}
