// Package signalclient is the classroom client's connection to the
// signaling gateway.
package signalclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/dns"
	"github.com/BioHazard786/classmesh/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrClosed is returned by Send once the connection is gone.
var ErrClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the signaling gateway.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	header    http.Header
	resolver  *dns.Resolver
	logger    *zap.Logger

	incoming  chan *protocol.Message
	outgoing  chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

// Option customizes a Client.
type Option func(*Client)

// WithHeader adds headers to the websocket handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithResolver replaces the fallback DNS resolver. A nil resolver dials
// with the system resolver only.
func WithResolver(r *dns.Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// NewClient creates a new signaling client.
func NewClient(serverURL string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		serverURL: serverURL,
		resolver:  dns.NewResolver(),
		logger:    logger,
		incoming:  make(chan *protocol.Message, 64),
		outgoing:  make(chan *protocol.Message, 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	if c.resolver != nil {
		dialer.NetDialContext = c.resolver.DialContext
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	c.logger.Debug("connected to signaling gateway", zap.String("url", u.Redacted()))
	return nil
}

// readPump reads messages until the connection fails. It closes incoming
// on exit.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("signaling read failed", zap.Error(err))
			}
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued messages and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("signaling write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.drain()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes what was queued before Close, so a final leave reaches the
// gateway.
func (c *Client) drain() {
	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues a message of the given type.
func (c *Client) Send(msgType string, payload any) error {
	msg, err := protocol.New(msgType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages. It is closed when
// the connection ends.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Done is closed once Close was called or the connection dropped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection after flushing queued messages.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// JoinClass announces this client in a classroom.
func (c *Client) JoinClass(classID, userID, role, name string) error {
	return c.Send(protocol.TypeJoin, protocol.JoinPayload{
		ClassID:  classID,
		UserID:   userID,
		UserType: role,
		UserName: name,
	})
}

func (c *Client) LeaveClass(classID string) error {
	return c.Send(protocol.TypeLeave, protocol.LeavePayload{ClassID: classID})
}

func (c *Client) Chat(classID, text string) error {
	return c.Send(protocol.TypeChat, protocol.ChatPayload{
		ClassID:   classID,
		Message:   text,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Client) MarkAttendance(classID, studentID string, isPresent bool) error {
	return c.Send(protocol.TypeMarkAttendance, protocol.MarkAttendancePayload{
		ClassID:   classID,
		StudentID: studentID,
		IsPresent: isPresent,
	})
}
