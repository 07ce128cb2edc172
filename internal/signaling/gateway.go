package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/metrics"
	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/registry"
)

const (
	defaultSendBuffer = 256
	collaboratorWait  = 5 * time.Second
)

// PresenceObserver receives presence deltas in room order. It is called with
// the room locked and must not block.
type PresenceObserver interface {
	ObservePresence(ev registry.Event)
}

// AttendanceMarker applies a teacher's manual attendance mark.
type AttendanceMarker interface {
	Mark(ctx context.Context, sessionID, studentID string, isPresent bool, markedBy string) error
}

// Admission decides whether a user may enter a session room.
type Admission interface {
	AdmitJoin(ctx context.Context, sessionID, userID string, role registry.Role) error
}

type Options struct {
	Registry   *registry.Registry
	Presence   PresenceObserver
	Attendance AttendanceMarker
	Admission  Admission
	Logger     *zap.Logger
	SendBuffer int
}

// Gateway is the central brain of the signaling server. Every room-scoped
// operation runs under that room's lock, so registry mutations and the
// broadcasts they cause are ordered per room while rooms run in parallel.
type Gateway struct {
	registry   *registry.Registry
	presence   PresenceObserver
	attendance AttendanceMarker
	admission  Admission
	logger     *zap.Logger
	validate   *validator.Validate
	sendBuffer int

	locks *roomLocks

	mu      sync.RWMutex
	clients map[string]*Client

	// live counts attached connections whose read pump has not finished.
	live sync.WaitGroup
}

func New(opts Options) *Gateway {
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Gateway{
		registry:   opts.Registry,
		presence:   opts.Presence,
		attendance: opts.Attendance,
		admission:  opts.Admission,
		logger:     opts.Logger,
		validate:   validator.New(),
		sendBuffer: opts.SendBuffer,
		locks:      newRoomLocks(),
		clients:    make(map[string]*Client),
	}
}

// Registry exposes the room table for read-only views such as REST rosters.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Attach registers a freshly upgraded connection and starts its pumps.
func (g *Gateway) Attach(conn *websocket.Conn, identity *Identity) *Client {
	c := &Client{
		gw:       g,
		conn:     conn,
		ID:       uuid.NewString(),
		identity: identity,
		send:     make(chan *protocol.Message, g.sendBuffer),
	}
	c.logger = g.logger.With(zap.String("socket", c.ID))

	g.live.Add(1)
	g.mu.Lock()
	g.clients[c.ID] = c
	g.mu.Unlock()
	metrics.OpenConnections.Inc()

	c.logger.Debug("client registered", zap.String("remote", conn.RemoteAddr().String()))

	go c.WritePump()
	go c.ReadPump()
	return c
}

func (g *Gateway) unregister(c *Client) {
	g.leaveRoom(c)

	g.mu.Lock()
	delete(g.clients, c.ID)
	g.mu.Unlock()
	metrics.OpenConnections.Dec()

	// Nobody can reach c through the registry anymore, so closing send is safe.
	close(c.send)
	c.logger.Debug("client unregistered")
	g.live.Done()
}

// Close drops every connection and waits until each one has left its room,
// so their presence events have been observed. Stop accepting new
// connections before calling it.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.RLock()
	open := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		open = append(open, c)
	}
	g.mu.RUnlock()

	for _, c := range open {
		c.kick()
	}

	done := make(chan struct{})
	go func() {
		g.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		if len(open) > 0 {
			g.logger.Info("closed connections", zap.Int("count", len(open)))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) client(id string) (*Client, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.clients[id]
	return c, ok
}

// enqueue queues msg for c without blocking. A client whose queue is full is
// dropped.
func (g *Gateway) enqueue(c *Client, msg *protocol.Message) {
	select {
	case c.send <- msg:
	default:
		metrics.SlowConsumersTotal.Inc()
		c.logger.Warn("send queue full, dropping connection")
		c.kick()
	}
}

// broadcast queues msg for every member of the room except the one with
// connection id skip. Callers hold the room lock.
func (g *Gateway) broadcast(roomID, skip string, msg *protocol.Message) int {
	n := 0
	for _, p := range g.registry.ListActive(roomID) {
		if p.ConnectionID == skip {
			continue
		}
		if c, ok := g.client(p.ConnectionID); ok {
			g.enqueue(c, msg)
			n++
		}
	}
	return n
}

func (g *Gateway) observe(kind registry.EventKind, p registry.Participant, at time.Time) {
	if g.presence == nil {
		return
	}
	g.presence.ObservePresence(registry.Event{Kind: kind, Participant: p, At: at})
}

func (g *Gateway) updateGauges() {
	metrics.ActiveRooms.Set(float64(g.registry.RoomCount()))
	metrics.ActiveParticipants.Set(float64(g.registry.ParticipantCount()))
}

// handle routes one inbound message. It runs on the sender's read goroutine.
func (g *Gateway) handle(c *Client, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeJoin:
		g.handleJoin(c, msg)
	case protocol.TypeLeave:
		g.handleLeave(c, msg)
	case protocol.TypeOffer:
		g.handleOffer(c, msg)
	case protocol.TypeAnswer:
		g.handleAnswer(c, msg)
	case protocol.TypeICECandidate:
		g.handleICECandidate(c, msg)
	case protocol.TypeChat:
		g.handleChat(c, msg)
	case protocol.TypeMarkAttendance:
		g.handleMarkAttendance(c, msg)
	default:
		c.logger.Debug("unknown message type", zap.String("type", msg.Type))
		c.reply(protocol.NewError(protocol.CodeBadRequest, "unknown message type: "+msg.Type))
	}
}

// EndRoom tells every member the class is over, removes them from the room
// and closes their connections once the notice is flushed.
func (g *Gateway) EndRoom(roomID string) int {
	unlock := g.locks.acquire(roomID)
	defer unlock()

	notice, _ := protocol.New(protocol.TypeClassEnded, protocol.ClassEndedPayload{ClassID: roomID})
	now := time.Now()
	members := g.registry.ListActive(roomID)
	for _, p := range members {
		g.registry.Leave(roomID, p.ConnectionID)
		g.observe(registry.EventLeft, p, now)
		if c, ok := g.client(p.ConnectionID); ok {
			g.enqueue(c, notice)
			g.enqueue(c, nil)
		}
	}
	g.updateGauges()

	if len(members) > 0 {
		g.logger.Info("room ended", zap.String("room", roomID), zap.Int("participants", len(members)))
	}
	return len(members)
}

// Broadcast sends msg to every member of a room, in order with the room's
// other traffic.
func (g *Gateway) Broadcast(roomID string, msg *protocol.Message) int {
	unlock := g.locks.acquire(roomID)
	defer unlock()
	return g.broadcast(roomID, "", msg)
}

// Roster returns the live participants of a room.
func (g *Gateway) Roster(roomID string) []protocol.ParticipantInfo {
	members := g.registry.ListActive(roomID)
	out := make([]protocol.ParticipantInfo, 0, len(members))
	for _, p := range members {
		out = append(out, participantInfo(p))
	}
	return out
}

func collaboratorContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), collaboratorWait)
}
