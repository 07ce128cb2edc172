package signaling

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/attendance"
	"github.com/BioHazard786/classmesh/internal/metrics"
	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/registry"
)

// decode unpacks and validates a payload, answering bad_request on failure.
func (g *Gateway) decode(c *Client, msg *protocol.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		c.reply(protocol.NewError(protocol.CodeBadRequest, "malformed "+msg.Type+" payload"))
		return false
	}
	if err := g.validate.Struct(v); err != nil {
		c.reply(protocol.NewError(protocol.CodeBadRequest, err.Error()))
		return false
	}
	return true
}

// requireRoom answers not_in_room when c has not joined a class.
func (g *Gateway) requireRoom(c *Client, msgType string) bool {
	if c.roomID != "" {
		return true
	}
	c.logger.Debug("message outside a room", zap.String("type", msgType))
	c.reply(protocol.NewError(protocol.CodeNotInRoom, "you must join a class first"))
	return false
}

func (g *Gateway) handleJoin(c *Client, msg *protocol.Message) {
	var p protocol.JoinPayload
	if !g.decode(c, msg, &p) {
		metrics.JoinsTotal.WithLabelValues("invalid").Inc()
		return
	}
	role := registry.Role(p.UserType)

	if c.identity != nil && (c.identity.UserID != p.UserID || c.identity.Role != role) {
		metrics.JoinsTotal.WithLabelValues("unauthorized").Inc()
		c.reply(protocol.NewError(protocol.CodeUnauthorized, "join identity does not match credentials"))
		return
	}

	// A connection lives in at most one room.
	if c.roomID != "" {
		g.leaveRoom(c)
	}

	if g.admission != nil {
		ctx, cancel := collaboratorContext()
		err := g.admission.AdmitJoin(ctx, p.ClassID, p.UserID, role)
		cancel()
		if err != nil {
			metrics.JoinsTotal.WithLabelValues("rejected").Inc()
			c.logger.Info("join rejected",
				zap.String("room", p.ClassID),
				zap.String("user", p.UserID),
				zap.Error(err),
			)
			c.reply(protocol.NewError(protocol.CodeJoinRejected, err.Error()))
			return
		}
	}

	unlock := g.locks.acquire(p.ClassID)
	defer unlock()

	participant := registry.Participant{
		UserID:       p.UserID,
		ConnectionID: c.ID,
		Role:         role,
		DisplayName:  p.UserName,
		JoinedAt:     time.Now(),
	}
	existing, err := g.registry.Join(p.ClassID, participant)
	if err != nil {
		metrics.JoinsTotal.WithLabelValues("invalid").Inc()
		c.reply(protocol.NewError(protocol.CodeBadRequest, err.Error()))
		return
	}
	participant.SessionID = p.ClassID
	c.roomID = p.ClassID
	c.participant = participant

	// Existing members initiate the links toward the newcomer.
	announce, _ := protocol.New(protocol.TypeParticipantJoined, c.info())
	roster := make([]protocol.ParticipantInfo, 0, len(existing))
	for _, other := range existing {
		roster = append(roster, participantInfo(other))
		if oc, ok := g.client(other.ConnectionID); ok {
			g.enqueue(oc, announce)
		}
	}

	ack, _ := protocol.New(protocol.TypeJoined, protocol.JoinedPayload{
		ClassID:      p.ClassID,
		SocketID:     c.ID,
		Participants: roster,
	})
	c.reply(ack)

	g.observe(registry.EventJoined, participant, participant.JoinedAt)
	g.updateGauges()
	metrics.JoinsTotal.WithLabelValues("ok").Inc()

	c.logger.Info("joined class",
		zap.String("room", p.ClassID),
		zap.String("user", p.UserID),
		zap.String("role", p.UserType),
		zap.Int("peers", len(existing)),
	)
}

func (g *Gateway) handleLeave(c *Client, _ *protocol.Message) {
	if !g.requireRoom(c, protocol.TypeLeave) {
		return
	}
	g.leaveRoom(c)
}

// leaveRoom removes c from its room and tells the remaining members.
func (g *Gateway) leaveRoom(c *Client) {
	roomID := c.roomID
	if roomID == "" {
		return
	}
	c.roomID = ""
	c.participant = registry.Participant{}

	unlock := g.locks.acquire(roomID)
	defer unlock()

	// Gone already when the room was ended.
	p, ok := g.registry.Leave(roomID, c.ID)
	if !ok {
		return
	}

	notice, _ := protocol.New(protocol.TypeParticipantLeft, protocol.ParticipantLeftPayload{
		UserID:   p.UserID,
		UserType: string(p.Role),
		SocketID: p.ConnectionID,
	})
	g.broadcast(roomID, c.ID, notice)
	g.observe(registry.EventLeft, p, time.Now())
	g.updateGauges()

	c.logger.Info("left class", zap.String("room", roomID), zap.String("user", p.UserID))
}

func (g *Gateway) handleOffer(c *Client, msg *protocol.Message) {
	if !g.requireRoom(c, msg.Type) {
		return
	}
	var p protocol.OfferPayload
	if !g.decode(c, msg, &p) {
		return
	}
	target := p.TargetSocketID
	p.TargetSocketID = ""
	p.FromSocketID = c.ID
	p.FromUserID = c.participant.UserID
	g.relay(c, msg.Type, target, p)
}

func (g *Gateway) handleAnswer(c *Client, msg *protocol.Message) {
	if !g.requireRoom(c, msg.Type) {
		return
	}
	var p protocol.AnswerPayload
	if !g.decode(c, msg, &p) {
		return
	}
	target := p.TargetSocketID
	p.TargetSocketID = ""
	p.FromSocketID = c.ID
	p.FromUserID = c.participant.UserID
	g.relay(c, msg.Type, target, p)
}

func (g *Gateway) handleICECandidate(c *Client, msg *protocol.Message) {
	if !g.requireRoom(c, msg.Type) {
		return
	}
	var p protocol.ICECandidatePayload
	if !g.decode(c, msg, &p) {
		return
	}
	target := p.TargetSocketID
	p.TargetSocketID = ""
	p.FromSocketID = c.ID
	p.FromUserID = c.participant.UserID
	g.relay(c, msg.Type, target, p)
}

// relay forwards a signal to exactly one member of the sender's room. Signals
// for connections that are gone or live in another room are dropped.
func (g *Gateway) relay(c *Client, msgType, target string, payload any) {
	roomID := c.roomID
	unlock := g.locks.acquire(roomID)
	defer unlock()

	if target == "" || target == c.ID {
		metrics.SignalsDroppedTotal.WithLabelValues(msgType).Inc()
		c.logger.Debug("dropping signal without a valid target", zap.String("type", msgType))
		return
	}
	if _, ok := g.registry.Lookup(roomID, target); !ok {
		metrics.SignalsDroppedTotal.WithLabelValues(msgType).Inc()
		c.logger.Debug("dropping signal for unknown target",
			zap.String("type", msgType),
			zap.String("target", target),
		)
		return
	}
	tc, ok := g.client(target)
	if !ok {
		metrics.SignalsDroppedTotal.WithLabelValues(msgType).Inc()
		return
	}

	out, err := protocol.New(msgType, payload)
	if err != nil {
		c.logger.Error("encode signal", zap.Error(err))
		return
	}
	g.enqueue(tc, out)
	metrics.SignalsRelayedTotal.WithLabelValues(msgType).Inc()
}

func (g *Gateway) handleChat(c *Client, msg *protocol.Message) {
	if !g.requireRoom(c, msg.Type) {
		return
	}
	var p protocol.ChatPayload
	if !g.decode(c, msg, &p) {
		return
	}

	// Sender fields always come from the registered participant.
	p.ClassID = c.roomID
	p.Sender = string(c.participant.Role)
	p.UserName = c.participant.DisplayName
	p.UserID = c.participant.UserID
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	out, err := protocol.New(protocol.TypeChat, p)
	if err != nil {
		c.logger.Error("encode chat", zap.Error(err))
		return
	}

	unlock := g.locks.acquire(c.roomID)
	defer unlock()
	g.broadcast(c.roomID, c.ID, out)
	metrics.ChatMessagesTotal.Inc()
}

func (g *Gateway) handleMarkAttendance(c *Client, msg *protocol.Message) {
	if !g.requireRoom(c, msg.Type) {
		return
	}
	if c.participant.Role != registry.RoleTeacher {
		metrics.AttendanceWritesTotal.WithLabelValues("manual", "unauthorized").Inc()
		c.reply(protocol.NewError(protocol.CodeUnauthorized, "only the teacher can mark attendance"))
		return
	}
	var p protocol.MarkAttendancePayload
	if !g.decode(c, msg, &p) {
		return
	}
	if p.ClassID != "" && p.ClassID != c.roomID {
		c.reply(protocol.NewError(protocol.CodeBadRequest, "classId does not match the joined class"))
		return
	}
	if g.attendance == nil {
		c.reply(protocol.NewError(protocol.CodeInternal, "attendance is not available"))
		return
	}

	roomID := c.roomID
	ctx, cancel := collaboratorContext()
	err := g.attendance.Mark(ctx, roomID, p.StudentID, p.IsPresent, c.participant.UserID)
	cancel()
	if err != nil {
		c.reply(g.markError(c, roomID, p.StudentID, err))
		return
	}

	out, _ := protocol.New(protocol.TypeAttendanceMarked, protocol.AttendanceMarkedPayload{
		ClassID:   roomID,
		StudentID: p.StudentID,
		IsPresent: p.IsPresent,
		MarkedBy:  c.participant.UserID,
	})

	unlock := g.locks.acquire(roomID)
	defer unlock()
	g.broadcast(roomID, "", out)
}

// markError turns a rejected mark into the error sent back to the teacher.
func (g *Gateway) markError(c *Client, roomID, studentID string, err error) *protocol.Message {
	switch {
	case errors.Is(err, attendance.ErrUnauthorized):
		c.logger.Debug("mark attendance rejected", zap.String("room", roomID), zap.Error(err))
		return protocol.NewError(protocol.CodeUnauthorized, "you cannot mark attendance for this class")
	case errors.Is(err, attendance.ErrInvalid):
		return protocol.NewError(protocol.CodeBadRequest, "studentId is required")
	}
	c.logger.Error("mark attendance",
		zap.String("room", roomID),
		zap.String("student", studentID),
		zap.Error(err),
	)
	return protocol.NewError(protocol.CodeInternal, "failed to record attendance")
}
