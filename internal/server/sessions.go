package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BioHazard786/classmesh/internal/auth"
	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/sessions"
)

func caller(r *http.Request) *auth.Claims {
	c, _ := auth.FromContext(r.Context())
	return c
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	if !c.IsTeacher() {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "only teachers can create sessions"})
		return
	}
	var in sessions.CreateInput
	if !s.decode(w, r, &in) {
		return
	}
	sess, err := s.Sessions.Create(r.Context(), c.UserID(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type transition func(ctx context.Context, id, actorID string) (sessions.Session, error)

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request, move transition) (sessions.Session, bool) {
	sess, err := move(r.Context(), chi.URLParam(r, "sessionID"), caller(r).UserID())
	if err != nil {
		s.writeError(w, r, err)
		return sessions.Session{}, false
	}
	return sess, true
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.changeStatus(w, r, s.Sessions.Start); ok {
		writeJSON(w, http.StatusOK, sess)
	}
}

// endSession ends the session and closes its room.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.changeStatus(w, r, s.Sessions.End); ok {
		s.Gateway.EndRoom(sess.ID)
		writeJSON(w, http.StatusOK, sess)
	}
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.changeStatus(w, r, s.Sessions.Cancel); ok {
		s.Gateway.EndRoom(sess.ID)
		writeJSON(w, http.StatusOK, sess)
	}
}

// joinSession checks admission and tells the client where to connect.
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	id := chi.URLParam(r, "sessionID")
	if err := s.Sessions.AdmitJoin(r.Context(), id, c.UserID(), c.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.JoinInfo{
		SessionID:    id,
		WebSocketURL: s.websocketURL(r),
		ICEServers:   s.cfg.ICE.ICEServers(),
	})
}

func (s *Server) participants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Gateway.Roster(chi.URLParam(r, "sessionID")))
}

func (s *Server) websocketURL(r *http.Request) string {
	base := s.cfg.PublicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
