package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/auth"
	"github.com/BioHazard786/classmesh/internal/signaling"
)

// serveWs upgrades the request and hands the connection to the gateway.
// With authentication enabled the token's identity is pinned to the
// connection.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	var identity *signaling.Identity
	if s.Auth != nil {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		identity = &signaling.Identity{UserID: claims.UserID(), Role: claims.Role}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.Gateway.Attach(conn, identity)
}
