// Package server exposes the signaling gateway and the classroom REST API
// over HTTP.
package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/attendance"
	"github.com/BioHazard786/classmesh/internal/auth"
	"github.com/BioHazard786/classmesh/internal/config"
	"github.com/BioHazard786/classmesh/internal/metrics"
	"github.com/BioHazard786/classmesh/internal/sessions"
	"github.com/BioHazard786/classmesh/internal/signaling"
)

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Gateway    *signaling.Gateway
	Sessions   *sessions.Service
	Attendance *attendance.Deriver
	Auth       *auth.Authenticator
	Directory  *attendance.MemoryDirectory
	Logger     *zap.Logger
}

type Server struct {
	Deps
	cfg      *config.Server
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func New(cfg *config.Server, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		Deps:     deps,
		cfg:      cfg,
		validate: validator.New(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", auth.HeaderUserID, auth.HeaderUserRole, auth.HeaderUserName},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	authn := auth.Middleware(s.Auth, s.remember)
	r.With(authn).Get("/ws", s.serveWs)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authn)
		r.Use(auth.RequireUser)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Post("/start", s.startSession)
				r.Post("/end", s.endSession)
				r.Post("/cancel", s.cancelSession)
				r.Post("/join", s.joinSession)
				r.Get("/participants", s.participants)

				r.Get("/attendance", s.listAttendance)
				r.Post("/attendance", s.markAttendance)
				r.Post("/attendance/batch", s.markAttendanceBatch)
				r.Get("/attendance/export", s.exportAttendance)
			})
		})
	})
	return r
}

// Health Check endpoint
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

// remember feeds authenticated callers into the export directory.
func (s *Server) remember(c *auth.Claims) {
	if s.Directory == nil {
		return
	}
	s.Directory.Remember(c.UserID(), attendance.Contact{Name: c.Name, Email: c.Email})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// logRequests logs each request and records its duration by route pattern.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.RequestDuration.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))

		s.Logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
