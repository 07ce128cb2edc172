package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/classmesh/internal/attendance"
	"github.com/BioHazard786/classmesh/internal/auth"
	"github.com/BioHazard786/classmesh/internal/config"
	"github.com/BioHazard786/classmesh/internal/database"
	"github.com/BioHazard786/classmesh/internal/logging"
	"github.com/BioHazard786/classmesh/internal/registry"
	"github.com/BioHazard786/classmesh/internal/server"
	"github.com/BioHazard786/classmesh/internal/sessions"
	"github.com/BioHazard786/classmesh/internal/signaling"
	"github.com/BioHazard786/classmesh/internal/version"
)

var dotenvPath string

var rootCmd = &cobra.Command{
	Use:     "classmesh-server",
	Short:   "Signaling gateway and attendance service for virtual classrooms",
	Version: version.Version,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadServer(cmd.Flags(), dotenvPath)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&dotenvPath, "env-file", config.DefaultDotEnv, "dotenv file to read")
	f.String("listen-addr", config.DefaultListenAddr, "HTTP listen address")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("database-url", "", "Postgres URL; empty keeps state in memory")
	f.String("auth-secret", "", "HS256 secret for bearer tokens; empty disables auth")
	f.String("allowed-origins", "*", "comma separated CORS/websocket origins")
	f.String("public-url", "", "externally visible base URL")
	f.String("stun-server", config.DefaultSTUN, "STUN server handed to clients")
	f.String("turn-server", "", "TURN server handed to clients")
	f.String("turn-user", "", "TURN username")
	f.String("turn-pass", "", "TURN password")
	f.Int("send-buffer", config.DefaultSendBuffer, "outbound messages queued per connection")
	f.Int("presence-backlog-warn", config.DefaultPresenceBacklogWarn, "presence backlog that triggers a warning")
}

func run(ctx context.Context, cfg *config.Server) error {
	logger, err := logging.NewServer(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	sessStore, attStore, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sess := sessions.NewService(sessStore, logger.Named("sessions"))
	dir := attendance.NewMemoryDirectory()
	deriver := attendance.New(attendance.Options{
		Store:       attStore,
		Authorizer:  sess,
		Directory:   dir,
		Logger:      logger.Named("attendance"),
		BacklogWarn: cfg.PresenceBacklogWarn,
	})
	gw := signaling.New(signaling.Options{
		Registry:   registry.New(),
		Presence:   deriver,
		Attendance: deriver,
		Admission:  sess,
		Logger:     logger.Named("gateway"),
		SendBuffer: cfg.SendBuffer,
	})

	authn := auth.New(cfg.AuthSecret)
	if authn == nil {
		logger.Warn("auth_secret is empty, identities are taken from X-User-* headers")
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.New(cfg, server.Deps{
			Gateway:    gw,
			Sessions:   sess,
			Attendance: deriver,
			Auth:       authn,
			Directory:  dir,
			Logger:     logger.Named("http"),
		}).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The deriver outlives the listener so leaves caused by shutdown are
	// still recorded.
	presenceCtx, stopPresence := context.WithCancel(context.Background())
	defer stopPresence()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := deriver.Run(presenceCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Info("signaling server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopPresence()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		err := srv.Shutdown(shutdownCtx)
		if cerr := gw.Close(shutdownCtx); cerr != nil {
			logger.Warn("websocket connections still open", zap.Error(cerr))
		}
		return err
	})
	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Server, logger *zap.Logger) (sessions.Store, attendance.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no database_url, keeping sessions and attendance in memory")
		return sessions.NewMemoryStore(), attendance.NewMemoryStore(), nil
	}
	db, err := database.Open(ctx, cfg.DatabaseURL, logger.Named("db"))
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db, &sessions.Session{}, &attendance.Record{}); err != nil {
		return nil, nil, err
	}
	return sessions.NewGormStore(db), attendance.NewGormStore(db), nil
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
