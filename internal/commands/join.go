package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/classmesh/internal/config"
	"github.com/BioHazard786/classmesh/internal/logging"
	"github.com/BioHazard786/classmesh/internal/media"
	"github.com/BioHazard786/classmesh/internal/mesh"
	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/signalclient"
	"github.com/BioHazard786/classmesh/internal/ui"
	"github.com/BioHazard786/classmesh/internal/version"
)

func joinCmd() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:     "join <session-id>",
		Aliases: []string{"j"},
		Short:   "Join a live class",
		Long: `Join a live class: see who is there, chat, and exchange media with every
other participant.

Examples:
  classroom join brave-algebra-chalk-owl --user-id s-17 --user-name Ada
  classroom join brave-algebra-chalk-owl --media none --plain
  classroom join brave-algebra-chalk-owl --media lecture.ogg --role teacher`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.UserID == "" && cfg.Token == "" {
				return fmt.Errorf("%w: set --user-id or --token", config.ErrInvalidConfig)
			}
			return joinClass(cmd.Context(), cfg, args[0], plain)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&plain, "plain", false, "print events as log lines and read chat from stdin")
	f.String("media", "silence", "local media: silence, none, or an .ogg file")
	f.String("stun", config.DefaultSTUN, "STUN server")
	f.String("turn", "", "TURN server")
	f.String("turn-user", "", "TURN username")
	f.String("turn-pass", "", "TURN password")
	f.Bool("relay", false, "force relay through the TURN server")
	return cmd
}

// classSession bundles everything one joined class needs.
type classSession struct {
	cfg     *config.Client
	classID string
	logger  *zap.Logger
	client  *signalclient.Client
	handler *signalclient.Handler
	orch    *mesh.Orchestrator
}

func joinClass(ctx context.Context, cfg *config.Client, classID string, plain bool) error {
	logger := logging.NewCLI(cfg.LogLevel)
	defer logger.Sync()

	stopSpinner := ui.RunConnectionSpinner("Checking the class...")
	info, err := newAPIClient(cfg).Join(ctx, classID)
	stopSpinner()
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("no class with id %q", classID)
		}
		return mesh.NewError("join class", err)
	}

	wsURL, err := websocketURL(cfg, info)
	if err != nil {
		return err
	}

	stopSpinner = ui.RunConnectionSpinner("Connecting to the gateway...")
	client := signalclient.NewClient(wsURL, logger.Named("signaling"),
		signalclient.WithHeader(identityHeaders(cfg)))
	err = client.Connect(ctx)
	stopSpinner()
	if err != nil {
		return mesh.NewError("connect to gateway", err)
	}
	defer client.Close()

	source, err := media.FromName(cfg.Media, logger.Named("media"))
	if err != nil {
		return err
	}

	factory := mesh.NewPionFactory(cfg.ICE, mesh.Hello{
		UserID:  cfg.UserID,
		Name:    cfg.UserName,
		Role:    cfg.Role,
		Version: strings.TrimPrefix(version.Version, "v"),
	}, logger.Named("link"))
	if cfg.ICE.TURNServer == "" && len(info.ICEServers) > 0 {
		factory.Config.ICEServers = info.ICEServers
	}

	s := &classSession{
		cfg:     cfg,
		classID: classID,
		logger:  logger,
		client:  client,
		handler: signalclient.NewHandler(client, logger.Named("signaling")),
		orch: mesh.New(mesh.Options{
			Signaler: client,
			Factory:  factory,
			Media:    source,
			Logger:   logger.Named("mesh"),
		}),
	}
	go s.handler.Start()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.orch.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	self := mesh.Peer{UserID: cfg.UserID, UserType: cfg.Role, UserName: cfg.UserName}
	if err := s.orch.Join(ctx, classID, self); err != nil {
		cancel()
		g.Wait()
		return err
	}

	if plain {
		err = s.runPlain(gctx, os.Stdin)
	} else {
		err = s.runInteractive(gctx)
	}

	if leaveErr := s.orch.Leave(); leaveErr != nil && !errors.Is(leaveErr, mesh.ErrStopped) {
		logger.Debug("leave", zap.Error(leaveErr))
	}
	cancel()
	if waitErr := g.Wait(); err == nil {
		err = waitErr
	}
	return err
}

// websocketURL prefers the URL the server advertised and carries the token.
func websocketURL(cfg *config.Client, info protocol.JoinInfo) (string, error) {
	if info.WebSocketURL == "" {
		return cfg.WebSocketURL()
	}
	u, err := url.Parse(info.WebSocketURL)
	if err != nil {
		return "", fmt.Errorf("server sent a bad websocket URL: %w", err)
	}
	if cfg.Token != "" {
		q := u.Query()
		q.Set("token", cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// roomActions sends the class view's requests over the gateway.
type roomActions struct {
	client  *signalclient.Client
	classID string
}

func (a roomActions) Chat(text string) error {
	return a.client.Chat(a.classID, text)
}

func (a roomActions) Mark(studentID string, isPresent bool) error {
	return a.client.MarkAttendance(a.classID, studentID, isPresent)
}

func (s *classSession) runInteractive(ctx context.Context) error {
	model := ui.NewClassroomModel(s.classID, s.cfg.UserName, s.cfg.Role, roomActions{s.client, s.classID})
	defer model.Close()

	go func() {
		for ev := range s.handler.Events {
			s.orch.Handle(ev)
			model.Push(ui.EventMsg{Event: ev})
		}
		model.Push(ui.EventMsg{Event: signalclient.Event{
			Type:  protocol.TypeClassEnded,
			Ended: &protocol.ClassEndedPayload{ClassID: s.classID},
		}})
	}()
	go func() {
		for {
			select {
			case n := <-s.orch.Notices():
				model.Push(ui.NoticeMsg{Notice: n})
			case <-ctx.Done():
				return
			}
		}
	}()

	_, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// runPlain prints events as lines and sends each stdin line as chat.
func (s *classSession) runPlain(ctx context.Context, in io.Reader) error {
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			if err := s.client.Chat(s.classID, text); err != nil {
				ui.PrintWarningf("chat not sent: %v", err)
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-s.orch.Notices():
			printNotice(n)
		case ev, ok := <-s.handler.Events:
			if !ok {
				ui.PrintWarning("connection to the gateway closed")
				return nil
			}
			s.orch.Handle(ev)
			if done := printEvent(ev); done {
				return nil
			}
		}
	}
}

// printEvent writes one gateway event. It reports true once the class has
// ended.
func printEvent(ev signalclient.Event) bool {
	switch ev.Type {
	case protocol.TypeJoined:
		ui.PrintSuccessf("Joined %s as %s (%d already here)", ev.Joined.ClassID, ev.Joined.SocketID, len(ev.Joined.Participants))
		for _, p := range ev.Joined.Participants {
			ui.PrintInfof("%s %s is here", ui.RoleIcon(p.UserType), displayName(p))
		}
	case protocol.TypeParticipantJoined:
		ui.PrintInfof("%s %s joined", ui.RoleIcon(ev.Participant.UserType), displayName(*ev.Participant))
	case protocol.TypeParticipantLeft:
		ui.PrintInfof("%s left", ev.Left.UserID)
	case protocol.TypeChat:
		fmt.Printf("%s [%s] %s: %s\n", ui.IconChat, ev.Chat.Timestamp.Local().Format("15:04"), ev.Chat.UserName, ev.Chat.Message)
	case protocol.TypeAttendanceMarked:
		state := "absent"
		if ev.Marked.IsPresent {
			state = "present"
		}
		ui.PrintInfof("%s marked %s by %s", ev.Marked.StudentID, state, ev.Marked.MarkedBy)
	case protocol.TypeClassEnded:
		ui.PrintSuccess("The class has ended")
		return true
	case protocol.TypeError:
		ui.PrintErrorf("%s (%s)", ev.Error.Error, ev.Error.Code)
	}
	return false
}

func printNotice(n mesh.Notice) {
	switch n.Kind {
	case mesh.NoticeLinkState:
		if n.State == mesh.StateConnected || n.State == mesh.StateClosed {
			ui.PrintInfof("%s link to %s %s", ui.IconConnect, n.Peer.UserID, n.State)
		}
	case mesh.NoticeTransport:
		ui.PrintInfof("%s media path to %s %s", ui.IconConnect, n.Peer.UserID, n.Transport)
	case mesh.NoticeHello:
		if n.Hello == nil {
			return
		}
		ui.PrintInfof("%s says hello (v%s)", n.Hello.Name, n.Hello.Version)
	case mesh.NoticeWarning:
		ui.PrintWarning(n.Err.Error())
	}
}

func displayName(p protocol.ParticipantInfo) string {
	if p.UserName != "" {
		return p.UserName
	}
	return p.UserID
}
