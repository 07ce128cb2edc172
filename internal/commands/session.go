package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/classmesh/internal/sessions"
	"github.com/BioHazard786/classmesh/internal/ui"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"s"},
		Short:   "Schedule and run class sessions",
	}
	cmd.AddCommand(
		sessionCreateCmd(),
		sessionShowCmd(),
		sessionTransitionCmd("start", "Go live so students can join"),
		sessionTransitionCmd("end", "End a live session and close its room"),
		sessionTransitionCmd("cancel", "Cancel a scheduled session"),
		sessionParticipantsCmd(),
	)
	return cmd
}

func sessionCreateCmd() *cobra.Command {
	var (
		title    string
		subject  string
		start    string
		duration int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a new session (teachers only)",
		Long: `Schedule a new session. The returned session id is what students pass
to "classroom join".

Examples:
  classroom session create --title "Algebra II" --subject math --duration 45
  classroom session create --title "Lab" --start 2026-03-02T09:00:00Z`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			in := sessions.CreateInput{Title: title, Subject: subject, DurationMinutes: duration}
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("--start must be RFC3339: %w", err)
				}
				in.StartTime = &t
			}
			s, err := newAPIClient(cfg).CreateSession(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Println(ui.SessionView(s))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "session title")
	cmd.Flags().StringVar(&subject, "subject", "", "subject")
	cmd.Flags().StringVar(&start, "start", "", "planned start time (RFC3339)")
	cmd.Flags().IntVar(&duration, "duration", 0, "planned length in minutes")
	cmd.MarkFlagRequired("title")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := newAPIClient(cfg).GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(ui.SessionView(s))
			return nil
		},
	}
}

func sessionTransitionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := newAPIClient(cfg).Transition(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			ui.PrintSuccessf("Session %s is now %s", s.ID, s.Status)
			return nil
		},
	}
}

func sessionParticipantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "participants <session-id>",
		Aliases: []string{"who"},
		Short:   "List who is in the live class right now",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			list, err := newAPIClient(cfg).Participants(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(ui.ParticipantsView(list))
			return nil
		},
	}
}
