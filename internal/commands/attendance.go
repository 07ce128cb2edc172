package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/classmesh/internal/ui"
)

func attendanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "attendance",
		Aliases: []string{"att"},
		Short:   "Review and correct attendance (teachers only)",
	}
	cmd.AddCommand(attendanceListCmd(), attendanceMarkCmd(), attendanceExportCmd())
	return cmd
}

func attendanceListCmd() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "Show the attendance sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			recs, err := newAPIClient(cfg).Attendance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if plain {
				fmt.Fprintln(cmd.OutOrStdout(), ui.AttendanceText(recs))
				return nil
			}
			fmt.Println(ui.AttendanceView(recs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "plain text table without colors")
	return cmd
}

func attendanceMarkCmd() *cobra.Command {
	var absent bool
	cmd := &cobra.Command{
		Use:   "mark <session-id> <student-id>...",
		Short: "Mark students present, or absent with --absent",
		Long: `Mark one or more students. Several students are marked in one batch and
each gets its own result.

Examples:
  classroom attendance mark brave-algebra-chalk-owl s-17
  classroom attendance mark brave-algebra-chalk-owl s-17 s-18 s-21 --absent`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			api := newAPIClient(cfg)
			sessionID, students := args[0], args[1:]
			status := "present"
			if absent {
				status = "absent"
			}

			if len(students) == 1 {
				if err := api.Mark(cmd.Context(), sessionID, students[0], !absent); err != nil {
					return err
				}
				ui.PrintSuccessf("%s marked %s", students[0], status)
				return nil
			}

			resp, err := api.MarkBatch(cmd.Context(), sessionID, students, !absent)
			if err != nil {
				return err
			}
			fmt.Println(ui.BatchResultView(resp.Results))
			failed := 0
			for _, r := range resp.Results {
				if !r.OK {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d students could not be marked", failed, len(resp.Results))
			}
			ui.PrintSuccessf("%d students marked %s", len(resp.Results), status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&absent, "absent", false, "mark absent instead of present")
	return cmd
}

func attendanceExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Download the attendance sheet as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := newAPIClient(cfg).Export(cmd.Context(), args[0], w); err != nil {
				return err
			}
			if output != "" && output != "-" {
				ui.PrintSuccessf("Attendance written to %s", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}
