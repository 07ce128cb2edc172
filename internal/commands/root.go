// Package commands implements the classroom CLI.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/classmesh/internal/config"
	"github.com/BioHazard786/classmesh/internal/ui"
	"github.com/BioHazard786/classmesh/internal/version"
)

var flagEnvFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "classroom",
	Short: "Join virtual classes and manage sessions and attendance",
	Long: `classroom connects to a ClassMesh gateway. Teachers schedule and run
sessions and keep attendance; everyone can join a live class, chat, and
exchange media with the rest of the room over WebRTC.`,
	Version: version.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagEnvFile, "env-file", config.DefaultDotEnv, "dotenv file to read")
	pf.String("server", config.DefaultServer, "gateway address (host:port or URL)")
	pf.Bool("insecure", false, "use http/ws instead of https/wss")
	pf.String("token", "", "bearer token")
	pf.String("user-id", "", "your user id")
	pf.String("user-name", "", "display name")
	pf.String("role", "student", "teacher or student")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(joinCmd(), sessionCmd(), attendanceCmd(), tokenCmd())
}

// loadConfig reads the client configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Client, error) {
	return config.LoadClient(cmd.Flags(), flagEnvFile)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
