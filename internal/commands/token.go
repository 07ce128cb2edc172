package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/classmesh/internal/auth"
	"github.com/BioHazard786/classmesh/internal/config"
	"github.com/BioHazard786/classmesh/internal/registry"
)

func tokenCmd() *cobra.Command {
	var (
		secret string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the configured user",
		Long: `Issue a token signed with the gateway's auth secret. Meant for local
setups and tests; production deployments get tokens from their identity
provider.

Example:
  classroom token --secret dev --user-id t-1 --user-name "Ms. Frizzle" --role teacher`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if secret == "" {
				secret = os.Getenv(config.EnvPrefix + "_AUTH_SECRET")
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set " + config.EnvPrefix + "_AUTH_SECRET")
			}
			if cfg.UserID == "" {
				return errors.New("--user-id is required")
			}
			tok, err := auth.New(secret).Issue(cfg.UserID, registry.Role(cfg.Role), cfg.UserName, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret the gateway verifies with")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
