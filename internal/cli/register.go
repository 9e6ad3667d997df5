package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/clnode/internal/client"
	"github.com/p-blackswan/clnode/internal/retry"
)

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "register [path]",
		Short: "Register a project directory with the daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", dir, err)
			}
			if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
				return fmt.Errorf("%s is not a directory", abs)
			}

			cfg, err := opts.clientConfig()
			if err != nil {
				return err
			}
			logger := opts.clientLogger(cfg, cmd.ErrOrStderr())
			c := client.NewClient(cfg.URL, logger)

			rc := retry.DefaultConfig()
			rc.OnRetry = func(attempt int, err error, delay time.Duration) {
				logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("daemon not ready, retrying")
			}

			var projectID string
			err = retry.Do(cmd.Context(), rc, func(ctx context.Context) error {
				var err error
				projectID, err = c.RegisterProject(ctx, abs, id, name)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s as %s\n", abs, projectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (default: slug of the directory name)")
	cmd.Flags().StringVar(&name, "name", "", "project name (default: directory name)")
	return cmd
}
