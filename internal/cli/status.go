package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/clnode/internal/client"
	"github.com/p-blackswan/clnode/internal/store"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and active sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.clientConfig()
			if err != nil {
				return err
			}
			c := client.NewClient(cfg.URL, opts.clientLogger(cfg, cmd.ErrOrStderr()))
			ctx := cmd.Context()

			h, err := c.Health(ctx)
			if err != nil {
				return fmt.Errorf("daemon at %s: %w", c.BaseURL(), err)
			}
			sessions, err := c.ListSessions(ctx, true)
			if err != nil {
				return err
			}
			agents, err := c.ListAgents(ctx, true)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), c.BaseURL(), h, sessions, agents)
			return nil
		},
	}
}

func printStatus(w io.Writer, url string, h *client.Health, sessions []store.Session, agents []store.Agent) {
	fmt.Fprintf(w, "clnode %s at %s\n", h.Status, url)
	fmt.Fprintf(w, "  uptime:   %s\n", h.UptimeDuration().Truncate(time.Second))
	fmt.Fprintf(w, "  database: %s\n", humanize.Bytes(uint64(h.DBSizeBytes)))
	fmt.Fprintf(w, "  watchers: %d\n", h.Subscribers)

	fmt.Fprintf(w, "\nActive sessions (%d)\n", len(sessions))
	for _, s := range sessions {
		project := "-"
		if s.ProjectID != nil {
			project = *s.ProjectID
		}
		fmt.Fprintf(w, "  %s  project=%s  started %s\n", s.ID, project, humanize.Time(s.StartedAt))
	}

	fmt.Fprintf(w, "\nActive agents (%d)\n", len(agents))
	for _, a := range agents {
		fmt.Fprintf(w, "  %s  %s  session=%s  started %s\n", a.ID, a.AgentName, a.SessionID, humanize.Time(a.StartedAt))
	}
}
