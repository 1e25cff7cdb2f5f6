package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage problems saved for offline use",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <problem-id>",
		Short: "Show a problem, from the server or the offline cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd.Context())
			raw, err := app.Sync.GetContent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.printRaw(raw)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save <problem-id>...",
		Short: "Download problems and keep them available offline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd.Context())
			ctx := cmd.Context()
			for _, id := range args {
				raw, err := app.Sync.GetContent(ctx, id)
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				if err := app.Sync.SaveContent(ctx, id, raw, app.Clock.Now()); err != nil {
					return err
				}
				fmt.Fprintf(app.out, "saved %s\n", id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "rm <problem-id>...",
		Aliases: []string{"remove"},
		Short:   "Remove problems from the offline cache",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd.Context())
			for _, id := range args {
				if err := app.Sync.RemoveContent(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List problems saved for offline use",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd.Context())
			entries, err := app.Sync.CachedContent(cmd.Context())
			if err != nil {
				return err
			}

			type row struct {
				ID       string    `json:"id"`
				CachedAt time.Time `json:"cachedAt"`
			}
			rows := make([]row, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, row{ID: e.ID, CachedAt: e.CachedAt})
			}

			return app.print(rows, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCACHED AT")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\n", r.ID, r.CachedAt.Format(time.RFC3339))
				}
				tw.Flush()
			})
		},
	})

	return cmd
}
