package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/mastery-engine/internal/client/latest"
	"github.com/alem-hub/mastery-engine/internal/client/remote"
	"github.com/alem-hub/mastery-engine/pkg/logger"
)

// NewSprintCommand creates the sprint command.
func NewSprintCommand() *cobra.Command {
	var watch time.Duration

	cmd := &cobra.Command{
		Use:   "sprint",
		Short: "Show today's practice sprint",
		Long: `Show today's practice sprint.

With --watch the sprint is refetched on every tick. A slow fetch is
abandoned as soon as the next one starts, so the output never goes
back to an older answer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd.Context())
			if err := app.requireAccount(); err != nil {
				return err
			}
			if watch <= 0 {
				s, err := app.Remote.FetchSprint(cmd.Context())
				if err != nil {
					return err
				}
				return app.printSprint(s)
			}
			return app.watchSprint(cmd.Context(), watch)
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "refresh interval (0 prints once)")
	return cmd
}

func (a *App) watchSprint(ctx context.Context, every time.Duration) error {
	var (
		guard latest.Guard
		wg    sync.WaitGroup
	)
	defer wg.Wait()
	defer guard.Cancel()

	// Printing happens inside the guard, so an older fetch can never print
	// after a newer one.
	show := func(s remote.Sprint, err error) {
		if err != nil {
			a.Log.Warn("sprint refresh failed", logger.Err(err))
			fmt.Fprintf(a.out, "sprint unavailable: %v\n", err)
			return
		}
		_ = a.printSprint(s)
	}
	fetch := func() {
		defer wg.Done()
		_ = latest.Deliver(ctx, &guard, a.Remote.FetchSprint, show)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	wg.Add(1)
	go fetch()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			wg.Add(1)
			go fetch()
		}
	}
}

func (a *App) printSprint(s remote.Sprint) error {
	return a.print(s, func(w io.Writer) {
		fmt.Fprintf(w, "sprint for %s (%d problems)\n", s.Date, len(s.Items))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tPROBLEM\tTAG\tDIFFICULTY\tXP")
		for i, item := range s.Items {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", i+1, item.Problem.ID, item.Tag, item.Problem.Difficulty, item.Problem.XPReward)
		}
		tw.Flush()
	})
}
