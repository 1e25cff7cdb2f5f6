package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

type statusView struct {
	AccountID string           `json:"accountId"`
	Online    bool             `json:"online"`
	Ledger    *progress.Ledger `json:"ledger,omitempty"`
	Pending   int              `json:"pendingSync"`
	Rejected  int              `json:"rejected"`
	Circuit   string           `json:"circuit"`
}

// NewStatusCommand creates the status command: ledger summary when the
// server is reachable, plus the local sync indicator.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger summary and pending sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd.Context())
			if err := app.requireAccount(); err != nil {
				return err
			}
			ctx := cmd.Context()

			view := statusView{AccountID: app.Config.AccountID, Online: true}

			ledger, err := app.Remote.FetchLedger(ctx)
			switch {
			case err == nil:
				view.Ledger = &ledger
			case shared.IsNetworkUnavailable(err):
				view.Online = false
			default:
				return err
			}

			if view.Pending, err = app.Sync.PendingCount(ctx); err != nil {
				return err
			}
			rejected, err := app.Sync.Rejected(ctx)
			if err != nil {
				return err
			}
			view.Rejected = len(rejected)
			view.Circuit = app.Remote.BreakerState().String()

			return app.print(view, func(w io.Writer) {
				fmt.Fprintf(w, "account   %s\n", view.AccountID)
				if l := view.Ledger; l != nil {
					fmt.Fprintf(w, "level     %d (%d XP)\n", l.Level, l.TotalXP)
					fmt.Fprintf(w, "streak    %d (best %d)\n", l.CurrentStreak, l.LongestStreak)
					fmt.Fprintf(w, "league    %s, %d XP this week\n", l.CurrentLeague, l.WeeklyXP)
					fmt.Fprintf(w, "balance   %d XP\n", l.XPBalance)
				} else {
					fmt.Fprintln(w, "server    unreachable (working offline)")
				}
				fmt.Fprintf(w, "pending   %d\n", view.Pending)
				if view.Rejected > 0 {
					fmt.Fprintf(w, "rejected  %d (see 'queue rejected')\n", view.Rejected)
				}
			})
		},
	}
}
