package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/mastery-engine/internal/client/offline"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
)

// NewQueueCommand creates the queue command group. Mutations are recorded
// locally first and delivered by "queue sync".
func NewQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Record ledger mutations offline and sync them",
	}

	cmd.AddCommand(newQueueSolveCommand())
	cmd.AddCommand(newQueueMistakeCommand())
	cmd.AddCommand(newQueuePurchaseCommand())

	cmd.AddCommand(&cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List queued mutations in delivery order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd.Context())
			items, err := app.Sync.Queue(cmd.Context())
			if err != nil {
				return err
			}
			return app.printQueue(items)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rejected",
		Short: "List mutations the server refused",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd.Context())
			items, err := app.Sync.Rejected(cmd.Context())
			if err != nil {
				return err
			}
			return app.printQueue(items)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "requeue <mutation-id>",
		Short: "Move a rejected mutation back into the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return appFrom(cmd.Context()).Sync.Requeue(cmd.Context(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Deliver queued mutations to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd.Context())
			if err := app.requireAccount(); err != nil {
				return err
			}

			res, err := app.Sync.DrainQueue(cmd.Context(), app.Remote.Deliver)
			if err != nil {
				return err
			}

			out := struct {
				Delivered int    `json:"delivered"`
				Rejected  int    `json:"rejected"`
				Remaining int    `json:"remaining"`
				Blocked   string `json:"blocked,omitempty"`
			}{res.Delivered, res.Rejected, res.Remaining, res.Blocked}

			return app.print(out, func(w io.Writer) {
				fmt.Fprintf(w, "delivered %d, rejected %d, remaining %d\n", res.Delivered, res.Rejected, res.Remaining)
				if res.Blocked != "" {
					fmt.Fprintf(w, "waiting on %s (will retry with backoff)\n", res.Blocked)
				}
			})
		},
	})

	return cmd
}

func newQueueSolveCommand() *cobra.Command {
	var payload progress.SolvePayload

	cmd := &cobra.Command{
		Use:   "solve <problem-id>",
		Short: "Record a solved problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload.ProblemID = args[0]
			return enqueue(cmd, progress.KindSolve, payload)
		},
	}
	cmd.Flags().IntVar(&payload.XPReward, "xp", 0, "XP awarded for the problem")
	cmd.Flags().IntVar(&payload.TimeSpentMinutes, "minutes", 0, "time spent, in minutes")
	_ = cmd.MarkFlagRequired("xp")
	return cmd
}

func newQueueMistakeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mistake <problem-id>",
		Short: "Record a failed attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, progress.KindRegisterMistake, progress.MistakePayload{ProblemID: args[0]})
		},
	}
}

func newQueuePurchaseCommand() *cobra.Command {
	var payload progress.PurchasePayload

	cmd := &cobra.Command{
		Use:   "purchase <item-id>",
		Short: "Record an item purchase paid from the XP balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload.ItemID = args[0]
			return enqueue(cmd, progress.KindPurchase, payload)
		},
	}
	cmd.Flags().IntVar(&payload.Price, "price", 0, "price in XP")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func enqueue(cmd *cobra.Command, kind progress.MutationKind, payload any) error {
	app := appFrom(cmd.Context())

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m, err := app.Sync.EnqueueMutation(cmd.Context(), kind, raw, app.Clock.Now())
	if err != nil {
		return err
	}

	return app.print(queueView(m), func(w io.Writer) {
		fmt.Fprintf(w, "queued %s %s\n", m.Kind, m.MutationID)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

type queueItem struct {
	Seq           int64           `json:"seq"`
	MutationID    string          `json:"mutationId"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	LastError     string          `json:"lastError,omitempty"`
}

func queueView(m offline.PendingMutation) queueItem {
	return queueItem{
		Seq:           m.Seq,
		MutationID:    m.MutationID,
		Kind:          string(m.Kind),
		Payload:       m.Payload,
		Status:        string(m.Status),
		Attempts:      m.AttemptCount,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
	}
}

func (a *App) printQueue(items []offline.PendingMutation) error {
	views := make([]queueItem, 0, len(items))
	for _, m := range items {
		views = append(views, queueView(m))
	}

	return a.print(views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "queue is empty")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tMUTATION\tKIND\tSTATUS\tATTEMPTS\tLAST ERROR")
		for _, v := range views {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", v.Seq, v.MutationID, v.Kind, v.Status, v.Attempts, v.LastError)
		}
		tw.Flush()
	})
}
