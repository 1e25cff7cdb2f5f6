package command

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/pkg/logger"
)

// CloseLeagueWeekCommand closes the league week for every account.
type CloseLeagueWeekCommand struct {
	// Concurrency bounds parallel account updates.
	Concurrency int
}

// CloseLeagueWeekResult summarises a weekly close.
type CloseLeagueWeekResult struct {
	Accounts int
	Promoted int
	Demoted  int
	Held     int
	Skipped  int
	Failed   int
}

// CloseLeagueWeekHandler handles CloseLeagueWeekCommand.
type CloseLeagueWeekHandler struct {
	repo    progress.Repository
	mutator *LedgerMutator
	log     *logger.Logger
}

// NewCloseLeagueWeekHandler creates a new CloseLeagueWeekHandler.
func NewCloseLeagueWeekHandler(repo progress.Repository, mutator *LedgerMutator, log *logger.Logger) *CloseLeagueWeekHandler {
	if log == nil {
		log = logger.Default()
	}
	return &CloseLeagueWeekHandler{repo: repo, mutator: mutator, log: log.With(logger.Component("close_league_week"))}
}

// Handle executes the command. Per-account failures are logged and counted;
// the weekly close is idempotent, so the next run picks them up.
func (h *CloseLeagueWeekHandler) Handle(ctx context.Context, cmd CloseLeagueWeekCommand) (*CloseLeagueWeekResult, error) {
	if cmd.Concurrency <= 0 {
		cmd.Concurrency = 8
	}

	ids, err := h.repo.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("close_league_week: list accounts: %w", err)
	}

	type outcome struct {
		from, to progress.League
		changed  bool
		err      error
	}
	outcomes := make([]outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cmd.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			var o outcome
			_, err := h.mutator.Mutate(gctx, Mutation{
				AccountID: id,
				Kind:      progress.KindCloseWeek,
				Apply: func(l progress.Ledger, now time.Time) (progress.Ledger, error) {
					next, changed := progress.CloseWeek(l, now)
					o.from, o.to, o.changed = l.CurrentLeague, next.CurrentLeague, changed
					if !changed {
						return l, errNoChange
					}
					return next, nil
				},
			})
			if err != nil {
				h.log.Error("weekly close failed", logger.AccountID(id), logger.Err(err))
				o.err = err
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()

	result := &CloseLeagueWeekResult{Accounts: len(ids)}
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			result.Failed++
		case !o.changed:
			result.Skipped++
		case o.from == o.to:
			result.Held++
		case o.from.Promote() == o.to:
			result.Promoted++
		default:
			result.Demoted++
		}
	}

	h.log.Info("league week closed",
		logger.Int("accounts", result.Accounts),
		logger.Int("promoted", result.Promoted),
		logger.Int("demoted", result.Demoted),
		logger.Int("failed", result.Failed),
	)
	return result, ctx.Err()
}
