// Package jobs contains the scheduled maintenance jobs of the mastery engine.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/mastery-engine/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLOSE LEAGUE WEEK JOB
// ══════════════════════════════════════════════════════════════════════════════

// CloseLeagueWeekCron fires five minutes into Monday, UTC.
const CloseLeagueWeekCron = "5 0 * * 1"

// CloseLeagueWeekConfig contains configuration for the job.
type CloseLeagueWeekConfig struct {
	// Concurrency bounds parallel ledger updates.
	Concurrency int

	// Timeout is the maximum duration of one run.
	Timeout time.Duration
}

// DefaultCloseLeagueWeekConfig returns sensible defaults.
func DefaultCloseLeagueWeekConfig() CloseLeagueWeekConfig {
	return CloseLeagueWeekConfig{Concurrency: 8, Timeout: 10 * time.Minute}
}

// CloseLeagueWeekJob settles every account's league for the finished week.
// Already-closed ledgers are skipped, so a rerun after partial failure is safe.
type CloseLeagueWeekJob struct {
	handler *command.CloseLeagueWeekHandler
	config  CloseLeagueWeekConfig
}

// NewCloseLeagueWeekJob creates the job.
func NewCloseLeagueWeekJob(handler *command.CloseLeagueWeekHandler, config CloseLeagueWeekConfig) *CloseLeagueWeekJob {
	return &CloseLeagueWeekJob{handler: handler, config: config}
}

// Name implements scheduler.Job.
func (j *CloseLeagueWeekJob) Name() string { return "close_league_week" }

// Description implements scheduler.Job.
func (j *CloseLeagueWeekJob) Description() string {
	return "Promotes, demotes or holds each account's league and resets weekly XP"
}

// Run implements scheduler.Job.
func (j *CloseLeagueWeekJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	result, err := j.handler.Handle(ctx, command.CloseLeagueWeekCommand{Concurrency: j.config.Concurrency})
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("close_league_week: %d of %d accounts failed", result.Failed, result.Accounts)
	}
	return nil
}
