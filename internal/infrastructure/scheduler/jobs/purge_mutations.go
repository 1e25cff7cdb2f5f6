package jobs

import (
	"context"

	"github.com/alem-hub/mastery-engine/internal/application/command"
)

// PurgeMutationsCron fires daily at 03:30 UTC.
const PurgeMutationsCron = "30 3 * * *"

// PurgeMutationsJob trims the idempotency log past its retention window.
type PurgeMutationsJob struct {
	handler *command.PurgeMutationsHandler
}

// NewPurgeMutationsJob creates the job.
func NewPurgeMutationsJob(handler *command.PurgeMutationsHandler) *PurgeMutationsJob {
	return &PurgeMutationsJob{handler: handler}
}

// Name implements scheduler.Job.
func (j *PurgeMutationsJob) Name() string { return "purge_mutations" }

// Description implements scheduler.Job.
func (j *PurgeMutationsJob) Description() string {
	return "Deletes applied-mutation records older than the retention window"
}

// Run implements scheduler.Job.
func (j *PurgeMutationsJob) Run(ctx context.Context) error {
	_, err := j.handler.Handle(ctx)
	return err
}
