package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/pkg/logger"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Name() string        { return j.name }
func (j *stubJob) Description() string { return "stub" }
func (j *stubJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func TestScheduler_RegisterAndRunNow(t *testing.T) {
	s := NewScheduler(logger.Nop())

	ok := &stubJob{name: "ok"}
	bad := &stubJob{name: "bad", err: errors.New("boom")}
	require.NoError(t, s.Register(ok, "5 0 * * 1"))
	require.NoError(t, s.Register(bad, "30 3 * * *"))

	err := s.Register(&stubJob{name: "ok"}, "* * * * *")
	assert.ErrorIs(t, err, ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, "* * * * *"), ErrNilJob)

	res, err := s.RunNow("ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, ok.runs)

	res, err = s.RunNow("bad")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.EqualError(t, res.Error, "boom")

	last, found := s.LastRun("bad")
	require.True(t, found)
	assert.Equal(t, "bad", last.JobName)

	_, err = s.RunNow("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_InvalidCron(t *testing.T) {
	s := NewScheduler(logger.Nop())
	assert.Error(t, s.Register(&stubJob{name: "x"}, "not a cron"))
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := NewScheduler(logger.Nop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrSchedulerAlreadyRunning)
	require.NoError(t, s.Stop())
}
