package main

import (
	"context"
	"testing"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/cleanup"
	"github.com/SegaraRai/streamist-sub001/internal/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnceCommand_UnknownJob(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"once", "stale-everything"})

	err := cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, cleanup.ErrUnknownJob)
}

func TestOnceCommand_RequiresJob(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"once"})

	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestSchedules(t *testing.T) {
	from := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	stale, err := cron.Parse(staleSchedule)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 10, 0, 0, time.UTC), stale.Next(from))

	retention, err := cron.Parse(retentionSchedule)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 17, 30, 0, 0, time.UTC), retention.Next(from))
}

func TestRunDaemon_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- runDaemon(ctx, cleanup.New(cleanup.Dependencies{}, cleanup.Config{}), time.UTC)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
