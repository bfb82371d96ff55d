package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/internal/store"
	"github.com/reflow-sh/reflow/pkg/schema"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []runCall
	failAll bool
}

type runCall struct {
	flowID  string
	payload map[string]any
}

func (f *fakeRunner) RunFlow(_ context.Context, flowID string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{flowID: flowID, payload: payload})
	if f.failAll {
		return schema.NewError(schema.ErrCodeExecution, "boom")
	}
	return nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(t *testing.T) (*Scheduler, store.Store, *fakeRunner) {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	runner := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(s, runner, logger), s, runner
}

func createScheduledFlow(t *testing.T, s store.Store, cron string) *store.Flow {
	t.Helper()
	flow := &store.Flow{
		ID:         uuid.NewString(),
		Name:       "NightlyReport",
		Source:     "export class NightlyReport extends Flow<'schedule/" + cron + "'> {}",
		TriggerTag: "schedule/" + cron,
		Cron:       cron,
		Enabled:    true,
	}
	require.NoError(t, s.CreateFlow(context.Background(), flow))
	return flow
}

func TestCalculateNextRun(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	from := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)
	next, err := sched.CalculateNextRun("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 1, 45, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("not a cron", from)
	require.Error(t, err)
}

func TestTickRunsDueJobs(t *testing.T) {
	sched, s, runner := newTestScheduler(t)
	ctx := context.Background()

	flow := createScheduledFlow(t, s, "0 2 * * *")
	past := time.Now().UTC().Add(-time.Minute)
	payload, _ := json.Marshal(map[string]any{"source": "schedule"})
	job := &store.ScheduledJob{
		ID:             uuid.NewString(),
		FlowID:         flow.ID,
		CronExpression: "0 2 * * *",
		Payload:        payload,
		Enabled:        true,
		NextRunAt:      &past,
	}
	require.NoError(t, s.CreateScheduledJob(ctx, job))

	sched.tick(ctx)

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, flow.ID, runner.calls[0].flowID)
	assert.Equal(t, "schedule", runner.calls[0].payload["source"])

	got, err := s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
	assert.Equal(t, "success", got.LastRunStatus)
}

func TestTickSkipsFutureJobs(t *testing.T) {
	sched, s, runner := newTestScheduler(t)
	ctx := context.Background()

	flow := createScheduledFlow(t, s, "0 2 * * *")
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID:             uuid.NewString(),
		FlowID:         flow.ID,
		CronExpression: "0 2 * * *",
		Enabled:        true,
		NextRunAt:      &future,
	}))

	sched.tick(ctx)
	assert.Equal(t, 0, runner.callCount())
}

func TestTickRecordsFailure(t *testing.T) {
	sched, s, runner := newTestScheduler(t)
	runner.failAll = true
	ctx := context.Background()

	flow := createScheduledFlow(t, s, "*/5 * * * *")
	past := time.Now().UTC().Add(-time.Minute)
	job := &store.ScheduledJob{
		ID:             uuid.NewString(),
		FlowID:         flow.ID,
		CronExpression: "*/5 * * * *",
		Enabled:        true,
		NextRunAt:      &past,
	}
	require.NoError(t, s.CreateScheduledJob(ctx, job))

	sched.tick(ctx)

	got, err := s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "error", got.LastRunStatus)
	require.NotNil(t, got.NextRunAt)
}

func TestSyncFlowCreatesJob(t *testing.T) {
	sched, s, _ := newTestScheduler(t)
	ctx := context.Background()

	flow := createScheduledFlow(t, s, "0 9 * * 1-5")
	jobID := uuid.NewString()
	require.NoError(t, sched.SyncFlow(ctx, flow, jobID))

	job, err := s.GetScheduledJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, flow.ID, job.FlowID)
	assert.Equal(t, "0 9 * * 1-5", job.CronExpression)
	assert.True(t, job.Enabled)
	require.NotNil(t, job.NextRunAt)

	// Sync again is a no-op, not a duplicate.
	require.NoError(t, sched.SyncFlow(ctx, flow, uuid.NewString()))
	jobs, err := s.ListScheduledJobs(ctx, store.ScheduledJobFilter{FlowID: flow.ID})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestSyncFlowDisablesJob(t *testing.T) {
	sched, s, _ := newTestScheduler(t)
	ctx := context.Background()

	flow := createScheduledFlow(t, s, "0 9 * * *")
	jobID := uuid.NewString()
	require.NoError(t, sched.SyncFlow(ctx, flow, jobID))

	flow.Enabled = false
	require.NoError(t, sched.SyncFlow(ctx, flow, uuid.NewString()))

	job, err := s.GetScheduledJob(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, job.Enabled)
}

func TestSyncFlowWithoutScheduleNoJob(t *testing.T) {
	sched, s, _ := newTestScheduler(t)
	ctx := context.Background()

	flow := &store.Flow{
		ID:         uuid.NewString(),
		Name:       "WebhookFlow",
		Source:     "export class WebhookFlow extends Flow<'webhook/http'> {}",
		TriggerTag: "webhook/http",
		Enabled:    true,
	}
	require.NoError(t, s.CreateFlow(ctx, flow))

	require.NoError(t, sched.SyncFlow(ctx, flow, uuid.NewString()))
	jobs, err := s.ListScheduledJobs(ctx, store.ScheduledJobFilter{FlowID: flow.ID})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRecoverMissed(t *testing.T) {
	sched, s, runner := newTestScheduler(t)
	ctx := context.Background()

	flow := createScheduledFlow(t, s, "0 2 * * *")
	missed := time.Now().UTC().Add(-2 * time.Hour)
	job := &store.ScheduledJob{
		ID:             uuid.NewString(),
		FlowID:         flow.ID,
		CronExpression: "0 2 * * *",
		Enabled:        true,
		NextRunAt:      &missed,
	}
	require.NoError(t, s.CreateScheduledJob(ctx, job))

	require.NoError(t, sched.RecoverMissed(ctx))
	assert.Equal(t, 1, runner.callCount())

	got, err := s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
}

func TestStartStop(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))
	require.Error(t, sched.Start(ctx))
	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())

	// Can start again after a clean stop.
	require.NoError(t, sched.Start(ctx))
	require.NoError(t, sched.Stop())
}
