package scheduler

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/primescan/internal/db"
	"github.com/lyallcooper/primescan/internal/services"
	"github.com/lyallcooper/primescan/internal/types"
)

// maxLast gives a range that never finishes within a test; values near the
// start are cheap to test so pause and cancel are prompt.
const maxLast = 2147483647

func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestScheduler(t *testing.T) (*Scheduler, *db.DB, *services.Scanner) {
	t.Helper()
	database := testDB(t)
	scanner := services.NewScanner(database, 10*time.Millisecond)
	return New(database, scanner), database, scanner
}

func createJob(t *testing.T, database *db.DB, name string, first, last int64, nextRun *time.Time, enabled bool) *db.ScheduledJob {
	t.Helper()
	job, err := database.CreateScheduledJob(&db.ScheduledJob{
		Name:           name,
		First:          first,
		Last:           last,
		CronExpression: "0 * * * *",
		Enabled:        enabled,
		NextRunAt:      nextRun,
	})
	require.NoError(t, err)
	return job
}

func TestNew(t *testing.T) {
	database := testDB(t)
	scanner := services.NewScanner(database, time.Second)

	s := New(database, scanner)

	require.NotNil(t, s)
	assert.Equal(t, database, s.db)
	assert.Equal(t, scanner, s.scanner)
	assert.Equal(t, time.Minute, s.tick)
	assert.False(t, s.running)
}

func TestStartStop(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	s.Start()

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	assert.True(t, running, "scheduler should be running after Start")

	// Double start should be idempotent
	s.Start()

	s.Stop()

	s.mu.RLock()
	running = s.running
	s.mu.RUnlock()
	assert.False(t, running, "scheduler should not be running after Stop")

	// Double stop should be safe
	s.Stop()
}

func TestUpdateNextRun(t *testing.T) {
	s, database, _ := newTestScheduler(t)
	job := createJob(t, database, "Hourly", 1, 100, nil, true)

	require.NoError(t, s.UpdateNextRun(job))
	require.NotNil(t, job.NextRunAt)

	now := time.Now()
	assert.True(t, job.NextRunAt.After(now), "NextRunAt should be in the future")
	assert.False(t, job.NextRunAt.After(now.Add(time.Hour)), "NextRunAt should be within the next hour")

	stored, err := database.GetScheduledJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextRunAt)
	assert.WithinDuration(t, *job.NextRunAt, *stored.NextRunAt, time.Second)
}

func TestCronExpressionParsing(t *testing.T) {
	s, database, _ := newTestScheduler(t)

	tests := []struct {
		name    string
		cron    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"every hour", "0 * * * *", false},
		{"daily at midnight", "0 0 * * *", false},
		{"weekly on sunday", "0 0 * * 0", false},
		{"monthly first day", "0 0 1 * *", false},
		{"invalid", "invalid", true},
		{"too few fields", "* * *", true},
		{"too many fields", "* * * * * *", true}, // seconds field not supported
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := createJob(t, database, tt.name, 1, 10, nil, true)
			job.CronExpression = tt.cron

			err := s.UpdateNextRun(job)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckJobsRunsDueJob(t *testing.T) {
	s, database, scanner := newTestScheduler(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	due := createJob(t, database, "Due", 1, 100, &past, true)
	disabled := createJob(t, database, "Disabled", 1, 100, &past, false)
	later := createJob(t, database, "Later", 1, 100, &future, true)

	s.checkJobs(ctx)
	s.wg.Wait()

	assert.Equal(t, types.ScanStatusCompleted, scanner.Status())

	lastRuns, err := database.GetLastRunIDsForJobs([]int64{due.ID, disabled.ID, later.ID})
	require.NoError(t, err)
	require.Contains(t, lastRuns, due.ID)
	assert.NotContains(t, lastRuns, disabled.ID)
	assert.NotContains(t, lastRuns, later.ID)

	run, err := database.GetScanRun(lastRuns[due.ID])
	require.NoError(t, err)
	require.NotNil(t, run.ScheduledJobID)
	assert.Equal(t, due.ID, *run.ScheduledJobID)
	assert.Equal(t, types.ScanStatusCompleted, run.Status)
	assert.Equal(t, 25, run.PrimesFound)

	updated, err := database.GetScheduledJob(due.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRunAt)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now()))
}

func TestCheckJobsSkipsWhileScanActive(t *testing.T) {
	s, database, scanner := newTestScheduler(t)
	ctx := context.Background()

	manual, err := scanner.Start(ctx, "1", strconv.Itoa(maxLast))
	require.NoError(t, err)
	require.NoError(t, manual.Pause(ctx))
	t.Cleanup(func() { manual.Cancel(context.Background()) })

	past := time.Now().Add(-time.Hour)
	job := createJob(t, database, "Blocked", 1, 100, &past, true)

	s.checkJobs(ctx)
	s.wg.Wait()

	lastRuns, err := database.GetLastRunIDsForJobs([]int64{job.ID})
	require.NoError(t, err)
	assert.Empty(t, lastRuns, "no scan should be started for the job")

	// The skipped occurrence is consumed so the job isn't retried every tick
	updated, err := database.GetScheduledJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now()))

	assert.Equal(t, types.ScanStatusPaused, scanner.Status())
}

func TestRunJob(t *testing.T) {
	s, database, scanner := newTestScheduler(t)
	ctx := context.Background()
	job := createJob(t, database, "Manual", 10, 50, nil, false)

	h, err := s.RunJob(ctx, job)
	require.NoError(t, err)
	require.NoError(t, h.Wait(ctx))

	snap, err := scanner.Snapshot(h.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47}, snap.Primes)

	updated, _ := database.GetScheduledJob(job.ID)
	assert.NotNil(t, updated.LastRunAt)
}

func TestGracefulShutdown(t *testing.T) {
	s, database, scanner := newTestScheduler(t)

	past := time.Now().Add(-time.Hour)
	createJob(t, database, "Long", 1, maxLast, &past, true)

	s.Start()

	require.Eventually(t, func() bool {
		return scanner.Status() == types.ScanStatusRunning
	}, 2*time.Second, 5*time.Millisecond, "job did not start")

	stopDone := make(chan struct{})
	go func() {
		s.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not complete in time")
	}

	assert.Equal(t, types.ScanStatusCancelled, scanner.Status())
}
