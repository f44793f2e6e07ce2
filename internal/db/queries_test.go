package db

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lyallcooper/primescan/internal/types"
)

// testDB creates a temporary database for testing
func testDB(t *testing.T) *DB {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// ============================================================================
// Open Tests
// ============================================================================

func TestOpen_CreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "primes.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("failed to read schema version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}

	// Re-running migrations is a no-op
	if err := db.Migrate(); err != nil {
		t.Errorf("second Migrate failed: %v", err)
	}
}

func TestOpenWithDriver_Unsupported(t *testing.T) {
	_, err := OpenWithDriver("postgres", filepath.Join(t.TempDir(), "x.db"))
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpenWithDriver_Cgo(t *testing.T) {
	db, err := OpenWithDriver(DriverSQLiteCgo, filepath.Join(t.TempDir(), "cgo.db"))
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED=0") {
			t.Skip("go-sqlite3 needs cgo")
		}
		t.Fatalf("OpenWithDriver failed: %v", err)
	}
	defer db.Close()

	run, err := db.CreateScanRun(1, 10, nil)
	if err != nil {
		t.Fatalf("CreateScanRun failed: %v", err)
	}
	if err := db.AddPrimes(run.ID, []int64{2, 3, 5, 7}); err != nil {
		t.Fatalf("AddPrimes failed: %v", err)
	}
	got, err := db.ListPrimes(run.ID)
	if err != nil {
		t.Fatalf("ListPrimes failed: %v", err)
	}
	if !reflect.DeepEqual(got, []int64{2, 3, 5, 7}) {
		t.Errorf("ListPrimes = %v, want [2 3 5 7]", got)
	}
}

// ============================================================================
// ScanRun Tests
// ============================================================================

func TestScanRun_Create(t *testing.T) {
	db := testDB(t)

	created, err := db.CreateScanRun(1000, 4000, nil)
	if err != nil {
		t.Fatalf("CreateScanRun failed: %v", err)
	}

	got, err := db.GetScanRun(created.ID)
	if err != nil {
		t.Fatalf("GetScanRun failed: %v", err)
	}

	if got.First != 1000 || got.Last != 4000 {
		t.Errorf("range = [%d, %d], want [1000, 4000]", got.First, got.Last)
	}
	if got.Status != types.ScanStatusRunning {
		t.Errorf("Status = %s, want %s", got.Status, types.ScanStatusRunning)
	}
	if got.LastExamined != 1000 {
		t.Errorf("LastExamined = %d, want 1000", got.LastExamined)
	}
	if got.ScheduledJobID != nil {
		t.Errorf("ScheduledJobID should be nil, got %v", *got.ScheduledJobID)
	}
	if got.CompletedAt != nil || got.PausedAt != nil {
		t.Error("CompletedAt and PausedAt should be nil")
	}
	if got.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}
}

func TestScanRun_ProgressAndStatus(t *testing.T) {
	db := testDB(t)

	run, err := db.CreateScanRun(10, 50, nil)
	if err != nil {
		t.Fatalf("CreateScanRun failed: %v", err)
	}

	if err := db.UpdateScanRunProgress(run.ID, 30, 6); err != nil {
		t.Fatalf("UpdateScanRunProgress failed: %v", err)
	}
	if err := db.SetScanRunStatus(run.ID, types.ScanStatusPaused); err != nil {
		t.Fatalf("SetScanRunStatus failed: %v", err)
	}

	got, _ := db.GetScanRun(run.ID)
	if got.LastExamined != 30 || got.PrimesFound != 6 {
		t.Errorf("progress = (%d, %d), want (30, 6)", got.LastExamined, got.PrimesFound)
	}
	if got.Status != types.ScanStatusPaused {
		t.Errorf("Status = %s, want paused", got.Status)
	}
	if got.PausedAt == nil {
		t.Error("PausedAt should be set after pause")
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should still be nil")
	}

	if err := db.CompleteScanRun(run.ID, types.ScanStatusCompleted); err != nil {
		t.Fatalf("CompleteScanRun failed: %v", err)
	}
	got, _ = db.GetScanRun(run.ID)
	if got.Status != types.ScanStatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestScanRun_ListNewestFirst(t *testing.T) {
	db := testDB(t)

	for i := int64(0); i < 3; i++ {
		if _, err := db.CreateScanRun(i, i+10, nil); err != nil {
			t.Fatalf("CreateScanRun failed: %v", err)
		}
	}

	runs, err := db.ListScanRuns(10, 0)
	if err != nil {
		t.Fatalf("ListScanRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].First != 2 || runs[2].First != 0 {
		t.Errorf("runs not newest first: %d, %d, %d", runs[0].First, runs[1].First, runs[2].First)
	}

	page, _ := db.ListScanRuns(2, 2)
	if len(page) != 1 {
		t.Errorf("offset page has %d runs, want 1", len(page))
	}
}

func TestMarkInterruptedRuns(t *testing.T) {
	db := testDB(t)

	running, _ := db.CreateScanRun(1, 100, nil)
	paused, _ := db.CreateScanRun(1, 100, nil)
	done, _ := db.CreateScanRun(1, 100, nil)
	db.SetScanRunStatus(paused.ID, types.ScanStatusPaused)
	db.CompleteScanRun(done.ID, types.ScanStatusCompleted)

	n, err := db.MarkInterruptedRuns()
	if err != nil {
		t.Fatalf("MarkInterruptedRuns failed: %v", err)
	}
	if n != 2 {
		t.Errorf("affected = %d, want 2", n)
	}

	tests := []struct {
		id   int64
		want types.ScanStatus
	}{
		{running.ID, types.ScanStatusCancelled},
		{paused.ID, types.ScanStatusCancelled},
		{done.ID, types.ScanStatusCompleted},
	}
	for _, tt := range tests {
		got, _ := db.GetScanRun(tt.id)
		if got.Status != tt.want {
			t.Errorf("run %d status = %s, want %s", tt.id, got.Status, tt.want)
		}
	}
}

// ============================================================================
// Prime Result Tests
// ============================================================================

func TestPrimes_AddAndList(t *testing.T) {
	db := testDB(t)

	run, _ := db.CreateScanRun(10, 50, nil)

	if err := db.AddPrimes(run.ID, []int64{11, 13, 17}); err != nil {
		t.Fatalf("AddPrimes failed: %v", err)
	}
	// Duplicates are ignored
	if err := db.AddPrimes(run.ID, []int64{17, 19}); err != nil {
		t.Fatalf("AddPrimes failed: %v", err)
	}
	if err := db.AddPrimes(run.ID, nil); err != nil {
		t.Fatalf("AddPrimes(nil) failed: %v", err)
	}

	got, err := db.ListPrimes(run.ID)
	if err != nil {
		t.Fatalf("ListPrimes failed: %v", err)
	}
	want := []int64{11, 13, 17, 19}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListPrimes = %v, want %v", got, want)
	}

	other, _ := db.CreateScanRun(1, 5, nil)
	got, _ = db.ListPrimes(other.ID)
	if len(got) != 0 {
		t.Errorf("other run primes = %v, want none", got)
	}
}

// ============================================================================
// ScheduledJob Tests
// ============================================================================

func TestScheduledJob_CRUD(t *testing.T) {
	db := testDB(t)

	next := time.Now().Add(time.Hour).Truncate(time.Second)
	job, err := db.CreateScheduledJob(&ScheduledJob{
		Name:           "Nightly",
		First:          1,
		Last:           10000,
		CronExpression: "0 2 * * *",
		Enabled:        true,
		NextRunAt:      &next,
	})
	if err != nil {
		t.Fatalf("CreateScheduledJob failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("job.ID should be non-zero")
	}
	if job.NextRunAt == nil || !job.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v, want %v", job.NextRunAt, next)
	}

	job.Name = "Hourly"
	job.CronExpression = "0 * * * *"
	job.Last = 500
	if err := db.UpdateScheduledJob(job); err != nil {
		t.Fatalf("UpdateScheduledJob failed: %v", err)
	}

	got, _ := db.GetScheduledJob(job.ID)
	if got.Name != "Hourly" || got.CronExpression != "0 * * * *" || got.Last != 500 {
		t.Errorf("update not persisted: %+v", got)
	}

	enabled, _ := db.GetEnabledJobs()
	if len(enabled) != 1 {
		t.Errorf("enabled jobs = %d, want 1", len(enabled))
	}

	if err := db.SetJobEnabled(job.ID, false); err != nil {
		t.Fatalf("SetJobEnabled failed: %v", err)
	}
	enabled, _ = db.GetEnabledJobs()
	if len(enabled) != 0 {
		t.Errorf("enabled jobs after disable = %d, want 0", len(enabled))
	}

	lastRun := time.Now().Truncate(time.Second)
	nextRun := lastRun.Add(time.Hour)
	if err := db.UpdateJobLastRun(job.ID, lastRun, nextRun); err != nil {
		t.Fatalf("UpdateJobLastRun failed: %v", err)
	}
	got, _ = db.GetScheduledJob(job.ID)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(lastRun) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, lastRun)
	}

	all, _ := db.ListScheduledJobs()
	if len(all) != 1 {
		t.Errorf("all jobs = %d, want 1", len(all))
	}

	if err := db.DeleteScheduledJob(job.ID); err != nil {
		t.Fatalf("DeleteScheduledJob failed: %v", err)
	}
	if _, err := db.GetScheduledJob(job.ID); err == nil {
		t.Error("expected error getting deleted job")
	}
}

func TestGetLastRunIDsForJobs(t *testing.T) {
	db := testDB(t)

	jobA, _ := db.CreateScheduledJob(&ScheduledJob{Name: "A", First: 1, Last: 2, CronExpression: "* * * * *"})
	jobB, _ := db.CreateScheduledJob(&ScheduledJob{Name: "B", First: 1, Last: 2, CronExpression: "* * * * *"})

	db.CreateScanRun(1, 2, &jobA.ID)
	latest, _ := db.CreateScanRun(1, 2, &jobA.ID)

	ids, err := db.GetLastRunIDsForJobs([]int64{jobA.ID, jobB.ID})
	if err != nil {
		t.Fatalf("GetLastRunIDsForJobs failed: %v", err)
	}
	if ids[jobA.ID] != latest.ID {
		t.Errorf("last run for A = %d, want %d", ids[jobA.ID], latest.ID)
	}
	if _, ok := ids[jobB.ID]; ok {
		t.Error("job B has no runs and should be absent")
	}

	empty, err := db.GetLastRunIDsForJobs(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("GetLastRunIDsForJobs(nil) = %v, %v", empty, err)
	}
}

// ============================================================================
// Settings & Cleanup Tests
// ============================================================================

func TestSettings(t *testing.T) {
	db := testDB(t)

	// Seeded by migration
	if got := db.GetRetentionDays(7); got != 30 {
		t.Errorf("GetRetentionDays = %d, want 30", got)
	}

	if err := db.SetSetting("retention_days", "90"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if got := db.GetRetentionDays(7); got != 90 {
		t.Errorf("GetRetentionDays = %d, want 90", got)
	}

	db.SetSetting("retention_days", "not-a-number")
	if got := db.GetRetentionDays(7); got != 7 {
		t.Errorf("GetRetentionDays with invalid value = %d, want fallback 7", got)
	}

	val, err := db.GetSetting("missing")
	if err != nil || val != "" {
		t.Errorf("GetSetting(missing) = %q, %v; want empty, nil", val, err)
	}
}

func TestCleanupOldData(t *testing.T) {
	db := testDB(t)

	old, _ := db.CreateScanRun(1, 10, nil)
	db.AddPrimes(old.ID, []int64{2, 3, 5, 7})
	db.CompleteScanRun(old.ID, types.ScanStatusCompleted)

	oldActive, _ := db.CreateScanRun(1, 10, nil)

	recent, _ := db.CreateScanRun(1, 10, nil)
	db.AddPrimes(recent.ID, []int64{2, 3})
	db.CompleteScanRun(recent.ID, types.ScanStatusCompleted)

	past := time.Now().AddDate(0, 0, -40)
	for _, id := range []int64{old.ID, oldActive.ID} {
		if _, err := db.Exec("UPDATE scan_runs SET started_at = ? WHERE id = ?", past, id); err != nil {
			t.Fatalf("failed to backdate run: %v", err)
		}
	}

	if err := db.CleanupOldData(30); err != nil {
		t.Fatalf("CleanupOldData failed: %v", err)
	}

	if _, err := db.GetScanRun(old.ID); err == nil {
		t.Error("old completed run should be deleted")
	}
	if primes, _ := db.ListPrimes(old.ID); len(primes) != 0 {
		t.Errorf("old run primes = %v, want none", primes)
	}
	if _, err := db.GetScanRun(oldActive.ID); err != nil {
		t.Error("old but still active run should be kept")
	}
	if primes, _ := db.ListPrimes(recent.ID); len(primes) != 2 {
		t.Errorf("recent run primes = %v, want 2", primes)
	}
}
