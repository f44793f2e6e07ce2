package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/lyallcooper/primescan/internal/types"
)

// ScanRun queries

const scanRunColumns = `id, range_first, range_last, status, last_examined, primes_found,
	scheduled_job_id, started_at, paused_at, completed_at`

// CreateScanRun creates a new running scan run for the range
func (db *DB) CreateScanRun(first, last int64, jobID *int64) (*ScanRun, error) {
	result, err := db.Exec(`
		INSERT INTO scan_runs (range_first, range_last, status, last_examined, scheduled_job_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		first, last, types.ScanStatusRunning, first, jobID, time.Now(),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetScanRun(id)
}

// GetScanRun retrieves a scan run by ID
func (db *DB) GetScanRun(id int64) (*ScanRun, error) {
	row := db.QueryRow(`SELECT `+scanRunColumns+` FROM scan_runs WHERE id = ?`, id)
	return scanScanRun(row)
}

// ListScanRuns returns scan runs with pagination, newest first
func (db *DB) ListScanRuns(limit, offset int) ([]*ScanRun, error) {
	rows, err := db.Query(`SELECT `+scanRunColumns+`
		FROM scan_runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		r, err := scanScanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetLastRunIDsForJobs returns the most recent run ID for each job that has one
func (db *DB) GetLastRunIDsForJobs(jobIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64)
	if len(jobIDs) == 0 {
		return result, nil
	}

	args := make([]any, len(jobIDs))
	for i, id := range jobIDs {
		args[i] = id
	}

	rows, err := db.Query(`
		SELECT scheduled_job_id, MAX(id) FROM scan_runs
		WHERE scheduled_job_id IN (`+placeholders(len(jobIDs))+`)
		GROUP BY scheduled_job_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var jobID, runID int64
		if err := rows.Scan(&jobID, &runID); err != nil {
			return nil, err
		}
		result[jobID] = runID
	}
	return result, rows.Err()
}

// UpdateScanRunProgress records the last examined value and the prime count
func (db *DB) UpdateScanRunProgress(id, lastExamined int64, primesFound int) error {
	_, err := db.Exec(`
		UPDATE scan_runs SET last_examined = ?, primes_found = ?
		WHERE id = ?`,
		lastExamined, primesFound, id,
	)
	return err
}

// SetScanRunStatus changes the status of a run that is still active
func (db *DB) SetScanRunStatus(id int64, status types.ScanStatus) error {
	var err error
	if status == types.ScanStatusPaused {
		_, err = db.Exec("UPDATE scan_runs SET status = ?, paused_at = ? WHERE id = ?", status, time.Now(), id)
	} else {
		_, err = db.Exec("UPDATE scan_runs SET status = ? WHERE id = ?", status, id)
	}
	return err
}

// CompleteScanRun marks a scan run as finished with the given status
func (db *DB) CompleteScanRun(id int64, status types.ScanStatus) error {
	_, err := db.Exec(`
		UPDATE scan_runs SET status = ?, completed_at = ?
		WHERE id = ?`,
		status, time.Now(), id,
	)
	return err
}

// MarkInterruptedRuns cancels runs left active by a previous process
func (db *DB) MarkInterruptedRuns() (int64, error) {
	result, err := db.Exec(`
		UPDATE scan_runs SET status = ?, completed_at = ?
		WHERE status IN (?, ?)`,
		types.ScanStatusCancelled, time.Now(), types.ScanStatusRunning, types.ScanStatusPaused,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScanRun(row rowScanner) (*ScanRun, error) {
	var r ScanRun
	var jobID sql.NullInt64
	var pausedAt, completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.First, &r.Last, &r.Status, &r.LastExamined, &r.PrimesFound,
		&jobID, &r.StartedAt, &pausedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if jobID.Valid {
		r.ScheduledJobID = &jobID.Int64
	}
	if pausedAt.Valid {
		r.PausedAt = &pausedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}

	return &r, nil
}

// Prime result queries

// AddPrimes appends found primes to a run. Values already stored are skipped.
func (db *DB) AddPrimes(runID int64, values []int64) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO prime_results (scan_run_id, value) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, v := range values {
		if _, err := stmt.Exec(runID, v); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert prime %d: %w", v, err)
		}
	}

	return tx.Commit()
}

// ListPrimes returns the primes found by a run in ascending order
func (db *DB) ListPrimes(runID int64) ([]int64, error) {
	rows, err := db.Query("SELECT value FROM prime_results WHERE scan_run_id = ? ORDER BY value", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// ScheduledJob queries

const scheduledJobColumns = `id, name, range_first, range_last, cron_expression, enabled,
	last_run_at, next_run_at, created_at`

// CreateScheduledJob creates a new scheduled job
func (db *DB) CreateScheduledJob(job *ScheduledJob) (*ScheduledJob, error) {
	result, err := db.Exec(`
		INSERT INTO scheduled_jobs (name, range_first, range_last, cron_expression, enabled, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.Name, job.First, job.Last, job.CronExpression, job.Enabled, job.NextRunAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetScheduledJob(id)
}

// GetScheduledJob retrieves a scheduled job by ID
func (db *DB) GetScheduledJob(id int64) (*ScheduledJob, error) {
	row := db.QueryRow(`SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	return scanScheduledJob(row)
}

// ListScheduledJobs returns all scheduled jobs
func (db *DB) ListScheduledJobs() ([]*ScheduledJob, error) {
	return db.queryScheduledJobs(`SELECT ` + scheduledJobColumns + ` FROM scheduled_jobs ORDER BY name`)
}

// GetEnabledJobs returns all enabled scheduled jobs
func (db *DB) GetEnabledJobs() ([]*ScheduledJob, error) {
	return db.queryScheduledJobs(`SELECT ` + scheduledJobColumns + `
		FROM scheduled_jobs WHERE enabled = 1 ORDER BY next_run_at`)
}

func (db *DB) queryScheduledJobs(query string, args ...any) ([]*ScheduledJob, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateScheduledJob updates a scheduled job
func (db *DB) UpdateScheduledJob(job *ScheduledJob) error {
	_, err := db.Exec(`
		UPDATE scheduled_jobs SET
			name = ?, range_first = ?, range_last = ?, cron_expression = ?, enabled = ?, next_run_at = ?
		WHERE id = ?`,
		job.Name, job.First, job.Last, job.CronExpression, job.Enabled, job.NextRunAt, job.ID,
	)
	return err
}

// UpdateJobLastRun updates the last run time and next run time
func (db *DB) UpdateJobLastRun(id int64, lastRun, nextRun time.Time) error {
	_, err := db.Exec(`
		UPDATE scheduled_jobs SET last_run_at = ?, next_run_at = ?
		WHERE id = ?`,
		lastRun, nextRun, id,
	)
	return err
}

// SetJobEnabled enables or disables a job
func (db *DB) SetJobEnabled(id int64, enabled bool) error {
	_, err := db.Exec("UPDATE scheduled_jobs SET enabled = ? WHERE id = ?", enabled, id)
	return err
}

// DeleteScheduledJob deletes a scheduled job
func (db *DB) DeleteScheduledJob(id int64) error {
	_, err := db.Exec("DELETE FROM scheduled_jobs WHERE id = ?", id)
	return err
}

func scanScheduledJob(row rowScanner) (*ScheduledJob, error) {
	var j ScheduledJob
	var lastRun, nextRun sql.NullTime

	err := row.Scan(&j.ID, &j.Name, &j.First, &j.Last, &j.CronExpression, &j.Enabled,
		&lastRun, &nextRun, &j.CreatedAt)
	if err != nil {
		return nil, err
	}

	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		j.NextRunAt = &nextRun.Time
	}

	return &j, nil
}

// Settings queries

// GetSetting returns a setting value, or "" if it isn't set
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSetting stores a setting value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetRetentionDays returns the stored retention period, or fallback if unset or invalid
func (db *DB) GetRetentionDays(fallback int) int {
	val, err := db.GetSetting("retention_days")
	if err != nil || val == "" {
		return fallback
	}
	days, err := strconv.Atoi(val)
	if err != nil || days < 1 || days > 365 {
		return fallback
	}
	return days
}

// Cleanup

// CleanupOldData removes finished runs (and their primes) older than the retention period
func (db *DB) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	tx, err := db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		DELETE FROM prime_results WHERE scan_run_id IN (
			SELECT id FROM scan_runs WHERE started_at < ? AND status IN (?, ?)
		)`, cutoff, types.ScanStatusCompleted, types.ScanStatusCancelled); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete old primes: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM scan_runs WHERE started_at < ? AND status IN (?, ?)`,
		cutoff, types.ScanStatusCompleted, types.ScanStatusCancelled); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete old scan runs: %w", err)
	}

	return tx.Commit()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}
