package handlers

import (
	"github.com/lyallcooper/primescan/internal/db"
	"github.com/lyallcooper/primescan/internal/services"
	"github.com/lyallcooper/primescan/internal/types"
)

// View model structs for templates and JSON responses.
// These are separate from db models to allow formatting and presentation logic.

// IndexData holds data for the scan form template
type IndexData struct {
	Title        string
	ActiveNav    string
	CSRFToken    string
	DefaultFirst int64
	DefaultLast  int64
}

// ScanView is the JSON form of a scan
type ScanView struct {
	ID           int64   `json:"id,omitempty"`
	First        int64   `json:"first"`
	Last         int64   `json:"last"`
	Status       string  `json:"status"`
	LastExamined int64   `json:"last_examined"`
	PrimesFound  int     `json:"primes_found"`
	Primes       []int64 `json:"primes"`
}

// ToScanView converts a scanner snapshot for JSON responses
func ToScanView(snap *services.ScanSnapshot) *ScanView {
	primes := snap.Primes
	if primes == nil {
		primes = []int64{}
	}
	return &ScanView{
		ID:           snap.ID,
		First:        snap.Range.First,
		Last:         snap.Range.Last,
		Status:       string(snap.Status),
		LastExamined: snap.LastExamined,
		PrimesFound:  len(primes),
		Primes:       primes,
	}
}

// IdleScanView is reported when no scan has run yet
func IdleScanView() *ScanView {
	return &ScanView{Status: string(types.ScanStatusIdle), Primes: []int64{}}
}

// ErrorResponse is the JSON body of a failed control request
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// JobView is a view model for scheduled jobs
type JobView struct {
	ID             int64
	Name           string
	First          int64
	Last           int64
	CronExpression string
	NextRunAt      string
	LastRunAt      string
	LastRunID      int64
	Enabled        bool
}

// toJobView converts a ScheduledJob to a JobView
func toJobView(job *db.ScheduledJob) *JobView {
	view := &JobView{
		ID:             job.ID,
		Name:           job.Name,
		First:          job.First,
		Last:           job.Last,
		CronExpression: job.CronExpression,
		Enabled:        job.Enabled,
	}
	if job.NextRunAt != nil {
		view.NextRunAt = job.NextRunAt.Format("2006-01-02 15:04")
	}
	if job.LastRunAt != nil {
		view.LastRunAt = job.LastRunAt.Format("2006-01-02 15:04")
	}
	return view
}

// JobsData holds data for the jobs list template
type JobsData struct {
	Title     string
	ActiveNav string
	CSRFToken string
	Jobs      []*JobView
	Error     string
}

// JobFormData holds data for the job form template
type JobFormData struct {
	Title     string
	ActiveNav string
	CSRFToken string
	Job       *JobFormValues
	Error     string
}

// JobFormValues echoes the submitted form so it can be re-rendered as typed
type JobFormValues struct {
	ID             int64
	Name           string
	First          string
	Last           string
	CronExpression string
	Enabled        bool
}

// HistoryData holds data for the history template
type HistoryData struct {
	Title        string
	ActiveNav    string
	CSRFToken    string
	Runs         []*ScanRunHistoryView
	StatusFilter string
	Page         int
	HasMore      bool
	NextPage     int
}

// ScanRunHistoryView extends ScanRun with duration for history display
type ScanRunHistoryView struct {
	*db.ScanRun
	Duration string
}

// RunDetailData holds data for the run detail template
type RunDetailData struct {
	Title     string
	ActiveNav string
	CSRFToken string
	Run       *db.ScanRun
	Job       *db.ScheduledJob // The job this scan was from, if any
	Primes    []int64
	Duration  string
}

// SettingsData holds data for the settings template
type SettingsData struct {
	Title             string
	ActiveNav         string
	CSRFToken         string
	RetentionDays     int
	RetentionEditable bool
	Version           string
	DBPath            string
	DBDriver          string
	Port              int
	Error             string
	Success           string
}
