package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lyallcooper/primescan/internal/db"
	"github.com/lyallcooper/primescan/internal/primes"
	"github.com/lyallcooper/primescan/internal/scheduler"
	"github.com/lyallcooper/primescan/internal/services"
)

// Jobs handles GET /jobs
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.CreateJob(w, r)
		return
	}

	jobs, err := h.db.ListScheduledJobs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Get all job IDs for batch query
	jobIDs := make([]int64, len(jobs))
	for i, job := range jobs {
		jobIDs[i] = job.ID
	}

	// Batch fetch last run IDs (single query instead of N queries)
	lastRunIDs, _ := h.db.GetLastRunIDsForJobs(jobIDs)

	var views []*JobView
	for _, job := range jobs {
		view := toJobView(job)
		if runID, ok := lastRunIDs[job.ID]; ok {
			view.LastRunID = runID
		}
		views = append(views, view)
	}

	data := JobsData{
		Title:     "Jobs",
		ActiveNav: "jobs",
		CSRFToken: h.getOrCreateCSRFToken(w, r),
		Jobs:      views,
		Error:     r.URL.Query().Get("error"),
	}

	h.render(w, "jobs.html", data)
}

// JobForm handles GET /jobs/new
func (h *Handler) JobForm(w http.ResponseWriter, r *http.Request) {
	data := JobFormData{
		Title:     "New Job",
		ActiveNav: "jobs",
		CSRFToken: h.getOrCreateCSRFToken(w, r),
		Job: &JobFormValues{
			First:          strconv.FormatInt(h.cfg.DefaultFirst, 10),
			Last:           strconv.FormatInt(h.cfg.DefaultLast, 10),
			CronExpression: "0 * * * *",
			Enabled:        true,
		},
	}

	h.render(w, "job_form.html", data)
}

// JobRoutes handles routes under /jobs/{id}
func (h *Handler) JobRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 3 {
		http.NotFound(w, r)
		return
	}

	idStr := parts[2]
	if idStr == "new" {
		h.JobForm(w, r)
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	// Handle sub-routes
	if len(parts) >= 4 {
		switch parts[3] {
		case "edit":
			h.EditJobForm(w, r, id)
			return
		case "toggle":
			if r.Method == http.MethodPost {
				h.ToggleJob(w, r, id)
				return
			}
		case "run":
			if r.Method == http.MethodPost {
				h.RunJob(w, r, id)
				return
			}
		case "delete":
			if r.Method == http.MethodPost || r.Method == http.MethodDelete {
				h.DeleteJob(w, r, id)
				return
			}
		}
	}

	// POST to /jobs/{id} = update
	if r.Method == http.MethodPost {
		h.UpdateJob(w, r, id)
		return
	}

	// DELETE to /jobs/{id}
	if r.Method == http.MethodDelete {
		h.DeleteJob(w, r, id)
		return
	}

	// GET /jobs/{id} = view (redirect to edit for now)
	http.Redirect(w, r, "/jobs/"+idStr+"/edit", http.StatusSeeOther)
}

// parseJobForm parses the job form into a ScheduledJob.
// The submitted values are always returned so forms can be re-rendered with
// user input preserved.
func (h *Handler) parseJobForm(r *http.Request) (*db.ScheduledJob, *JobFormValues, error) {
	if err := r.ParseForm(); err != nil {
		return nil, &JobFormValues{}, err
	}

	values := &JobFormValues{
		Name:           strings.TrimSpace(r.FormValue("name")),
		First:          r.FormValue("first"),
		Last:           r.FormValue("last"),
		CronExpression: strings.TrimSpace(r.FormValue("cron_expression")),
		Enabled:        r.FormValue("enabled") == "1",
	}

	if values.Name == "" {
		return nil, values, errors.New("Name is required")
	}

	rng, err := primes.ParseRange(values.First, values.Last)
	if err != nil {
		return nil, values, err
	}

	// Validate cron expression
	schedule, err := scheduler.Parser.Parse(values.CronExpression)
	if err != nil {
		return nil, values, errors.New("Invalid cron expression: " + err.Error())
	}
	nextRun := schedule.Next(time.Now())

	return &db.ScheduledJob{
		Name:           values.Name,
		First:          rng.First,
		Last:           rng.Last,
		CronExpression: values.CronExpression,
		Enabled:        values.Enabled,
		NextRunAt:      &nextRun,
	}, values, nil
}

func (h *Handler) renderJobForm(w http.ResponseWriter, r *http.Request, title string, values *JobFormValues, errMsg string) {
	data := JobFormData{
		Title:     title,
		ActiveNav: "jobs",
		CSRFToken: h.getOrCreateCSRFToken(w, r),
		Job:       values,
		Error:     errMsg,
	}
	h.render(w, "job_form.html", data)
}

// CreateJob handles POST /jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}

	job, values, err := h.parseJobForm(r)
	if err != nil {
		h.renderJobForm(w, r, "New Job", values, err.Error())
		return
	}

	created, err := h.db.CreateScheduledJob(job)
	if err != nil {
		h.renderJobForm(w, r, "New Job", values, "Failed to create job: "+err.Error())
		return
	}

	// Check if we should run immediately after saving
	if r.FormValue("run_after_save") == "1" {
		h.runJobByID(w, r, created.ID)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

// EditJobForm handles GET /jobs/{id}/edit
func (h *Handler) EditJobForm(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := h.db.GetScheduledJob(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	values := &JobFormValues{
		ID:             job.ID,
		Name:           job.Name,
		First:          strconv.FormatInt(job.First, 10),
		Last:           strconv.FormatInt(job.Last, 10),
		CronExpression: job.CronExpression,
		Enabled:        job.Enabled,
	}
	h.renderJobForm(w, r, "Edit Job", values, "")
}

// UpdateJob handles POST /jobs/{id}
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}

	if _, err := h.db.GetScheduledJob(id); err != nil {
		http.NotFound(w, r)
		return
	}

	job, values, err := h.parseJobForm(r)
	values.ID = id
	if err != nil {
		h.renderJobForm(w, r, "Edit Job", values, err.Error())
		return
	}
	job.ID = id

	if err := h.db.UpdateScheduledJob(job); err != nil {
		h.renderJobForm(w, r, "Edit Job", values, "Failed to update job: "+err.Error())
		return
	}

	// Check if we should run immediately after saving
	if r.FormValue("run_after_save") == "1" {
		h.runJobByID(w, r, id)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

// ToggleJob handles POST /jobs/{id}/toggle
func (h *Handler) ToggleJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}

	job, err := h.db.GetScheduledJob(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := h.db.SetJobEnabled(id, !job.Enabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}

// RunJob handles POST /jobs/{id}/run
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}
	h.runJobByID(w, r, id)
}

// runJobByID starts a scan for the given job and redirects to the scan form,
// which follows the active scan
func (h *Handler) runJobByID(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := h.db.GetScheduledJob(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if _, err := h.scheduler.RunJob(r.Context(), job); err != nil {
		if errors.Is(err, services.ErrScanActive) {
			http.Redirect(w, r, "/jobs?error="+url.QueryEscape("A scan is already running or paused"), http.StatusSeeOther)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// DeleteJob handles DELETE /jobs/{id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request, id int64) {
	if !h.requireCSRF(w, r) {
		return
	}

	if err := h.db.DeleteScheduledJob(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/jobs", http.StatusSeeOther)
}
