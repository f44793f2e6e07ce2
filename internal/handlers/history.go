package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lyallcooper/primescan/internal/db"
	"github.com/lyallcooper/primescan/internal/types"
)

const historyPageSize = 20

// History handles GET /history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	statusFilter := r.URL.Query().Get("status")
	offset := (page - 1) * historyPageSize

	// Fetch one extra to know whether there's another page
	runs, err := h.db.ListScanRuns(historyPageSize+1, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	hasMore := len(runs) > historyPageSize
	if hasMore {
		runs = runs[:historyPageSize]
	}

	var runViews []*ScanRunHistoryView
	for _, run := range runs {
		if statusFilter != "" && string(run.Status) != statusFilter {
			continue
		}
		runViews = append(runViews, &ScanRunHistoryView{ScanRun: run, Duration: runDuration(run)})
	}

	data := HistoryData{
		Title:        "History",
		ActiveNav:    "history",
		Runs:         runViews,
		StatusFilter: statusFilter,
		Page:         page,
		HasMore:      hasMore,
		NextPage:     page + 1,
	}

	h.render(w, "history.html", data)
}

// RunDetail handles GET /history/{id}
func (h *Handler) RunDetail(w http.ResponseWriter, r *http.Request) {
	idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/history/"), "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	run, err := h.db.GetScanRun(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	values, err := h.db.ListPrimes(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var job *db.ScheduledJob
	if run.ScheduledJobID != nil {
		job, _ = h.db.GetScheduledJob(*run.ScheduledJobID)
	}

	data := RunDetailData{
		Title:     "Scan " + strconv.FormatInt(run.ID, 10),
		ActiveNav: "history",
		Run:       run,
		Job:       job,
		Primes:    values,
		Duration:  runDuration(run),
	}

	h.render(w, "run.html", data)
}

func runDuration(run *db.ScanRun) string {
	switch {
	case run.CompletedAt != nil:
		return formatDuration(run.CompletedAt.Sub(run.StartedAt))
	case run.Status == types.ScanStatusRunning:
		return "Running..."
	case run.Status == types.ScanStatusPaused:
		return "Paused (" + formatDuration(time.Since(run.StartedAt)) + ")"
	default:
		return "-"
	}
}
