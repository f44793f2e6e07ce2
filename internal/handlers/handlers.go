package handlers

import (
	"encoding/json"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/lyallcooper/primescan/internal/config"
	"github.com/lyallcooper/primescan/internal/db"
	"github.com/lyallcooper/primescan/internal/scheduler"
	"github.com/lyallcooper/primescan/internal/services"
)

// Handler holds all HTTP handlers
type Handler struct {
	db          *db.DB
	cfg         *config.Config
	scanner     *services.Scanner
	scheduler   *scheduler.Scheduler
	webFS       fs.FS
	funcMap     template.FuncMap
	staticFS    fs.FS
	version     string
	csrf        *csrfStore
	disableCSRF bool
}

// New creates a new Handler. webFS must contain templates/ and static/.
func New(database *db.DB, cfg *config.Config, scanner *services.Scanner, sched *scheduler.Scheduler, webFS fs.FS, version string, disableCSRF bool) (*Handler, error) {
	funcMap := template.FuncMap{
		"formatInt":       formatInt,
		"formatTime":      formatTime,
		"timeAgo":         timeAgo,
		"derefInt64":      derefInt64,
		"progressPercent": progressPercent,
	}

	staticFS, err := fs.Sub(webFS, "static")
	if err != nil {
		return nil, err
	}

	return &Handler{
		db:          database,
		cfg:         cfg,
		scanner:     scanner,
		scheduler:   sched,
		webFS:       webFS,
		funcMap:     funcMap,
		staticFS:    staticFS,
		version:     version,
		csrf:        newCSRFStore(csrfMaxAge),
		disableCSRF: disableCSRF,
	}, nil
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))

	// Scan form
	mux.HandleFunc("/", h.Index)

	// Scan control (JSON)
	mux.HandleFunc("/scan/start", h.StartScan)
	mux.HandleFunc("/scan/current", h.CurrentScan)
	mux.HandleFunc("/scan/", h.ScanRoutes)

	// History
	mux.HandleFunc("/history", h.History)
	mux.HandleFunc("/history/", h.RunDetail)

	// Jobs
	mux.HandleFunc("/jobs", h.Jobs)
	mux.HandleFunc("/jobs/new", h.JobForm)
	mux.HandleFunc("/jobs/", h.JobRoutes)

	// Settings
	mux.HandleFunc("/settings", h.Settings)

	// SSE
	mux.HandleFunc("/sse/scan/", h.ScanProgressSSE)
}

// render executes a page template with the base layout
func (h *Handler) render(w http.ResponseWriter, pageName string, data any) {
	tmpl, err := template.New("base.html").Funcs(h.funcMap).ParseFS(h.webFS, "templates/base.html", "templates/"+pageName)
	if err != nil {
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// retentionDays returns the effective retention, env var first
func (h *Handler) retentionDays() int {
	if h.cfg.RetentionDaysFromEnv {
		return h.cfg.RetentionDays
	}
	return h.db.GetRetentionDays(h.cfg.RetentionDays)
}

// Template functions

// formatInt formats n with thousands separators
func formatInt(n int64) string {
	if n < 0 {
		return "-" + formatInt(-n)
	}
	str := ""
	for n > 0 || str == "" {
		if len(str) > 0 && len(str)%4 == 3 {
			str = "," + str
		}
		str = string('0'+byte(n%10)) + str
		n /= 10
	}
	return str
}

// formatTime formats time.Time, *time.Time or a SQLite timestamp string
func formatTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2006-01-02 15:04")
	case *time.Time:
		if t == nil {
			return "-"
		}
		return t.Format("2006-01-02 15:04")
	case string:
		for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05-07:00"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.Format("2006-01-02 15:04")
			}
		}
	}
	return "-"
}

// timeAgo formats a time relative to now
func timeAgo(v any) string {
	var t time.Time
	switch tt := v.(type) {
	case time.Time:
		t = tt
	case *time.Time:
		if tt == nil {
			return "-"
		}
		t = *tt
	default:
		return "-"
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return strconv.Itoa(int(d.Minutes())) + " min ago"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d.Hours())) + " hr ago"
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return strconv.Itoa(days) + " days ago"
	case d < 30*24*time.Hour:
		return strconv.Itoa(int(d.Hours()/24/7)) + " wk ago"
	case d < 365*24*time.Hour:
		return strconv.Itoa(int(d.Hours()/24/30)) + " mo ago"
	default:
		return strconv.Itoa(int(d.Hours()/24/365)) + " yr ago"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return strconv.Itoa(m) + "m " + strconv.Itoa(s) + "s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return strconv.Itoa(h) + "h " + strconv.Itoa(m) + "m"
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// progressPercent is how far lastExamined is through [first, last]
func progressPercent(first, last, lastExamined int64) int {
	if last <= first {
		return 100
	}
	if lastExamined <= first {
		return 0
	}
	if lastExamined >= last {
		return 100
	}
	return int((lastExamined - first) * 100 / (last - first))
}
