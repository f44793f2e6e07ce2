package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Settings handles GET and POST /settings
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.SaveSettings(w, r)
		return
	}

	data := SettingsData{
		Title:             "Settings",
		ActiveNav:         "settings",
		CSRFToken:         h.getOrCreateCSRFToken(w, r),
		RetentionDays:     h.retentionDays(),
		RetentionEditable: !h.cfg.RetentionDaysFromEnv,
		Version:           h.version,
		DBPath:            h.cfg.DBPath,
		DBDriver:          h.cfg.DBDriver,
		Port:              h.cfg.Port,
		Error:             r.URL.Query().Get("error"),
		Success:           r.URL.Query().Get("success"),
	}

	h.render(w, "settings.html", data)
}

// SaveSettings handles POST /settings
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}

	if h.cfg.RetentionDaysFromEnv {
		redirectSettings(w, r, "error", "Retention is set by PRIMESCAN_RETENTION_DAYS")
		return
	}

	days, err := strconv.Atoi(strings.TrimSpace(r.FormValue("retention_days")))
	if err != nil || days < 1 || days > 365 {
		redirectSettings(w, r, "error", "Retention must be between 1 and 365 days")
		return
	}

	if err := h.db.SetSetting("retention_days", strconv.Itoa(days)); err != nil {
		redirectSettings(w, r, "error", err.Error())
		return
	}

	redirectSettings(w, r, "success", "Settings saved")
}

func redirectSettings(w http.ResponseWriter, r *http.Request, key, msg string) {
	http.Redirect(w, r, "/settings?"+key+"="+url.QueryEscape(msg), http.StatusSeeOther)
}
