package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/lyallcooper/primescan/internal/primes"
	"github.com/lyallcooper/primescan/internal/services"
)

// Index handles GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := IndexData{
		Title:        "",
		ActiveNav:    "scan",
		CSRFToken:    h.getOrCreateCSRFToken(w, r),
		DefaultFirst: h.cfg.DefaultFirst,
		DefaultLast:  h.cfg.DefaultLast,
	}

	h.render(w, "index.html", data)
}

// StartScan handles POST /scan/start
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireCSRF(w, r) {
		return
	}

	handle, err := h.scanner.Start(r.Context(), r.FormValue("first"), r.FormValue("last"))
	if err != nil {
		writeScanError(w, err)
		return
	}

	h.writeSnapshot(w, handle.ID)
}

// CurrentScan handles GET /scan/current
func (h *Handler) CurrentScan(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.scanner.Current()
	if !ok {
		writeJSON(w, http.StatusOK, IdleScanView())
		return
	}
	writeJSON(w, http.StatusOK, ToScanView(snap))
}

// ScanRoutes handles POST /scan/{id}/pause, /scan/{id}/resume and /scan/{id}/cancel
func (h *Handler) ScanRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var op func(ctx context.Context, runID int64) error
	switch parts[2] {
	case "pause":
		op = h.scanner.Pause
	case "resume":
		op = h.scanner.Resume
	case "cancel":
		op = h.scanner.Cancel
	default:
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireCSRF(w, r) {
		return
	}

	if err := op(r.Context(), id); err != nil {
		writeScanError(w, err)
		return
	}

	h.writeSnapshot(w, id)
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, runID int64) {
	snap, err := h.scanner.Snapshot(runID)
	if err != nil {
		writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToScanView(snap))
}

// writeScanError maps scanner errors to HTTP responses
func writeScanError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var rangeErr *primes.InvalidRangeError
	if errors.As(err, &rangeErr) {
		resp.Field = rangeErr.Field
	}

	status := scanErrorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("scan request failed: %v", err)
	}
	writeJSON(w, status, resp)
}

func scanErrorStatus(err error) int {
	var rangeErr *primes.InvalidRangeError
	switch {
	case errors.As(err, &rangeErr):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnknownScan):
		return http.StatusNotFound
	case errors.Is(err, services.ErrScanActive),
		errors.Is(err, services.ErrNotRunning),
		errors.Is(err, services.ErrNotPaused),
		errors.Is(err, services.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
