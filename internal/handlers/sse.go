package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/lyallcooper/primescan/internal/types"
)

// PrimeData is sent via SSE for each prime found
type PrimeData struct {
	Value       int64 `json:"value"`
	PrimesFound int   `json:"primes_found"`
}

// ProgressData is sent via SSE for each examined value
type ProgressData struct {
	Value       int64 `json:"value"`
	First       int64 `json:"first"`
	Last        int64 `json:"last"`
	PrimesFound int   `json:"primes_found"`
}

// StatusData is sent via SSE when the scan changes state
type StatusData struct {
	Status       string `json:"status"`
	LastExamined int64  `json:"last_examined"`
	PrimesFound  int    `json:"primes_found"`
}

// ScanProgressSSE handles SSE connections for scan progress
func (h *Handler) ScanProgressSSE(w http.ResponseWriter, r *http.Request) {
	// Parse scan run ID from path: /sse/scan/{id}
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 4 {
		http.NotFound(w, r)
		return
	}

	runID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before taking the snapshot so nothing falls between them;
	// the client drops primes it has already shown.
	updates := h.scanner.Subscribe(runID)
	defer h.scanner.Unsubscribe(runID, updates)

	snap, err := h.scanner.Snapshot(runID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Send initial state
	h.sendJSON(w, flusher, "snapshot", ToScanView(snap))
	if !snap.Status.Active() {
		h.sendComplete(w, flusher, snap.Status)
		return
	}

	// Listen for updates
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-updates:
			if !ok {
				// Channel closed, the scan has finished
				status := types.ScanStatusCompleted
				if final, err := h.scanner.Snapshot(runID); err == nil {
					status = final.Status
				}
				h.sendComplete(w, flusher, status)
				return
			}
			h.sendScanEvent(w, flusher, ev)
			if ev.Kind == types.EventStatus && !ev.Status.Active() {
				h.sendComplete(w, flusher, ev.Status)
				return
			}
		}
	}
}

func (h *Handler) sendScanEvent(w http.ResponseWriter, flusher http.Flusher, ev *types.ScanEvent) {
	switch ev.Kind {
	case types.EventPrime:
		h.sendJSON(w, flusher, "prime", PrimeData{Value: ev.Value, PrimesFound: ev.PrimesFound})
	case types.EventProgress:
		h.sendJSON(w, flusher, "progress", ProgressData{
			Value:       ev.Value,
			First:       ev.First,
			Last:        ev.Last,
			PrimesFound: ev.PrimesFound,
		})
	case types.EventStatus:
		h.sendJSON(w, flusher, "status", StatusData{
			Status:       string(ev.Status),
			LastExamined: ev.Value,
			PrimesFound:  ev.PrimesFound,
		})
	}
}

func (h *Handler) sendComplete(w http.ResponseWriter, flusher http.Flusher, status types.ScanStatus) {
	h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"status":"%s"}`, status))
}

func (h *Handler) sendJSON(w http.ResponseWriter, flusher http.Flusher, event string, v any) {
	jsonData, _ := json.Marshal(v)
	h.sendEvent(w, flusher, event, string(jsonData))
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
