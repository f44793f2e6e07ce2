package main

import (
	"context"
	"errors"
	"sync"
	"time"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/lyallcooper/primescan/internal/handlers"
	"github.com/lyallcooper/primescan/internal/primes"
	"github.com/lyallcooper/primescan/internal/services"
	"github.com/lyallcooper/primescan/internal/types"
)

// scanEventName is the runtime event the frontend listens on
const scanEventName = "scan:event"

// progressEmitInterval is the shortest gap between progress events sent
// across to the frontend
const progressEmitInterval = 50 * time.Millisecond

// controlTimeout bounds how long a bound control call waits for the worker
const controlTimeout = 30 * time.Second

// App struct holds the Wails application context and provides
// methods that can be called from the frontend.
type App struct {
	mu      sync.RWMutex
	ctx     context.Context
	scanner *services.Scanner
}

// NewApp creates a new App instance.
func NewApp() *App {
	return &App{}
}

// startup is called when the app starts.
func (a *App) startup(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
}

func (a *App) appContext() context.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ctx
}

// emit forwards scan events to the frontend. Events raised before the
// window exists are dropped; the page loads a snapshot when it opens.
func (a *App) emit(ev *types.ScanEvent) {
	ctx := a.appContext()
	if ctx == nil {
		return
	}
	wailsruntime.EventsEmit(ctx, scanEventName, ev)
}

// StartScan starts a scan over [first, last]. An invalid range is reported
// in a dialog and nil is returned.
func (a *App) StartScan(first, last string) (*handlers.ScanView, error) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	h, err := a.scanner.Start(ctx, first, last)
	if err != nil {
		var rangeErr *primes.InvalidRangeError
		if errors.As(err, &rangeErr) {
			a.showError("Invalid range", rangeErr.Error())
			return nil, nil
		}
		return nil, err
	}
	return a.view(h.ID)
}

// PauseScan pauses the scan and returns its state once the worker has stopped.
func (a *App) PauseScan(id int64) (*handlers.ScanView, error) {
	return a.control(id, a.scanner.Pause)
}

// ResumeScan resumes a paused scan.
func (a *App) ResumeScan(id int64) (*handlers.ScanView, error) {
	return a.control(id, a.scanner.Resume)
}

// CancelScan cancels a running or paused scan.
func (a *App) CancelScan(id int64) (*handlers.ScanView, error) {
	return a.control(id, a.scanner.Cancel)
}

// CurrentScan returns the active scan, the last finished one, or an idle view.
func (a *App) CurrentScan() *handlers.ScanView {
	snap, ok := a.scanner.Current()
	if !ok {
		return handlers.IdleScanView()
	}
	return handlers.ToScanView(snap)
}

func (a *App) control(id int64, op func(context.Context, int64) error) (*handlers.ScanView, error) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	if err := op(ctx, id); err != nil {
		return nil, err
	}
	return a.view(id)
}

func (a *App) view(id int64) (*handlers.ScanView, error) {
	snap, err := a.scanner.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return handlers.ToScanView(snap), nil
}

func (a *App) showError(title, message string) {
	ctx := a.appContext()
	if ctx == nil {
		return
	}
	wailsruntime.MessageDialog(ctx, wailsruntime.MessageDialogOptions{
		Type:    wailsruntime.ErrorDialog,
		Title:   title,
		Message: message,
	})
}
