package tui

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"

	"github.com/lyallcooper/primescan/internal/primes"
	"github.com/lyallcooper/primescan/internal/services"
	"github.com/lyallcooper/primescan/internal/types"
)

// controlTimeout bounds how long a control command waits for the worker
const controlTimeout = 30 * time.Second

// Controller is the part of the scanner the terminal UI drives
type Controller interface {
	Start(ctx context.Context, first, last string) (*services.ScanHandle, error)
	Pause(ctx context.Context, runID int64) error
	Resume(ctx context.Context, runID int64) error
	Cancel(ctx context.Context, runID int64) error
	Current() (*services.ScanSnapshot, bool)
}

// ScanEventMsg carries a scanner event into the bubbletea loop
type ScanEventMsg struct {
	Event *types.ScanEvent
}

// startedMsg reports that Start accepted the range
type startedMsg struct {
	id  int64
	rng primes.Range
}

// snapshotMsg carries the scan state after a control call or at launch
type snapshotMsg struct {
	snap *services.ScanSnapshot
}

// errMsg reports a failed control call
type errMsg struct {
	err error
}

func startCmd(ctrl Controller, first, last string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()

		h, err := ctrl.Start(ctx, first, last)
		if err != nil {
			return errMsg{err}
		}
		return startedMsg{id: h.ID, rng: h.Range}
	}
}

func controlCmd(ctrl Controller, op func(context.Context, int64) error, id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()

		if err := op(ctx, id); err != nil {
			return errMsg{err}
		}
		snap, ok := ctrl.Current()
		if !ok {
			return nil
		}
		return snapshotMsg{snap}
	}
}

func currentCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		snap, ok := ctrl.Current()
		if !ok || !snap.Status.Active() {
			return nil
		}
		return snapshotMsg{snap}
	}
}

// Sink forwards scanner events to a bubbletea program. Progress events are
// thinned to one per interval; the status event at every stop carries the
// final position.
type Sink struct {
	mu       sync.RWMutex
	program  *tea.Program
	progress rate.Sometimes
}

// NewSink returns a sink with no program attached. Events are dropped until
// Attach is called.
func NewSink(progressInterval time.Duration) *Sink {
	return &Sink{progress: rate.Sometimes{Interval: progressInterval}}
}

// Attach sets the program events are sent to
func (s *Sink) Attach(p *tea.Program) {
	s.mu.Lock()
	s.program = p
	s.mu.Unlock()
}

// Publish implements services.Sink
func (s *Sink) Publish(ev *types.ScanEvent) {
	s.mu.RLock()
	p := s.program
	s.mu.RUnlock()
	if p == nil {
		return
	}

	if ev.Kind == types.EventProgress {
		s.progress.Do(func() { p.Send(ScanEventMsg{ev}) })
		return
	}
	p.Send(ScanEventMsg{ev})
}
