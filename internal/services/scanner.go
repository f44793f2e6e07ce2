package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lyallcooper/primescan/internal/db"
	"github.com/lyallcooper/primescan/internal/primes"
	"github.com/lyallcooper/primescan/internal/types"
)

var (
	ErrScanActive  = errors.New("a scan is already running or paused")
	ErrNotRunning  = errors.New("scan is not running")
	ErrNotPaused   = errors.New("scan is not paused")
	ErrNotActive   = errors.New("scan is not running or paused")
	ErrUnknownScan = errors.New("unknown scan")
)

// Stop causes recorded on the active scan and read by the worker when it exits
var (
	errPauseRequested  = errors.New("pause requested")
	errCancelRequested = errors.New("cancel requested")
)

// Sink receives scan events. Publish is called from the scan worker
// goroutine; implementations must hand the event to their own UI thread.
type Sink interface {
	Publish(ev *types.ScanEvent)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ev *types.ScanEvent)

// Publish calls f(ev)
func (f SinkFunc) Publish(ev *types.ScanEvent) { f(ev) }

// ThinProgress wraps sink so progress events reach it at most once per
// interval. Prime and status events always pass through.
func ThinProgress(sink Sink, interval time.Duration) Sink {
	return &progressThinner{sink: sink, progress: rate.Sometimes{Interval: interval}}
}

type progressThinner struct {
	sink     Sink
	progress rate.Sometimes
}

func (t *progressThinner) Publish(ev *types.ScanEvent) {
	if ev.Kind == types.EventProgress {
		t.progress.Do(func() { t.sink.Publish(ev) })
		return
	}
	t.sink.Publish(ev)
}

// ScanSnapshot is a point-in-time copy of a scan
type ScanSnapshot struct {
	ID           int64
	Range        primes.Range
	Status       types.ScanStatus
	LastExamined int64
	Primes       []int64
}

// activeScan is the scan currently holding the controller. Fields are
// guarded by Scanner.mu.
type activeScan struct {
	runID        int64
	rng          primes.Range
	status       types.ScanStatus
	lastExamined int64
	next         int64 // first value the next worker examines
	results      []int64
	stopCause    error
	cancel       context.CancelFunc
	done         chan struct{} // closed when the current worker exits
}

func (sc *activeScan) snapshot() *ScanSnapshot {
	return &ScanSnapshot{
		ID:           sc.runID,
		Range:        sc.rng,
		Status:       sc.status,
		LastExamined: sc.lastExamined,
		Primes:       append([]int64(nil), sc.results...),
	}
}

// Scanner runs prime scans one at a time
type Scanner struct {
	db               *db.DB
	progressInterval time.Duration
	isPrime          func(int64) bool

	mu     sync.Mutex
	active *activeScan
	last   *ScanSnapshot // most recent finished scan
	sinks  []Sink

	// SSE subscribers
	subMu       sync.RWMutex
	subscribers map[int64][]*subscriber
}

// NewScanner creates a new scanner service. Persisted progress is flushed
// at most once per progressInterval while a scan runs.
func NewScanner(database *db.DB, progressInterval time.Duration) *Scanner {
	return &Scanner{
		db:               database,
		progressInterval: progressInterval,
		isPrime:          primes.IsPrime,
		subscribers:      make(map[int64][]*subscriber),
	}
}

// AddSink registers a host sink for all scan events
func (s *Scanner) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// RecoverInterrupted marks runs left active by a previous process as cancelled
func (s *Scanner) RecoverInterrupted() error {
	n, err := s.db.MarkInterruptedRuns()
	if err != nil {
		return fmt.Errorf("failed to recover interrupted scans: %w", err)
	}
	if n > 0 {
		log.Printf("scanner: marked %d interrupted scan(s) as cancelled", n)
	}
	return nil
}

// ScanHandle controls one scan returned by Start
type ScanHandle struct {
	ID    int64
	Range primes.Range
	s     *Scanner
}

// Pause pauses the scan. See Scanner.Pause.
func (h *ScanHandle) Pause(ctx context.Context) error { return h.s.Pause(ctx, h.ID) }

// Resume resumes the scan. See Scanner.Resume.
func (h *ScanHandle) Resume(ctx context.Context) error { return h.s.Resume(ctx, h.ID) }

// Cancel cancels the scan. See Scanner.Cancel.
func (h *ScanHandle) Cancel(ctx context.Context) error { return h.s.Cancel(ctx, h.ID) }

// Wait blocks until the scan's current worker exits. See Scanner.Wait.
func (h *ScanHandle) Wait(ctx context.Context) error { return h.s.Wait(ctx, h.ID) }

// Start parses the range endpoints and starts a scan in the background.
// A parse failure returns *primes.InvalidRangeError and changes nothing.
func (s *Scanner) Start(ctx context.Context, first, last string) (*ScanHandle, error) {
	rng, err := primes.ParseRange(first, last)
	if err != nil {
		return nil, err
	}
	return s.StartRange(ctx, rng, nil)
}

// StartRange starts a scan of an already parsed range. jobID links the run
// to a scheduled job. ctx only bounds the start itself; the scan runs until
// it finishes or is cancelled.
func (s *Scanner) StartRange(ctx context.Context, rng primes.Range, jobID *int64) (*ScanHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrScanActive
	}

	run, err := s.db.CreateScanRun(rng.First, rng.Last, jobID)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create scan run: %w", err)
	}

	sc := &activeScan{
		runID:        run.ID,
		rng:          rng,
		status:       types.ScanStatusRunning,
		lastExamined: rng.First,
		next:         rng.First,
	}
	workerCtx := s.prepareWorker(sc)
	s.active = sc
	s.mu.Unlock()

	log.Printf("scanner: started scan %d over %s", run.ID, rng)
	s.publish(s.statusEvent(sc, types.ScanStatusRunning, rng.First, 0))

	go s.runScan(workerCtx, sc, rng.First)

	return &ScanHandle{ID: run.ID, Range: rng, s: s}, nil
}

// prepareWorker arms a new stop signal for sc. Caller holds s.mu.
func (s *Scanner) prepareWorker(sc *activeScan) context.Context {
	workerCtx, cancel := context.WithCancel(context.Background())
	sc.cancel = cancel
	sc.stopCause = nil
	sc.done = make(chan struct{})
	return workerCtx
}

// Pause asks the running scan to stop at its next check point and waits
// until the worker has exited. A value already being tested is finished and
// reported first.
func (s *Scanner) Pause(ctx context.Context, runID int64) error {
	s.mu.Lock()
	sc, err := s.lookup(runID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if sc.status != types.ScanStatusRunning || errors.Is(sc.stopCause, errCancelRequested) {
		s.mu.Unlock()
		return ErrNotRunning
	}
	sc.stopCause = errPauseRequested
	sc.cancel()
	done := sc.done
	s.mu.Unlock()

	return waitDone(ctx, done)
}

// Resume relaunches a paused scan from the value after the last one examined
func (s *Scanner) Resume(ctx context.Context, runID int64) error {
	s.mu.Lock()
	sc, err := s.lookup(runID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if sc.status != types.ScanStatusPaused {
		s.mu.Unlock()
		return ErrNotPaused
	}
	sc.status = types.ScanStatusRunning
	workerCtx := s.prepareWorker(sc)
	from := sc.next
	ev := s.statusEvent(sc, types.ScanStatusRunning, sc.lastExamined, len(sc.results))
	s.mu.Unlock()

	if err := s.db.SetScanRunStatus(runID, types.ScanStatusRunning); err != nil {
		log.Printf("scanner: failed to persist resume of scan %d: %v", runID, err)
	}

	log.Printf("scanner: resuming scan %d at %d", runID, from)
	s.publish(ev)

	go s.runScan(workerCtx, sc, from)
	return nil
}

// Cancel stops a running or paused scan for good and waits for its worker
// to exit. The scan can no longer be resumed.
func (s *Scanner) Cancel(ctx context.Context, runID int64) error {
	for {
		s.mu.Lock()
		sc, err := s.lookup(runID)
		if err != nil {
			s.mu.Unlock()
			return err
		}

		if sc.status == types.ScanStatusPaused {
			sc.status = types.ScanStatusCancelled
			s.finishLocked(sc)
			ev := s.statusEvent(sc, types.ScanStatusCancelled, sc.lastExamined, len(sc.results))
			s.mu.Unlock()

			if err := s.db.CompleteScanRun(runID, types.ScanStatusCancelled); err != nil {
				log.Printf("scanner: failed to persist cancel of scan %d: %v", runID, err)
			}
			log.Printf("scanner: cancelled paused scan %d", runID)
			s.publish(ev)
			s.closeSubscribers(runID)
			return nil
		}

		sc.stopCause = errCancelRequested
		sc.cancel()
		done := sc.done
		s.mu.Unlock()

		if err := waitDone(ctx, done); err != nil {
			return err
		}

		// The worker may have settled on paused before it saw the cancel;
		// go round again to finish from whatever state it left.
		s.mu.Lock()
		stillActive := s.active == sc
		s.mu.Unlock()
		if !stillActive {
			return nil
		}
	}
}

// Wait blocks until the current worker of the scan exits. It returns
// immediately if the scan isn't running.
func (s *Scanner) Wait(ctx context.Context, runID int64) error {
	s.mu.Lock()
	sc := s.active
	if sc == nil || sc.runID != runID || sc.status != types.ScanStatusRunning {
		s.mu.Unlock()
		return nil
	}
	done := sc.done
	s.mu.Unlock()

	return waitDone(ctx, done)
}

// lookup returns the active scan with runID. Caller holds s.mu.
func (s *Scanner) lookup(runID int64) (*activeScan, error) {
	if s.active != nil && s.active.runID == runID {
		return s.active, nil
	}
	if s.last != nil && s.last.ID == runID {
		return nil, ErrNotActive
	}
	return nil, ErrUnknownScan
}

// finishLocked releases the controller after a terminal state. Caller holds s.mu.
func (s *Scanner) finishLocked(sc *activeScan) {
	s.last = sc.snapshot()
	s.active = nil
}

func waitDone(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runScan is the scan worker. It examines values from `from` through the
// end of the range, checking the stop signal before each one.
func (s *Scanner) runScan(ctx context.Context, sc *activeScan, from int64) {
	s.mu.Lock()
	done := sc.done
	s.mu.Unlock()
	defer close(done)

	var pending []int64
	flush := func() {
		s.mu.Lock()
		lastExamined, found := sc.lastExamined, len(sc.results)
		s.mu.Unlock()

		if err := s.db.AddPrimes(sc.runID, pending); err != nil {
			log.Printf("scanner: failed to persist primes for scan %d: %v", sc.runID, err)
		} else {
			pending = pending[:0]
		}
		if err := s.db.UpdateScanRunProgress(sc.runID, lastExamined, found); err != nil {
			log.Printf("scanner: failed to persist progress for scan %d: %v", sc.runID, err)
		}
	}
	throttle := rate.Sometimes{Interval: s.progressInterval}

	last := sc.rng.Last
	exhausted := true
	for i := from; i <= last; i++ {
		// Check point: pause and cancel are only observed here
		if ctx.Err() != nil {
			exhausted = false
			break
		}

		if s.isPrime(i) {
			s.mu.Lock()
			sc.results = append(sc.results, i)
			found := len(sc.results)
			s.mu.Unlock()

			pending = append(pending, i)
			s.publish(&types.ScanEvent{
				RunID:       sc.runID,
				Kind:        types.EventPrime,
				Value:       i,
				First:       sc.rng.First,
				Last:        last,
				PrimesFound: found,
				Status:      types.ScanStatusRunning,
			})
		}

		s.mu.Lock()
		sc.lastExamined = i
		sc.next = i + 1
		found := len(sc.results)
		s.mu.Unlock()

		s.publish(&types.ScanEvent{
			RunID:       sc.runID,
			Kind:        types.EventProgress,
			Value:       i,
			First:       sc.rng.First,
			Last:        last,
			PrimesFound: found,
			Status:      types.ScanStatusRunning,
		})

		throttle.Do(flush)

		if i == last {
			break
		}
	}

	flush()

	s.mu.Lock()
	status := types.ScanStatusCompleted
	if !exhausted {
		status = types.ScanStatusPaused
		if errors.Is(sc.stopCause, errCancelRequested) {
			status = types.ScanStatusCancelled
		}
	}
	s.mu.Unlock()

	// Persisted before the controller settles, so a Resume can't be
	// overwritten by this write
	var err error
	if status == types.ScanStatusPaused {
		err = s.db.SetScanRunStatus(sc.runID, status)
	} else {
		err = s.db.CompleteScanRun(sc.runID, status)
	}
	if err != nil {
		log.Printf("scanner: failed to persist %s status for scan %d: %v", status, sc.runID, err)
	}

	// Settled before the event goes out, so a host reacting to it already
	// sees the new state
	s.mu.Lock()
	sc.status = status
	sc.cancel()
	if status != types.ScanStatusPaused {
		s.finishLocked(sc)
	}
	ev := s.statusEvent(sc, status, sc.lastExamined, len(sc.results))
	s.mu.Unlock()

	log.Printf("scanner: scan %d %s at %d (%d primes)", sc.runID, status, ev.Value, ev.PrimesFound)
	s.publish(ev)

	if status != types.ScanStatusPaused {
		s.closeSubscribers(sc.runID)
	}
}

func (s *Scanner) statusEvent(sc *activeScan, status types.ScanStatus, value int64, found int) *types.ScanEvent {
	return &types.ScanEvent{
		RunID:       sc.runID,
		Kind:        types.EventStatus,
		Value:       value,
		First:       sc.rng.First,
		Last:        sc.rng.Last,
		PrimesFound: found,
		Status:      status,
	}
}

// publish delivers an event to host sinks and SSE subscribers
func (s *Scanner) publish(ev *types.ScanEvent) {
	s.mu.Lock()
	sinks := make([]Sink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.Publish(ev)
	}
	s.broadcast(ev)
}

// Status returns the state of the active scan, the last finished scan, or
// idle if no scan has run.
func (s *Scanner) Status() types.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return s.active.status
	}
	if s.last != nil {
		return s.last.Status
	}
	return types.ScanStatusIdle
}

// Current returns the active scan, or the last finished one
func (s *Scanner) Current() (*ScanSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return s.active.snapshot(), true
	}
	if s.last != nil {
		snap := *s.last
		snap.Primes = append([]int64(nil), s.last.Primes...)
		return &snap, true
	}
	return nil, false
}

// Snapshot returns a scan by ID from memory or, for older runs, the database
func (s *Scanner) Snapshot(runID int64) (*ScanSnapshot, error) {
	if snap, ok := s.Current(); ok && snap.ID == runID {
		return snap, nil
	}

	run, err := s.db.GetScanRun(runID)
	if err != nil {
		return nil, ErrUnknownScan
	}
	values, err := s.db.ListPrimes(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load primes for scan %d: %w", runID, err)
	}

	return &ScanSnapshot{
		ID:           run.ID,
		Range:        primes.Range{First: run.First, Last: run.Last},
		Status:       run.Status,
		LastExamined: run.LastExamined,
		Primes:       values,
	}, nil
}
