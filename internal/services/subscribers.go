package services

import (
	"sync"

	"github.com/lyallcooper/primescan/internal/types"
)

// subscriber forwards events to one SSE reader. Sends only queue the event;
// a pump goroutine moves the queue onto ch, so a reader that stops reading
// never holds up the scan worker.
type subscriber struct {
	ch   chan *types.ScanEvent
	wake chan struct{}
	done chan struct{} // closed when the reader goes away

	mu       sync.Mutex
	queue    []*types.ScanEvent
	finished bool // no more events; ch closes once the queue drains

	closeOnce sync.Once
}

func newSubscriber() *subscriber {
	sub := &subscriber{
		ch:   make(chan *types.ScanEvent, 16),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go sub.pump()
	return sub
}

func (sub *subscriber) pump() {
	defer close(sub.ch)

	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			finished := sub.finished
			sub.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-sub.wake:
				continue
			case <-sub.done:
				return
			}
		}
		ev := sub.queue[0]
		sub.queue[0] = nil
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.ch <- ev:
		case <-sub.done:
			return
		}
	}
}

func (sub *subscriber) signal() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

// send queues ev without blocking. A progress event replaces a progress
// event still waiting at the tail since it supersedes it; prime and status
// events are always kept.
func (sub *subscriber) send(ev *types.ScanEvent) bool {
	sub.mu.Lock()
	if sub.finished {
		sub.mu.Unlock()
		return false
	}
	if n := len(sub.queue); ev.Kind == types.EventProgress && n > 0 && sub.queue[n-1].Kind == types.EventProgress {
		sub.queue[n-1] = ev
	} else {
		sub.queue = append(sub.queue, ev)
	}
	sub.mu.Unlock()

	sub.signal()
	return true
}

// finish stops accepting events. ch closes after the queued ones are read.
func (sub *subscriber) finish() {
	sub.mu.Lock()
	sub.finished = true
	sub.mu.Unlock()
	sub.signal()
}

// close drops anything still queued and releases the pump
func (sub *subscriber) close() {
	sub.closeOnce.Do(func() {
		sub.mu.Lock()
		sub.finished = true
		sub.queue = nil
		sub.mu.Unlock()
		close(sub.done)
	})
}

// Subscribe subscribes to events for a scan
func (s *Scanner) Subscribe(runID int64) chan *types.ScanEvent {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	sub := newSubscriber()
	s.subscribers[runID] = append(s.subscribers[runID], sub)
	return sub.ch
}

// Unsubscribe removes a subscriber and drops anything still queued for it
func (s *Scanner) Unsubscribe(runID int64, ch chan *types.ScanEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	subs := s.subscribers[runID]
	for i, sub := range subs {
		if sub.ch == ch {
			// Remove from slice first, then close safely
			s.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			sub.close()
			break
		}
	}

	// Clean up if no more subscribers
	if len(s.subscribers[runID]) == 0 {
		delete(s.subscribers, runID)
	}
}

// broadcast queues an event for all subscribers of its scan
func (s *Scanner) broadcast(ev *types.ScanEvent) {
	s.subMu.RLock()
	// Make a copy of the slice to avoid holding lock during send
	subs := make([]*subscriber, len(s.subscribers[ev.RunID]))
	copy(subs, s.subscribers[ev.RunID])
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.send(ev)
	}
}

// closeSubscribers ends the streams of a finished scan. Each channel closes
// once its reader has taken the events already queued; subscribers stay
// registered until Unsubscribe so a reader that stalls can still be released.
func (s *Scanner) closeSubscribers(runID int64) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subscribers[runID] {
		sub.finish()
	}
}
