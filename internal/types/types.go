package types

// ScanStatus is the lifecycle state of a prime scan
type ScanStatus string

const (
	ScanStatusIdle      ScanStatus = "idle"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusPaused    ScanStatus = "paused"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// Active reports whether a scan in this state still holds the controller
// (inputs locked, start disabled).
func (s ScanStatus) Active() bool {
	return s == ScanStatusRunning || s == ScanStatusPaused
}

// EventKind identifies what a ScanEvent carries
type EventKind string

const (
	EventPrime    EventKind = "prime"    // Value is a newly found prime
	EventProgress EventKind = "progress" // Value is the last examined integer
	EventStatus   EventKind = "status"   // Status changed
)

// ScanEvent is pushed from the scan worker to UI hosts and SSE subscribers
type ScanEvent struct {
	RunID       int64      `json:"run_id"`
	Kind        EventKind  `json:"kind"`
	Value       int64      `json:"value"`
	First       int64      `json:"first"`
	Last        int64      `json:"last"`
	PrimesFound int        `json:"primes_found"`
	Status      ScanStatus `json:"status"`
}
