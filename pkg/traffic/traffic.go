// Package traffic accumulates message counters and reports them periodically.
package traffic

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const minReportInterval = time.Second / 60

// Stat counts message traffic.
type Stat struct {
	Received     uint64 `json:"received"`
	Delivered    uint64 `json:"delivered"`
	Disconnects  uint64 `json:"disconnects"`
	Bytes        uint64 `json:"bytes"`
	Subscribed   uint64 `json:"subscribed"`
	Unsubscribed uint64 `json:"unsubscribed"`
}

// Add accumulates other into s.
func (s *Stat) Add(other Stat) {
	s.Received += other.Received
	s.Delivered += other.Delivered
	s.Disconnects += other.Disconnects
	s.Bytes += other.Bytes
	s.Subscribed += other.Subscribed
	s.Unsubscribed += other.Unsubscribed
}

func (s Stat) String() string {
	return fmt.Sprintf("Stat(%d received, %d delivered, %d disconnects, %s)",
		s.Received, s.Delivered, s.Disconnects, humanize.Bytes(s.Bytes))
}

// ReportFunc receives the accumulated counters. ticker is true when the call
// comes from the periodic report.
type ReportFunc func(s Stat, runtime time.Duration, ticker bool)

// Reporter accumulates Stats and hands them to OnUpdate every interval, and
// at most every minReportInterval on Report.
type Reporter struct {
	OnStart  func()
	OnUpdate ReportFunc
	OnDone   ReportFunc
	funcMu   sync.Mutex

	mu         sync.Mutex
	current    Stat
	startTime  time.Time
	lastUpdate time.Time
	running    bool
	cancel     chan struct{}
	done       chan struct{}

	interval time.Duration
}

// NewReporter creates a Reporter reporting every d.
func NewReporter(d time.Duration) *Reporter {
	return &Reporter{interval: d}
}

// Start resets the counters and runs the periodic report.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.current = Stat{}
	r.startTime = time.Now()
	r.cancel = make(chan struct{})
	r.done = make(chan struct{})
	r.mu.Unlock()

	if r.OnStart != nil {
		r.OnStart()
	}
	go r.reporter(r.cancel, r.done)
}

// Current returns the accumulated counters.
func (r *Reporter) Current() Stat {
	if r == nil {
		return Stat{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Report adds s to the counters. It is a no-op on a reporter that is not
// running.
func (r *Reporter) Report(s Stat) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.current.Add(s)
	current := r.current
	needUpdate := false
	if time.Since(r.lastUpdate) > minReportInterval {
		r.lastUpdate = time.Now()
		needUpdate = true
	}
	r.mu.Unlock()

	if needUpdate {
		r.update(r.OnUpdate, current, false)
	}
}

// Done stops the periodic report and calls OnDone with the final counters.
func (r *Reporter) Done() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.cancel)
	done := r.done
	current := r.current
	r.mu.Unlock()

	<-done
	r.update(r.OnDone, current, false)
}

func (r *Reporter) update(f ReportFunc, current Stat, ticker bool) {
	if f == nil {
		return
	}
	r.funcMu.Lock()
	f(current, time.Since(r.startTime), ticker)
	r.funcMu.Unlock()
}

func (r *Reporter) reporter(cancel, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.update(r.OnUpdate, r.Current(), true)
		case <-cancel:
			return
		}
	}
}
