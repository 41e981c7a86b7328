// Package probe implements the concurrent probe lifecycle engine: one
// session worker per (target, destination) stream, a cooperative stop
// coordinator, and the orchestrator that aggregates results.
package probe

import (
	"sync"
	"time"

	"github.com/nashen-netdev/server-ping-test/internal/detect"
	"github.com/nashen-netdev/server-ping-test/internal/target"
)

// LossEvent records one detected gap in the ping sequence numbers. A run of
// consecutive losses collapses into a single event spanning FirstSeq..LastSeq.
type LossEvent struct {
	Timestamp time.Time // wall clock of the first loss in the run
	FirstSeq  int       // first missing sequence number
	LastSeq   int       // last missing sequence number observed so far
	Count     int       // number of lost packets in the run
	Line      string    // the remote output line that opened the run
}

// Result accumulates the outcome of one (target, destination) stream. The
// worker writes the data fields through mutate, which holds the lock and
// refuses writes once the result has been abandoned; abandonment therefore
// freezes the result before the orchestrator publishes it for reporting,
// even while a straggling worker goroutine is still being joined.
type Result struct {
	Target      target.Target
	Hostname    string // remote-reported hostname, empty until connected
	Destination string
	LogFile     string // per-session log file path, empty when never connected

	StartTime  time.Time
	LossEvents []LossEvent
	LastSeq    int // last reply sequence number seen
	Replies    int
	Losses     int
	Stats      *detect.Stats // remote statistics block, nil until captured

	ConnectionErr error // set when the channel could not be opened
	TransportErr  error // set when an open stream died mid-session

	mu         sync.Mutex
	endTime    time.Time
	incomplete bool
}

// NewResult creates the accumulator for one stream.
func NewResult(t target.Target, destination string) *Result {
	return &Result{
		Target:      t,
		Destination: destination,
		StartTime:   time.Now(),
	}
}

// Key identifies the stream.
func (r *Result) Key() string {
	return r.Target.Key(r.Destination)
}

// Finish marks the result finished. Safe to call more than once; the first
// call wins.
func (r *Result) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endTime.IsZero() {
		r.endTime = time.Now()
	}
}

// Abandon marks the result finished and incomplete: the worker missed the
// join window and whatever was captured is all there is.
func (r *Result) Abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endTime.IsZero() {
		r.endTime = time.Now()
	}
	r.incomplete = true
}

// mutate applies fn to the data fields under the lock. Once the result has
// been abandoned it belongs to reporting, so late writes from a straggling
// worker are dropped rather than raced.
func (r *Result) mutate(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.incomplete {
		return
	}
	fn()
}

// EndTime returns the finish time, zero while the stream is still running.
func (r *Result) EndTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endTime
}

// Finished reports whether the stream has ended.
func (r *Result) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.endTime.IsZero()
}

// Incomplete reports whether the stream was abandoned at stop timeout.
func (r *Result) Incomplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.incomplete
}

// Connected reports whether the channel was ever opened.
func (r *Result) Connected() bool {
	return r.ConnectionErr == nil
}

// TotalPackets returns the number of packets observed (replies plus losses).
func (r *Result) TotalPackets() int {
	return r.Replies + r.Losses
}

// LossRate returns the observed loss percentage for this stream.
func (r *Result) LossRate() float64 {
	total := r.TotalPackets()
	if total == 0 {
		return 0
	}
	return float64(r.Losses) / float64(total) * 100
}

// Duration returns how long the stream ran; zero while still running.
func (r *Result) Duration() time.Duration {
	end := r.EndTime()
	if end.IsZero() {
		return 0
	}
	return end.Sub(r.StartTime)
}

// recordLoss appends or extends a loss event. Consecutive sequence numbers
// extend the current run; anything else opens a new event.
func (r *Result) recordLoss(ev detect.Event) {
	now := time.Now()
	if n := len(r.LossEvents); n > 0 {
		last := &r.LossEvents[n-1]
		if ev.Seq != 0 && ev.Seq == last.LastSeq+1 {
			last.LastSeq = ev.Seq
			last.Count++
			return
		}
	}
	r.LossEvents = append(r.LossEvents, LossEvent{
		Timestamp: now,
		FirstSeq:  ev.Seq,
		LastSeq:   ev.Seq,
		Count:     1,
		Line:      ev.Text,
	})
}

// Summary is the aggregated outcome of one orchestrated run; the reporting
// collaborator renders it.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	SessionDir string // directory holding the per-session log files

	TotalStreams       int // (target, destination) pairs attempted
	Connected          int
	ConnectionFailures int
	StreamsWithLoss    int
	IncompleteStreams  int // abandoned at stop timeout, statistics absent

	AggregateLossRate float64 // over successfully connected streams only

	Results []*Result
}
