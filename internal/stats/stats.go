// Package stats provides real-time statistics tracking for probe runs.
package stats

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Statistics holds real-time probe statistics
type Statistics struct {
	StartTime      time.Time
	TotalStreams   int
	ActiveStreams  int
	Connected      int
	Failed         int
	Closed         int
	Replies        int64
	Losses         int64
	LossRuns       int
	StreamsLossy   int
	mu             sync.RWMutex
}

// Tracker provides real-time statistics tracking and display
type Tracker struct {
	stats   *Statistics
	writer  io.Writer
	enabled bool
	ticker  *time.Ticker
	done    chan bool
}

// NewTracker creates a new statistics tracker
func NewTracker(totalStreams int, writer io.Writer, enabled bool) *Tracker {
	return &Tracker{
		stats: &Statistics{
			StartTime:    time.Now(),
			TotalStreams: totalStreams,
		},
		writer:  writer,
		enabled: enabled,
		done:    make(chan bool),
	}
}

// Start begins real-time statistics display
func (st *Tracker) Start() {
	if st == nil || !st.enabled {
		return
	}

	st.ticker = time.NewTicker(1 * time.Second)
	go func() {
		for {
			select {
			case <-st.ticker.C:
				st.displayStats()
			case <-st.done:
				return
			}
		}
	}()
}

// Stop stops the real-time statistics display
func (st *Tracker) Stop() {
	if st == nil {
		return
	}
	if st.ticker != nil {
		st.ticker.Stop()
		st.done <- true
	}

	if st.enabled {
		st.displayFinalStats()
	}
}

// StreamStarted increments the active streams counter
func (st *Tracker) StreamStarted() {
	if st == nil {
		return
	}
	st.stats.mu.Lock()
	defer st.stats.mu.Unlock()
	st.stats.ActiveStreams++
}

// StreamConnected records a successful channel open
func (st *Tracker) StreamConnected() {
	if st == nil {
		return
	}
	st.stats.mu.Lock()
	defer st.stats.mu.Unlock()
	st.stats.Connected++
}

// StreamFailed records a stream that never connected
func (st *Tracker) StreamFailed() {
	if st == nil {
		return
	}
	st.stats.mu.Lock()
	defer st.stats.mu.Unlock()
	st.stats.ActiveStreams--
	st.stats.Failed++
}

// StreamClosed records a stream reaching its final state
func (st *Tracker) StreamClosed(sawLoss bool) {
	if st == nil {
		return
	}
	st.stats.mu.Lock()
	defer st.stats.mu.Unlock()
	st.stats.ActiveStreams--
	st.stats.Closed++
	if sawLoss {
		st.stats.StreamsLossy++
	}
}

// AddReply records one echo reply
func (st *Tracker) AddReply() {
	if st == nil {
		return
	}
	st.stats.mu.Lock()
	defer st.stats.mu.Unlock()
	st.stats.Replies++
}

// AddLoss records one lost packet; firstInRun marks the start of a loss run
func (st *Tracker) AddLoss(firstInRun bool) {
	if st == nil {
		return
	}
	st.stats.mu.Lock()
	defer st.stats.mu.Unlock()
	st.stats.Losses++
	if firstInRun {
		st.stats.LossRuns++
	}
}

// displayStats shows current statistics
func (st *Tracker) displayStats() {
	st.stats.mu.RLock()
	defer st.stats.mu.RUnlock()

	elapsed := time.Since(st.stats.StartTime)

	total := st.stats.Replies + st.stats.Losses
	var lossRate float64
	if total > 0 {
		lossRate = float64(st.stats.Losses) / float64(total) * 100
	}

	// Clear previous line and display stats
	fmt.Fprintf(st.writer, "\r\033[K") // Clear line
	fmt.Fprintf(st.writer, "📊 Streams: %d/%d (✓%d ✗%d ~%d) | Replies: %d | Lost: %d (%.2f%%) | Loss runs: %d | %v",
		st.stats.Closed, st.stats.TotalStreams,
		st.stats.Connected, st.stats.Failed, st.stats.ActiveStreams,
		st.stats.Replies, st.stats.Losses, lossRate, st.stats.LossRuns,
		elapsed.Round(time.Second))
}

// displayFinalStats shows final probe statistics
func (st *Tracker) displayFinalStats() {
	st.stats.mu.RLock()
	defer st.stats.mu.RUnlock()

	elapsed := time.Since(st.stats.StartTime)
	total := st.stats.Replies + st.stats.Losses

	fmt.Fprintf(st.writer, "\r\033[K") // Clear line
	fmt.Fprintf(st.writer, "\n")
	fmt.Fprintf(st.writer, "📈 Final Statistics:\n")
	fmt.Fprintf(st.writer, "   Total Streams: %d\n", st.stats.TotalStreams)
	if st.stats.TotalStreams > 0 {
		fmt.Fprintf(st.writer, "   Connected: %d (%.1f%%)\n",
			st.stats.Connected,
			float64(st.stats.Connected)/float64(st.stats.TotalStreams)*100)
		fmt.Fprintf(st.writer, "   Connection Failures: %d (%.1f%%)\n",
			st.stats.Failed,
			float64(st.stats.Failed)/float64(st.stats.TotalStreams)*100)
	}
	fmt.Fprintf(st.writer, "   Echo Replies: %d\n", st.stats.Replies)
	fmt.Fprintf(st.writer, "   Lost Packets: %d\n", st.stats.Losses)
	if total > 0 {
		fmt.Fprintf(st.writer, "   Observed Loss Rate: %.2f%%\n",
			float64(st.stats.Losses)/float64(total)*100)
	}
	fmt.Fprintf(st.writer, "   Loss Runs: %d\n", st.stats.LossRuns)
	fmt.Fprintf(st.writer, "   Streams With Loss: %d\n", st.stats.StreamsLossy)
	fmt.Fprintf(st.writer, "   Probe Time: %v\n", elapsed.Round(time.Second))
	fmt.Fprintf(st.writer, "\n")
}

// GetStatistics returns a copy of current statistics
func (st *Tracker) GetStatistics() Statistics {
	st.stats.mu.RLock()
	defer st.stats.mu.RUnlock()

	// Return a copy without the mutex to avoid copylocks issue
	return Statistics{
		StartTime:     st.stats.StartTime,
		TotalStreams:  st.stats.TotalStreams,
		ActiveStreams: st.stats.ActiveStreams,
		Connected:     st.stats.Connected,
		Failed:        st.stats.Failed,
		Closed:        st.stats.Closed,
		Replies:       st.stats.Replies,
		Losses:        st.stats.Losses,
		LossRuns:      st.stats.LossRuns,
		StreamsLossy:  st.stats.StreamsLossy,
	}
}
