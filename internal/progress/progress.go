// Package progress provides progress display for probe launch and drain.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker tracks and displays progress for one probe phase: stream
// connection at launch, or stream close during the stop drain.
type ProgressTracker struct {
	verb      string // e.g. "connected", "stopped"
	total     int
	completed int
	failed    int
	startTime time.Time
	mu        sync.RWMutex
	writer    io.Writer
	enabled   bool
	lastDraw  time.Time
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(verb string, total int, writer io.Writer, enabled bool) *ProgressTracker {
	return &ProgressTracker{
		verb:      verb,
		total:     total,
		startTime: time.Now(),
		writer:    writer,
		enabled:   enabled,
	}
}

// Update increments the progress counters
func (p *ProgressTracker) Update(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if success {
		p.completed++
	} else {
		p.failed++
	}

	if p.enabled {
		p.draw()
	}
}

// Finish completes the progress tracking and shows the final line
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enabled {
		p.drawFinal()
	}
}

// draw renders the current progress bar
func (p *ProgressTracker) draw() {
	now := time.Now()
	// Throttle updates to avoid excessive output
	if now.Sub(p.lastDraw) < 100*time.Millisecond {
		return
	}
	p.lastDraw = now

	total := p.completed + p.failed
	if p.total == 0 {
		return
	}

	percentage := float64(total) / float64(p.total) * 100
	elapsed := now.Sub(p.startTime)

	// Create progress bar
	barWidth := 40
	filled := int(float64(barWidth) * percentage / 100)
	bar := ""
	for i := 0; i < barWidth; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}

	// Format: [████████████░░░░░░░░] 75% connected 15/20 ✓12 ✗3 [2m30s]
	fmt.Fprintf(p.writer, "\r[%s] %.1f%% %s %d/%d ✓%d ✗%d [%v]",
		bar, percentage, p.verb, total, p.total, p.completed, p.failed,
		elapsed.Round(time.Second))
}

// drawFinal renders the final progress summary
func (p *ProgressTracker) drawFinal() {
	total := p.completed + p.failed
	elapsed := time.Since(p.startTime)

	fmt.Fprintf(p.writer, "\r")
	// Clear the line
	for i := 0; i < 100; i++ {
		fmt.Fprintf(p.writer, " ")
	}
	fmt.Fprintf(p.writer, "\r")

	if p.failed == 0 {
		fmt.Fprintf(p.writer, "✓ %s %d/%d streams in %v\n",
			p.verb, p.completed, p.total, elapsed.Round(time.Second))
	} else {
		fmt.Fprintf(p.writer, "⚠ %s %d/%d streams (%d ok, %d failed) in %v\n",
			p.verb, total, p.total, p.completed, p.failed, elapsed.Round(time.Second))
	}
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() (completed, failed, total int, elapsed time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.completed, p.failed, p.total, time.Since(p.startTime)
}
