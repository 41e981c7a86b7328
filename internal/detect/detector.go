// Package detect classifies live ping output into reply, loss, and
// statistics events.
package detect

import (
	"regexp"
	"strconv"
	"strings"
)

// Class identifies how a line of remote ping output was classified.
type Class int

const (
	// Raw is any line that matched no other rule. Raw lines are still
	// logged, never discarded.
	Raw Class = iota

	// Reply is a successful echo reply carrying a sequence number and RTT.
	Reply

	// Loss is an explicit timeout/no-answer indication for a sequence number.
	Loss

	// StatsPartial is a line inside the closing statistics block that does
	// not yet complete it.
	StatsPartial

	// StatsComplete is the line that completes the statistics block; the
	// event carries the assembled Stats.
	StatsComplete
)

// String returns a short name for the class.
func (c Class) String() string {
	switch c {
	case Reply:
		return "reply"
	case Loss:
		return "loss"
	case StatsPartial:
		return "stats-partial"
	case StatsComplete:
		return "stats-complete"
	default:
		return "raw"
	}
}

// Stats is the remote ping program's own end-of-run summary.
type Stats struct {
	Destination string   // destination named in the statistics header
	Transmitted int      // packets transmitted
	Received    int      // packets received
	LossPercent float64  // loss percentage as reported by the remote
	RTTMin      float64  // round-trip minimum, milliseconds
	RTTAvg      float64  // round-trip average, milliseconds
	RTTMax      float64  // round-trip maximum, milliseconds
	RTTMDev     float64  // round-trip mean deviation, milliseconds
	HasRTT      bool     // false when the remote emitted no rtt line (100% loss)
	Lines       []string // the block verbatim, in arrival order
}

// Event is one classified line of output.
type Event struct {
	Text  string  // the line, without trailing newline
	Class Class   // classification
	Seq   int     // icmp sequence number (Reply and Loss only)
	Gap   int     // Loss only: distance from the last contiguous reply sequence
	RTT   float64 // Reply only: round-trip time in milliseconds
	Stats *Stats  // StatsComplete only
}

var (
	replyPattern = regexp.MustCompile(`\bbytes from\b.*icmp_seq[=:](\d+).*time[=<]([\d.]+)\s*ms`)
	lossPattern  = regexp.MustCompile(`(?i)(no answer yet for icmp_seq[=:](\d+)|timeout)`)
	seqPattern   = regexp.MustCompile(`icmp_seq[=:](\d+)`)
	headPattern  = regexp.MustCompile(`^---\s+(\S+)\s+ping statistics\s+---$`)
	pktPattern   = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received.*?([\d.]+)% packet loss`)
	rttPattern   = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max/(?:mdev|stddev) = ([\d.]+)/([\d.]+)/([\d.]+)/([\d.]+) ms`)
)

// Detector turns an incremental byte stream of remote ping output into
// classified line events. It is stateful per session: it holds the trailing
// partial line between chunks, the last contiguous reply sequence number,
// and the in-progress statistics block. It never validates protocol
// correctness of the remote target; it only records observations.
type Detector struct {
	partial      string         // unconsumed trailing partial line
	lastReplySeq int            // last contiguous reply sequence observed
	classified   map[int]Class  // first classification per sequence number wins
	inStats      bool           // inside a statistics block
	stats        *Stats         // statistics block being assembled
	sawPackets   bool           // packet-count line of the block parsed
}

// New creates a Detector with no history.
func New() *Detector {
	return &Detector{
		classified: make(map[int]Class),
	}
}

// Feed consumes one newly-available chunk of output, which may begin or end
// mid-line, and returns the complete classified lines it produced. The
// trailing partial line is held and prefixed to the next chunk.
func (d *Detector) Feed(chunk []byte) []Event {
	d.partial += string(chunk)

	var events []Event
	for {
		idx := strings.IndexByte(d.partial, '\n')
		if idx == -1 {
			break
		}
		line := strings.TrimRight(d.partial[:idx], "\r")
		d.partial = d.partial[idx+1:]

		if ev, ok := d.classify(strings.TrimSpace(line)); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush signals end-of-stream: any held partial line is classified, and an
// in-progress statistics block is finalized if it already carries the packet
// counts (a remote that reported 100% loss emits no rtt line).
func (d *Detector) Flush() []Event {
	var events []Event

	line := strings.TrimSpace(strings.TrimRight(d.partial, "\r"))
	d.partial = ""
	if line != "" {
		if ev, ok := d.classify(line); ok {
			events = append(events, ev)
		}
	}

	if d.inStats {
		if ev, ok := d.finishStats(""); ok {
			events = append(events, ev)
		}
	}
	return events
}

// LastReplySeq reports the last contiguous reply sequence number observed.
func (d *Detector) LastReplySeq() int {
	return d.lastReplySeq
}

// classify applies the classification rules, in order, to one complete line.
// The bool result is false only for lines that carry no information at all
// (blank lines and shell prompt echoes outside a statistics block).
func (d *Detector) classify(line string) (Event, bool) {
	if d.inStats {
		return d.classifyStatsLine(line)
	}

	if line == "" {
		return Event{}, false
	}
	// Interactive shells echo the prompt between commands; those lines carry
	// nothing worth recording.
	if strings.HasSuffix(line, "$") || strings.HasSuffix(line, "#") {
		return Event{}, false
	}

	if m := replyPattern.FindStringSubmatch(line); m != nil {
		seq, _ := strconv.Atoi(m[1])
		rtt, _ := strconv.ParseFloat(m[2], 64)
		if _, dup := d.classified[seq]; dup {
			// Duplicate delivery: the first classification for a sequence
			// number wins, later ones pass through unclassified.
			return Event{Text: line, Class: Raw}, true
		}
		d.classified[seq] = Reply
		if seq > d.lastReplySeq {
			d.lastReplySeq = seq
		}
		return Event{Text: line, Class: Reply, Seq: seq, RTT: rtt}, true
	}

	if lossPattern.MatchString(line) {
		seq := 0
		if m := seqPattern.FindStringSubmatch(line); m != nil {
			seq, _ = strconv.Atoi(m[1])
		}
		if seq > 0 {
			if _, dup := d.classified[seq]; dup {
				return Event{Text: line, Class: Raw}, true
			}
			d.classified[seq] = Loss
		}
		gap := 0
		if seq > d.lastReplySeq {
			gap = seq - d.lastReplySeq
		}
		return Event{Text: line, Class: Loss, Seq: seq, Gap: gap}, true
	}

	if m := headPattern.FindStringSubmatch(line); m != nil {
		d.inStats = true
		d.sawPackets = false
		d.stats = &Stats{
			Destination: m[1],
			Lines:       []string{line},
		}
		return Event{Text: line, Class: StatsPartial}, true
	}

	return Event{Text: line, Class: Raw}, true
}

// classifyStatsLine accumulates one line of the statistics block. A blank
// line ends the block.
func (d *Detector) classifyStatsLine(line string) (Event, bool) {
	if line == "" {
		return d.finishStats("")
	}

	d.stats.Lines = append(d.stats.Lines, line)

	if m := pktPattern.FindStringSubmatch(line); m != nil {
		d.stats.Transmitted, _ = strconv.Atoi(m[1])
		d.stats.Received, _ = strconv.Atoi(m[2])
		d.stats.LossPercent, _ = strconv.ParseFloat(m[3], 64)
		d.sawPackets = true
		return Event{Text: line, Class: StatsPartial}, true
	}

	if m := rttPattern.FindStringSubmatch(line); m != nil {
		d.stats.RTTMin, _ = strconv.ParseFloat(m[1], 64)
		d.stats.RTTAvg, _ = strconv.ParseFloat(m[2], 64)
		d.stats.RTTMax, _ = strconv.ParseFloat(m[3], 64)
		d.stats.RTTMDev, _ = strconv.ParseFloat(m[4], 64)
		d.stats.HasRTT = true
		if d.sawPackets {
			// The rtt quartet completes the block.
			stats := d.stats
			d.inStats = false
			d.stats = nil
			return Event{Text: line, Class: StatsComplete, Stats: stats}, true
		}
		// rtt line without packet counts is a malformed block; keep
		// accumulating and let the terminator decide.
		return Event{Text: line, Class: StatsPartial}, true
	}

	return Event{Text: line, Class: StatsPartial}, true
}

// finishStats closes the block at a blank line or end-of-stream. A block
// whose packet counts were parsed is complete even without an rtt line;
// anything less is a parse anomaly and the terminator degrades to Raw.
func (d *Detector) finishStats(line string) (Event, bool) {
	stats := d.stats
	d.inStats = false
	d.stats = nil

	if d.sawPackets {
		return Event{Text: line, Class: StatsComplete, Stats: stats}, true
	}
	if line == "" {
		return Event{}, false
	}
	return Event{Text: line, Class: Raw}, true
}
