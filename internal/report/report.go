// Package report renders the aggregated outcome of a probe run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nashen-netdev/server-ping-test/internal/detect"
	"github.com/nashen-netdev/server-ping-test/internal/probe"
)

// Format represents the report output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Formatter renders a run summary
type Formatter interface {
	// Format writes the rendered summary to w
	Format(w io.Writer, summary *probe.Summary) error
}

// NewFormatter returns the formatter for the requested format, defaulting
// to text.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	default:
		return &TextFormatter{}
	}
}

// WriteFile renders the summary into ping_report_<timestamp>.txt (or .json)
// inside dir and returns the file path.
func WriteFile(dir string, format Format, summary *probe.Summary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	ext := "txt"
	if format == FormatJSON {
		ext = "json"
	}
	path := filepath.Join(dir, fmt.Sprintf("ping_report_%s.%s",
		summary.StartedAt.Format("20060102_150405"), ext))

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	if err := NewFormatter(format).Format(file, summary); err != nil {
		return "", err
	}
	return path, nil
}

// TextFormatter renders a human-readable report
type TextFormatter struct{}

// Format writes the text report
func (f *TextFormatter) Format(w io.Writer, summary *probe.Summary) error {
	fmt.Fprintln(w, strings.Repeat("=", 64))
	fmt.Fprintln(w, "PING REACHABILITY REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 64))
	fmt.Fprintf(w, "Started:  %s\n", summary.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Finished: %s\n", summary.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Duration: %s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))
	if summary.SessionDir != "" {
		fmt.Fprintf(w, "Session logs: %s\n", summary.SessionDir)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Streams:             %d\n", summary.TotalStreams)
	fmt.Fprintf(w, "Connected:           %d\n", summary.Connected)
	fmt.Fprintf(w, "Connection failures: %d\n", summary.ConnectionFailures)
	fmt.Fprintf(w, "Streams with loss:   %d\n", summary.StreamsWithLoss)
	fmt.Fprintf(w, "Incomplete streams:  %d\n", summary.IncompleteStreams)
	fmt.Fprintf(w, "Aggregate loss rate: %.2f%%\n", summary.AggregateLossRate)
	fmt.Fprintln(w)

	results := sortedResults(summary)

	if summary.StreamsWithLoss > 0 {
		fmt.Fprintln(w, "LOSS SUMMARY")
		fmt.Fprintln(w, strings.Repeat("-", 64))
		for _, r := range results {
			if len(r.LossEvents) == 0 {
				continue
			}
			fmt.Fprintf(w, "%s -> %s: %d lost (%.2f%%) in %d event(s)\n",
				r.Target.Name(), r.Destination, r.Losses, r.LossRate(), len(r.LossEvents))
		}
		fmt.Fprintln(w)
	}

	for _, r := range results {
		fmt.Fprintln(w, strings.Repeat("-", 64))
		fmt.Fprintf(w, "%s -> %s\n", r.Target.Name(), r.Destination)
		if r.Hostname != "" && r.Hostname != r.Target.Host {
			fmt.Fprintf(w, "  hostname:    %s\n", r.Hostname)
		}
		if r.Target.Label != "" {
			fmt.Fprintf(w, "  label:       %s\n", r.Target.Label)
		}

		if !r.Connected() {
			fmt.Fprintf(w, "  CONNECTION FAILED: %v\n", r.ConnectionErr)
			continue
		}

		fmt.Fprintf(w, "  duration:    %s\n", r.Duration().Round(time.Second))
		fmt.Fprintf(w, "  replies:     %d\n", r.Replies)
		fmt.Fprintf(w, "  lost:        %d (%.2f%%)\n", r.Losses, r.LossRate())
		if r.LogFile != "" {
			fmt.Fprintf(w, "  session log: %s\n", r.LogFile)
		}
		if r.TransportErr != nil {
			fmt.Fprintf(w, "  transport error: %v\n", r.TransportErr)
		}

		if len(r.LossEvents) > 0 {
			fmt.Fprintf(w, "  loss events:\n")
			for _, ev := range r.LossEvents {
				if ev.FirstSeq == ev.LastSeq {
					fmt.Fprintf(w, "    [%s] seq %d (%d packet)\n",
						ev.Timestamp.Format("15:04:05"), ev.FirstSeq, ev.Count)
				} else {
					fmt.Fprintf(w, "    [%s] seq %d-%d (%d packets)\n",
						ev.Timestamp.Format("15:04:05"), ev.FirstSeq, ev.LastSeq, ev.Count)
				}
			}
		}

		switch {
		case r.Stats != nil:
			writeStats(w, r.Stats)
		case r.Incomplete():
			fmt.Fprintf(w, "  STATISTICS MISSING: worker abandoned at stop timeout\n")
		default:
			fmt.Fprintf(w, "  STATISTICS MISSING: stream closed without a statistics block\n")
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 64))
	return nil
}

func writeStats(w io.Writer, s *detect.Stats) {
	fmt.Fprintf(w, "  remote statistics (%s):\n", s.Destination)
	fmt.Fprintf(w, "    %d transmitted, %d received, %.1f%% loss\n",
		s.Transmitted, s.Received, s.LossPercent)
	if s.HasRTT {
		fmt.Fprintf(w, "    rtt min/avg/max/mdev = %.3f/%.3f/%.3f/%.3f ms\n",
			s.RTTMin, s.RTTAvg, s.RTTMax, s.RTTMDev)
	}
}

// JSONFormatter renders the summary as one aggregate object followed by one
// JSON line per stream.
type JSONFormatter struct{}

type jsonAggregate struct {
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	SessionDir         string    `json:"session_dir,omitempty"`
	TotalStreams       int       `json:"total_streams"`
	Connected          int       `json:"connected"`
	ConnectionFailures int       `json:"connection_failures"`
	StreamsWithLoss    int       `json:"streams_with_loss"`
	IncompleteStreams  int       `json:"incomplete_streams"`
	AggregateLossRate  float64   `json:"aggregate_loss_rate"`
}

type jsonLossEvent struct {
	Timestamp time.Time `json:"timestamp"`
	FirstSeq  int       `json:"first_seq"`
	LastSeq   int       `json:"last_seq"`
	Count     int       `json:"count"`
}

type jsonStats struct {
	Transmitted int     `json:"transmitted"`
	Received    int     `json:"received"`
	LossPercent float64 `json:"loss_percent"`
	RTTMin      float64 `json:"rtt_min,omitempty"`
	RTTAvg      float64 `json:"rtt_avg,omitempty"`
	RTTMax      float64 `json:"rtt_max,omitempty"`
	RTTMDev     float64 `json:"rtt_mdev,omitempty"`
}

type jsonResult struct {
	Host          string          `json:"host"`
	Hostname      string          `json:"hostname,omitempty"`
	Label         string          `json:"label,omitempty"`
	Destination   string          `json:"destination"`
	Connected     bool            `json:"connected"`
	ConnectionErr string          `json:"connection_error,omitempty"`
	TransportErr  string          `json:"transport_error,omitempty"`
	DurationMS    int64           `json:"duration_ms"`
	Replies       int             `json:"replies"`
	Losses        int             `json:"losses"`
	LossRate      float64         `json:"loss_rate"`
	LossEvents    []jsonLossEvent `json:"loss_events,omitempty"`
	Stats         *jsonStats      `json:"stats,omitempty"`
	Incomplete    bool            `json:"incomplete"`
	LogFile       string          `json:"log_file,omitempty"`
}

// Format writes the JSON report
func (f *JSONFormatter) Format(w io.Writer, summary *probe.Summary) error {
	enc := json.NewEncoder(w)

	agg := jsonAggregate{
		StartedAt:          summary.StartedAt,
		FinishedAt:         summary.FinishedAt,
		SessionDir:         summary.SessionDir,
		TotalStreams:       summary.TotalStreams,
		Connected:          summary.Connected,
		ConnectionFailures: summary.ConnectionFailures,
		StreamsWithLoss:    summary.StreamsWithLoss,
		IncompleteStreams:  summary.IncompleteStreams,
		AggregateLossRate:  summary.AggregateLossRate,
	}
	if err := enc.Encode(agg); err != nil {
		return err
	}

	for _, r := range sortedResults(summary) {
		jr := jsonResult{
			Host:        r.Target.Host,
			Hostname:    r.Hostname,
			Label:       r.Target.Label,
			Destination: r.Destination,
			Connected:   r.Connected(),
			DurationMS:  r.Duration().Milliseconds(),
			Replies:     r.Replies,
			Losses:      r.Losses,
			LossRate:    r.LossRate(),
			Incomplete:  r.Incomplete(),
			LogFile:     r.LogFile,
		}
		if r.ConnectionErr != nil {
			jr.ConnectionErr = r.ConnectionErr.Error()
		}
		if r.TransportErr != nil {
			jr.TransportErr = r.TransportErr.Error()
		}
		for _, ev := range r.LossEvents {
			jr.LossEvents = append(jr.LossEvents, jsonLossEvent{
				Timestamp: ev.Timestamp,
				FirstSeq:  ev.FirstSeq,
				LastSeq:   ev.LastSeq,
				Count:     ev.Count,
			})
		}
		if r.Stats != nil {
			jr.Stats = &jsonStats{
				Transmitted: r.Stats.Transmitted,
				Received:    r.Stats.Received,
				LossPercent: r.Stats.LossPercent,
				RTTMin:      r.Stats.RTTMin,
				RTTAvg:      r.Stats.RTTAvg,
				RTTMax:      r.Stats.RTTMax,
				RTTMDev:     r.Stats.RTTMDev,
			}
		}
		if err := enc.Encode(jr); err != nil {
			return err
		}
	}
	return nil
}

// sortedResults orders streams by host then destination for stable output.
func sortedResults(summary *probe.Summary) []*probe.Result {
	results := make([]*probe.Result, len(summary.Results))
	copy(results, summary.Results)
	sort.Slice(results, func(i, j int) bool {
		if results[i].Target.Host != results[j].Target.Host {
			return results[i].Target.Host < results[j].Target.Host
		}
		return results[i].Destination < results[j].Destination
	})
	return results
}
