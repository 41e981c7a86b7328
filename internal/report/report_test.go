package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nashen-netdev/server-ping-test/internal/detect"
	"github.com/nashen-netdev/server-ping-test/internal/probe"
	"github.com/nashen-netdev/server-ping-test/internal/target"
)

func sampleSummary() *probe.Summary {
	started := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	clean := probe.NewResult(target.Target{User: "root", Host: "10.0.0.1", Port: 22, Label: "core"}, "8.8.8.8")
	clean.Hostname = "edge-a"
	clean.Replies = 42
	clean.Stats = &detect.Stats{
		Destination: "8.8.8.8",
		Transmitted: 42, Received: 42, LossPercent: 0,
		RTTMin: 1.1, RTTAvg: 2.2, RTTMax: 3.3, RTTMDev: 0.4, HasRTT: true,
	}
	clean.LogFile = "/tmp/sessions/10.0.0.1_to_8.8.8.8.log"
	clean.Finish()

	lossy := probe.NewResult(target.Target{User: "root", Host: "10.0.0.2", Port: 22}, "8.8.4.4")
	lossy.Hostname = "edge-b"
	lossy.Replies = 38
	lossy.Losses = 4
	lossy.LossEvents = []probe.LossEvent{
		{Timestamp: started.Add(10 * time.Second), FirstSeq: 10, LastSeq: 12, Count: 3},
		{Timestamp: started.Add(30 * time.Second), FirstSeq: 20, LastSeq: 20, Count: 1},
	}
	lossy.Finish()

	failed := probe.NewResult(target.Target{User: "root", Host: "10.0.0.3", Port: 22}, "1.1.1.1")
	failed.ConnectionErr = errors.New("authentication failed")
	failed.Finish()

	return &probe.Summary{
		StartedAt:          started,
		FinishedAt:         started.Add(90 * time.Second),
		SessionDir:         "/tmp/sessions",
		TotalStreams:       3,
		Connected:          2,
		ConnectionFailures: 1,
		StreamsWithLoss:    1,
		AggregateLossRate:  4.76,
		Results:            []*probe.Result{lossy, clean, failed},
	}
}

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TextFormatter{}).Format(&buf, sampleSummary()))
	text := buf.String()

	assert.Contains(t, text, "PING REACHABILITY REPORT")
	assert.Contains(t, text, "Streams:             3")
	assert.Contains(t, text, "Connection failures: 1")
	assert.Contains(t, text, "Aggregate loss rate: 4.76%")

	// Results render sorted by host
	assert.Less(t, strings.Index(text, "core -> 8.8.8.8"), strings.Index(text, "10.0.0.2 -> 8.8.4.4"))

	// Loss events with ranges and single sequences
	assert.Contains(t, text, "LOSS SUMMARY")
	assert.Contains(t, text, "seq 10-12 (3 packets)")
	assert.Contains(t, text, "seq 20 (1 packet)")

	// Remote statistics for the clean stream
	assert.Contains(t, text, "42 transmitted, 42 received, 0.0% loss")
	assert.Contains(t, text, "rtt min/avg/max/mdev = 1.100/2.200/3.300/0.400 ms")

	// Distinct call-outs for missing statistics and failed connections
	assert.Contains(t, text, "STATISTICS MISSING: stream closed without a statistics block")
	assert.Contains(t, text, "CONNECTION FAILED: authentication failed")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(&buf, sampleSummary()))

	scanner := bufio.NewScanner(&buf)

	require.True(t, scanner.Scan())
	var agg map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &agg))
	assert.EqualValues(t, 3, agg["total_streams"])
	assert.EqualValues(t, 1, agg["connection_failures"])

	var streams []map[string]any
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		streams = append(streams, row)
	}
	require.Len(t, streams, 3)

	// Sorted by host: clean, lossy, failed
	assert.Equal(t, "10.0.0.1", streams[0]["host"])
	assert.NotNil(t, streams[0]["stats"])
	assert.Equal(t, true, streams[0]["connected"])

	assert.Equal(t, "10.0.0.2", streams[1]["host"])
	events, ok := streams[1]["loss_events"].([]any)
	require.True(t, ok)
	assert.Len(t, events, 2)

	assert.Equal(t, false, streams[2]["connected"])
	assert.Equal(t, "authentication failed", streams[2]["connection_error"])
	assert.Nil(t, streams[2]["stats"])
}

func TestNewFormatterSelection(t *testing.T) {
	assert.IsType(t, &TextFormatter{}, NewFormatter(FormatText))
	assert.IsType(t, &JSONFormatter{}, NewFormatter(FormatJSON))
	assert.IsType(t, &TextFormatter{}, NewFormatter("unknown"))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	summary := sampleSummary()

	path, err := WriteFile(dir, FormatText, summary)
	require.NoError(t, err)
	assert.Equal(t, "ping_report_20260830_140000.txt", strings.TrimPrefix(path, dir+string(os.PathSeparator)))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "PING REACHABILITY REPORT")

	jsonPath, err := WriteFile(dir, FormatJSON, summary)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(jsonPath, ".json"))
}
