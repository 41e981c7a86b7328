package sessionlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nashen-netdev/server-ping-test/internal/target"
)

// LossMarker prefixes lines classified as packet loss so runs stand out
// when scanning a session log by eye.
const LossMarker = "⚠ "

// Sink receives the classified lines of one ping stream, in arrival order.
type Sink interface {
	// Write appends one timestamped line.
	Write(ts time.Time, line string) error
	// WriteLoss appends one timestamped line with the loss marker.
	WriteLoss(ts time.Time, line string) error
	// Path returns the location of the sink, for reporting.
	Path() string
	// Close finalizes the sink. Safe to call more than once.
	Close() error
}

// Factory creates sinks for a probe run inside one shared session
// directory, named after the run's start time.
type Factory interface {
	// NewSink creates the sink for one (target, destination) stream.
	NewSink(t target.Target, destination string) (Sink, error)
	// Dir returns the session directory all sinks write into.
	Dir() string
}

// FileFactory writes one log file per stream under
// <outputDir>/sessions/<YYYYMMDD_HHMMSS>/.
type FileFactory struct {
	dir     string
	started time.Time
}

// NewFileFactory creates the session directory and returns a factory bound
// to it.
func NewFileFactory(outputDir string, started time.Time) (*FileFactory, error) {
	dir := filepath.Join(outputDir, "sessions", started.Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileFactory{dir: dir, started: started}, nil
}

// Dir returns the session directory.
func (f *FileFactory) Dir() string {
	return f.dir
}

// NewSink creates the per-stream log file with its header block.
func (f *FileFactory) NewSink(t target.Target, destination string) (Sink, error) {
	name := fmt.Sprintf("%s_to_%s.log", sanitize(t.Host), sanitize(destination))
	path := filepath.Join(f.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create session log: %w", err)
	}

	s := &fileSink{file: file, path: path}
	header := fmt.Sprintf("==== ping session %s -> %s ====\nstarted: %s\n\n",
		t.Name(), destination, time.Now().Format(time.RFC3339))
	if _, err := file.WriteString(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write session log header: %w", err)
	}
	return s, nil
}

// sanitize makes a host or destination safe for use in a file name.
// IPv6 colons are the usual offender.
func sanitize(s string) string {
	r := strings.NewReplacer(":", "-", "/", "-", "\\", "-", " ", "_")
	return r.Replace(s)
}

type fileSink struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	closed bool
}

func (s *fileSink) Write(ts time.Time, line string) error {
	return s.append(ts, "", line)
}

func (s *fileSink) WriteLoss(ts time.Time, line string) error {
	return s.append(ts, LossMarker, line)
}

func (s *fileSink) append(ts time.Time, marker, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	_, err := fmt.Fprintf(s.file, "[%s] %s%s\n", ts.Format("2006-01-02 15:04:05.000"), marker, line)
	return err
}

func (s *fileSink) Path() string {
	return s.path
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	fmt.Fprintf(s.file, "\nended: %s\n", time.Now().Format(time.RFC3339))
	return s.file.Close()
}

// Discard is a Sink that drops everything. Used for dry runs and as a
// fallback when a stream's log file cannot be created.
type Discard struct{}

func (Discard) Write(time.Time, string) error     { return nil }
func (Discard) WriteLoss(time.Time, string) error { return nil }
func (Discard) Path() string                      { return "" }
func (Discard) Close() error                      { return nil }
