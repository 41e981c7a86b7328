package probe

import (
	stderrors "errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/nashen-netdev/server-ping-test/internal/detect"
	"github.com/nashen-netdev/server-ping-test/internal/errors"
	"github.com/nashen-netdev/server-ping-test/internal/logging"
	"github.com/nashen-netdev/server-ping-test/internal/sessionlog"
	"github.com/nashen-netdev/server-ping-test/internal/ssh"
	"github.com/nashen-netdev/server-ping-test/internal/stats"
	"github.com/nashen-netdev/server-ping-test/internal/target"
)

// interruptByte is ETX, what Ctrl-C sends on a terminal. One byte over the
// PTY stops the remote ping and makes it print its own statistics block.
const interruptByte = 0x03

// State is the lifecycle state of one session worker.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateStopRequested
	StateDraining
	StateClosed
)

// String returns a short name for the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopRequested:
		return "stop-requested"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WorkerConfig holds the tunables of one session worker's read loop.
type WorkerConfig struct {
	PollInterval time.Duration // idle delay between channel polls
	DrainWindow  time.Duration // settle time after the interrupt byte
	RecvSize     int           // max bytes per Recv call
}

// DefaultWorkerConfig returns the empirically tuned defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 100 * time.Millisecond,
		DrainWindow:  500 * time.Millisecond,
		RecvSize:     4096,
	}
}

// OpenFunc opens the transport channel for a worker. Connect retries, if any,
// live behind this function; the worker itself never retries.
type OpenFunc func() (ssh.Channel, error)

// Worker owns one (target, destination) stream: it opens the channel, runs
// the read/parse loop, forwards every classified line to the session log
// sink in arrival order, and implements the two-phase stop protocol that
// preserves the remote statistics block.
type Worker struct {
	target      target.Target
	destination string
	open        OpenFunc
	coord       *Coordinator
	sink        sessionlog.Sink
	result      *Result
	det         *detect.Detector
	cfg         WorkerConfig
	logger      *logging.Logger
	tracker     *stats.Tracker

	channel     ssh.Channel
	state       atomic.Int32
	consecutive int // length of the current loss run, for notifications
}

// NewWorker creates a worker in the CONNECTING state.
func NewWorker(t target.Target, destination string, open OpenFunc, coord *Coordinator,
	sink sessionlog.Sink, result *Result, cfg WorkerConfig, logger *logging.Logger, tracker *stats.Tracker) *Worker {
	if cfg.RecvSize <= 0 {
		cfg.RecvSize = 4096
	}
	w := &Worker{
		target:      t,
		destination: destination,
		open:        open,
		coord:       coord,
		sink:        sink,
		result:      result,
		det:         detect.New(),
		cfg:         cfg,
		logger:      logger,
		tracker:     tracker,
	}
	w.state.Store(int32(StateConnecting))
	return w
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Result returns the worker's accumulator.
func (w *Worker) Result() *Result {
	return w.result
}

// Start opens the transport channel and dispatches the continuous ping.
// Failures are connection errors, surfaced to the orchestrator without
// retry; the worker never reaches STREAMING.
func (w *Worker) Start() error {
	ch, err := w.open()
	if err != nil {
		w.setState(StateClosed)
		ce := errors.ClassifyError(err)
		w.result.mutate(func() { w.result.ConnectionErr = ce })
		w.result.Finish()
		return ce
	}
	w.channel = ch
	w.setState(StateStreaming)
	w.logger.LogProbeStart(w.target, w.result.Hostname, w.destination)
	return nil
}

// Run executes the read loop until the worker is CLOSED. Must only be
// called after a successful Start.
func (w *Worker) Run() {
	var drainDeadline time.Time

	for w.State() != StateClosed {
		// The stop flag is polled every iteration; the transition sends the
		// interrupt byte exactly once, guarded by the state machine.
		if w.coord.Stopping() && w.State() == StateStreaming {
			w.setState(StateStopRequested)
			if err := w.channel.Send([]byte{interruptByte}); err != nil {
				w.logger.LogTransportError(w.target, w.destination, err)
			}
			drainDeadline = time.Now().Add(w.cfg.DrainWindow)
			w.setState(StateDraining)
		}

		chunk, err := w.channel.Recv(w.cfg.RecvSize)
		switch {
		case len(chunk) > 0:
			w.applyAll(w.det.Feed(chunk))
			if w.result.Stats != nil {
				// Statistics captured; nothing more to wait for.
				w.close()
				continue
			}

		case err != nil:
			// Stream ended. Flush the trailing partial first so nothing the
			// remote managed to send is dropped.
			w.applyAll(w.det.Flush())
			if !stderrors.Is(err, io.EOF) {
				terr := errors.NewTransportReadError("stream read failed", err)
				w.result.mutate(func() { w.result.TransportErr = terr })
				w.logger.LogTransportError(w.target, w.destination, terr)
			}
			w.close()
			continue

		default:
			idle := w.cfg.PollInterval
			if w.State() == StateDraining && idle > 25*time.Millisecond {
				// Poll tighter during the drain window so the bounded settle
				// time is not overshot by a long idle sleep.
				idle = 25 * time.Millisecond
			}
			time.Sleep(idle)
		}

		if w.State() == StateDraining && time.Now().After(drainDeadline) {
			// Drain window elapsed without a statistics block. Whatever is
			// still buffered (possibly a block missing its final newline)
			// gets one last parse before the stream closes.
			w.applyAll(w.det.Flush())
			w.close()
		}
	}
}

// close transitions to CLOSED and only then releases the channel. Releasing
// earlier risks losing the remote statistics block; this ordering is the
// central correctness property of the worker.
func (w *Worker) close() {
	if w.State() == StateClosed {
		return
	}
	w.setState(StateClosed)
	w.result.Finish()
	_ = w.channel.Close()
	_ = w.sink.Close()
}

// applyAll applies classified events to the result and the session log sink,
// strictly in arrival order.
func (w *Worker) applyAll(events []detect.Event) {
	for _, ev := range events {
		w.apply(ev)
	}
}

func (w *Worker) apply(ev detect.Event) {
	now := time.Now()

	switch ev.Class {
	case detect.Reply:
		w.result.mutate(func() {
			w.result.Replies++
			if ev.Seq > w.result.LastSeq {
				w.result.LastSeq = ev.Seq
			}
		})
		if w.consecutive > 0 {
			w.logger.LogLossRecovered(w.target, w.destination, w.consecutive)
			w.consecutive = 0
		}
		w.tracker.AddReply()
		_ = w.sink.Write(now, ev.Text)

	case detect.Loss:
		w.result.mutate(func() {
			w.result.Losses++
			w.result.recordLoss(ev)
		})
		w.consecutive++
		if w.consecutive == 1 || w.consecutive%10 == 0 {
			w.logger.LogLossDetected(w.target, w.destination, w.consecutive)
		}
		w.tracker.AddLoss(w.consecutive == 1)
		_ = w.sink.WriteLoss(now, ev.Text)

	case detect.StatsComplete:
		w.result.mutate(func() { w.result.Stats = ev.Stats })
		w.logger.LogStatsCaptured(w.target, w.destination,
			ev.Stats.Transmitted, ev.Stats.Received, ev.Stats.LossPercent)
		if ev.Text != "" {
			_ = w.sink.Write(now, ev.Text)
		}

	default: // Raw and StatsPartial lines are logged verbatim
		_ = w.sink.Write(now, ev.Text)
	}
}
