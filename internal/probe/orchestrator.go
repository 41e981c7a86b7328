package probe

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/nashen-netdev/server-ping-test/internal/errors"
	"github.com/nashen-netdev/server-ping-test/internal/logging"
	"github.com/nashen-netdev/server-ping-test/internal/progress"
	"github.com/nashen-netdev/server-ping-test/internal/sessionlog"
	"github.com/nashen-netdev/server-ping-test/internal/ssh"
	"github.com/nashen-netdev/server-ping-test/internal/stats"
	"github.com/nashen-netdev/server-ping-test/internal/target"
)

// maxAutoConcurrency caps the automatically chosen concurrency so a large
// inventory cannot open an unbounded number of SSH connections at once.
const maxAutoConcurrency = 50

// ClientFactory creates the transport client for one stream's connection.
type ClientFactory func(logger *logging.Logger) ssh.Client

// Options holds the orchestrator tunables.
type Options struct {
	Concurrency    int           // max concurrent streams; <=0 means auto
	LaunchInterval time.Duration // stagger between stream launches
	ConnectRetries int           // total connect attempts per stream
	RetryBackoff   time.Duration // base delay between connect attempts
	PollInterval   time.Duration // worker channel poll interval
	DrainWindow    time.Duration // settle time after the interrupt byte
	StopTimeout    time.Duration // join window after a stop request
	ShowProgress   bool          // render launch and drain progress bars
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		LaunchInterval: 300 * time.Millisecond,
		ConnectRetries: 3,
		RetryBackoff:   2 * time.Second,
		PollInterval:   100 * time.Millisecond,
		DrainWindow:    500 * time.Millisecond,
		StopTimeout:    3 * time.Second,
	}
}

// AutoConcurrency returns the concurrency used when none is configured:
// one slot per stream, capped.
func AutoConcurrency(streams int) int {
	if streams < 1 {
		return 1
	}
	if streams > maxAutoConcurrency {
		return maxAutoConcurrency
	}
	return streams
}

// stream is one (target, destination) pair to probe.
type stream struct {
	target target.Target
	dest   string
}

func expandStreams(targets []target.Target) []stream {
	var streams []stream
	for _, t := range targets {
		for _, d := range t.Destinations {
			streams = append(streams, stream{target: t, dest: d})
		}
	}
	return streams
}

// Orchestrator launches one session worker per (target, destination)
// stream, translates context cancellation into the cooperative stop
// protocol, and aggregates stream results into a run summary.
type Orchestrator struct {
	opts      Options
	logger    *logging.Logger
	coord     *Coordinator
	sinks     sessionlog.Factory
	tracker   *stats.Tracker
	newClient ClientFactory

	progressOut io.Writer
	connectProg *progress.ProgressTracker
	drainProg   *progress.ProgressTracker
}

// NewOrchestrator creates an orchestrator using the real SSH transport.
func NewOrchestrator(opts Options, logger *logging.Logger, sinks sessionlog.Factory, tracker *stats.Tracker) *Orchestrator {
	return &Orchestrator{
		opts:        opts,
		logger:      logger,
		coord:       NewCoordinator(),
		sinks:       sinks,
		tracker:     tracker,
		progressOut: os.Stderr,
		newClient: func(l *logging.Logger) ssh.Client {
			return ssh.NewClientWithLogger(l)
		},
	}
}

// SetClientFactory replaces the transport client factory.
func (o *Orchestrator) SetClientFactory(f ClientFactory) {
	o.newClient = f
}

// Coordinator exposes the run's stop coordinator, so callers can request a
// stop from outside the run context.
func (o *Orchestrator) Coordinator() *Coordinator {
	return o.coord
}

// Run probes every (target, destination) stream until the context is
// cancelled or every remote stream ends on its own, then returns the
// aggregated summary. Cancellation triggers the stop protocol: each worker
// gets an interrupt byte and a bounded drain window, and workers that miss
// the join window are abandoned with whatever they captured.
func (o *Orchestrator) Run(ctx context.Context, targets []target.Target) *Summary {
	streams := expandStreams(targets)
	concurrency := o.opts.Concurrency
	if concurrency <= 0 {
		concurrency = AutoConcurrency(len(streams))
	}

	summary := &Summary{
		StartedAt:    time.Now(),
		SessionDir:   o.sinks.Dir(),
		TotalStreams: len(streams),
	}
	o.logger.LogRunStart(len(targets), len(streams), concurrency)

	// The drain tracker receives updates only once a stop is underway, so
	// it stays silent during normal streaming.
	o.connectProg = progress.NewProgressTracker("connected", len(streams), o.progressOut, o.opts.ShowProgress)
	o.drainProg = progress.NewProgressTracker("stopped", len(streams), o.progressOut, o.opts.ShowProgress)

	// Translate context cancellation into the stop flag immediately, so
	// workers (and pending launches) see it without waiting for the main
	// join select below.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if o.coord.RequestStop() {
				o.logger.LogStopRequested(ctx.Err().Error())
			}
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	o.tracker.Start()

	sem := make(chan struct{}, concurrency)
	results := make([]*Result, len(streams))
	for i, st := range streams {
		results[i] = NewResult(st.target, st.dest)
		o.coord.Register()
		go o.runStream(ctx, st, results[i], sem)

		if o.opts.LaunchInterval > 0 && i < len(streams)-1 && !o.coord.Stopping() {
			select {
			case <-time.After(o.opts.LaunchInterval):
			case <-ctx.Done():
			}
		}
	}

	// Normal runs block here until a stop request; the bounded join window
	// only starts once the stop protocol is underway.
	workersDone := make(chan struct{})
	go func() {
		o.coord.Wait()
		close(workersDone)
	}()

	joined := true
	select {
	case <-workersDone:
	case <-ctx.Done():
		joined = o.coord.AwaitAll(o.opts.StopTimeout)
	}
	o.connectProg.Finish()
	if o.coord.Stopping() {
		o.drainProg.Finish()
	}

	if !joined {
		for _, r := range results {
			if !r.Finished() {
				r.Abandon()
				o.logger.LogWorkerAbandoned(r.Target, r.Destination, o.opts.StopTimeout)
			}
		}
	}

	o.tracker.Stop()

	summary.FinishedAt = time.Now()
	summary.Results = results
	errs := errors.NewErrorCollector()
	var totalPackets, totalLosses int
	for _, r := range results {
		if !r.Connected() {
			summary.ConnectionFailures++
			errs.Add(r.ConnectionErr)
			continue
		}
		summary.Connected++
		if r.TransportErr != nil {
			errs.Add(r.TransportErr)
		}
		if r.Losses > 0 {
			summary.StreamsWithLoss++
		}
		if r.Incomplete() {
			summary.IncompleteStreams++
			errs.Add(errors.NewStopTimeoutError(r.Key() + " abandoned at stop timeout"))
		}
		totalPackets += r.TotalPackets()
		totalLosses += r.Losses
	}
	if totalPackets > 0 {
		summary.AggregateLossRate = float64(totalLosses) / float64(totalPackets) * 100
	}

	o.logger.LogRunComplete(summary.TotalStreams, summary.Connected,
		summary.ConnectionFailures, summary.StreamsWithLoss,
		summary.FinishedAt.Sub(summary.StartedAt))
	if errs.HasErrors() {
		o.logger.Warn("probe run recorded errors",
			"error_summary", errs.Summary(),
			"connection_errors", errs.CountByType(errors.ConnectionErrorType),
			"auth_errors", errs.CountByType(errors.AuthenticationErrorType),
			"transport_errors", errs.CountByType(errors.TransportReadErrorType),
			"stop_timeouts", errs.CountByType(errors.StopTimeoutErrorType))
	}
	return summary
}

// runStream owns one stream end to end: concurrency slot, connection with
// retries, session log sink, worker lifecycle, transport teardown.
func (o *Orchestrator) runStream(ctx context.Context, st stream, result *Result, sem chan struct{}) {
	defer o.coord.WorkerClosed()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		result.mutate(func() {
			result.ConnectionErr = errors.NewConnectionError("run stopped before connecting", ctx.Err())
		})
		result.Finish()
		return
	}
	defer func() { <-sem }()

	if o.coord.Stopping() {
		result.mutate(func() {
			result.ConnectionErr = errors.NewConnectionError("run stopped before connecting", nil)
		})
		result.Finish()
		return
	}

	o.tracker.StreamStarted()

	client, channel, hostname, err := o.connect(ctx, st)
	if err != nil {
		result.mutate(func() { result.ConnectionErr = errors.ClassifyError(err) })
		result.Finish()
		o.tracker.StreamFailed()
		o.connectProg.Update(false)
		return
	}
	defer client.Close()
	result.mutate(func() { result.Hostname = hostname })
	o.tracker.StreamConnected()
	o.connectProg.Update(true)

	sink, err := o.sinks.NewSink(st.target, st.dest)
	if err != nil {
		o.logger.Error("failed to create session log, stream output will be dropped",
			"host", st.target.Host, "destination", st.dest, "error", err.Error())
		sink = sessionlog.Discard{}
	}
	result.mutate(func() { result.LogFile = sink.Path() })

	cfg := WorkerConfig{
		PollInterval: o.opts.PollInterval,
		DrainWindow:  o.opts.DrainWindow,
	}
	worker := NewWorker(st.target, st.dest,
		func() (ssh.Channel, error) { return channel, nil },
		o.coord, sink, result, cfg, o.logger, o.tracker)
	if err := worker.Start(); err != nil {
		o.tracker.StreamFailed()
		return
	}
	worker.Run()
	o.tracker.StreamClosed(result.Losses > 0)
	if o.coord.Stopping() {
		o.drainProg.Update(result.Stats != nil)
	}
}

// connect dials the target with retry and backoff, captures the remote
// hostname, and dispatches the continuous ping. Only retryable connection
// failures are retried; authentication and setup failures abort at once.
func (o *Orchestrator) connect(ctx context.Context, st stream) (ssh.Client, ssh.Channel, string, error) {
	attempts := o.opts.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}
	base := o.opts.RetryBackoff
	if base <= 0 {
		base = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if o.coord.Stopping() {
			if lastErr == nil {
				lastErr = errors.NewConnectionError("run stopped before connecting", ctx.Err())
			}
			return nil, nil, "", lastErr
		}

		client := o.newClient(o.logger)
		start := time.Now()
		if err := client.Connect(ctx, st.target); err != nil {
			lastErr = err
			o.logger.LogConnectionError(st.target, err, attempt)

			ce := errors.ClassifyError(err)
			if !ce.IsRetryable() || attempt == attempts {
				return nil, nil, "", err
			}
			// Exponential backoff: base, 2*base, 4*base, ...
			backoff := time.Duration(1<<(attempt-1)) * base
			o.logger.LogRetry(st.target, attempt+1, backoff, ce.Type.String())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, nil, "", err
			}
			continue
		}

		hostname, err := client.Hostname(ctx)
		if err != nil || hostname == "" {
			hostname = st.target.Host
		}
		o.logger.LogConnection(st.target, hostname, time.Since(start), attempt)

		channel, err := client.StartPing(ctx, st.dest)
		if err != nil {
			// The connection worked but the shell did not; retrying the
			// whole dial is unlikely to help.
			client.Close()
			return nil, nil, "", err
		}
		return client, channel, hostname, nil
	}
	return nil, nil, "", lastErr
}
