package probe

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	interr "github.com/nashen-netdev/server-ping-test/internal/errors"
	"github.com/nashen-netdev/server-ping-test/internal/logging"
	"github.com/nashen-netdev/server-ping-test/internal/ssh"
	"github.com/nashen-netdev/server-ping-test/internal/target"
)

// fakeChannel scripts a remote shell stream for worker tests.
type fakeChannel struct {
	mu          sync.Mutex
	pending     []byte
	sent        []byte
	ended       bool
	err         error
	closed      bool
	onInterrupt func()
}

func (c *fakeChannel) push(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, s...)
}

func (c *fakeChannel) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
	c.err = err
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, data...)
	hook := c.onInterrupt
	c.mu.Unlock()

	if hook != nil && bytes.ContainsRune(data, 0x03) {
		hook()
	}
	return nil
}

func (c *fakeChannel) DataReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

func (c *fakeChannel) Recv(max int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		n := max
		if n > len(c.pending) {
			n = len(c.pending)
		}
		chunk := make([]byte, n)
		copy(chunk, c.pending[:n])
		c.pending = c.pending[n:]
		return chunk, nil
	}
	if c.ended {
		if c.err != nil {
			return nil, c.err
		}
		return nil, io.EOF
	}
	return nil, nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) sentBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.sent...)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// memorySink records written lines in arrival order.
type memorySink struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (s *memorySink) Write(_ time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func (s *memorySink) WriteLoss(_ time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, "LOSS "+line)
	return nil
}

func (s *memorySink) Path() string { return "" }

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func testTarget() target.Target {
	return target.Target{
		User:         "root",
		Host:         "10.0.0.1",
		Port:         22,
		Destinations: []string{"8.8.8.8"},
	}
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Output: io.Discard, Quiet: true})
}

func newTestWorker(t *testing.T, ch *fakeChannel, coord *Coordinator) (*Worker, *Result, *memorySink) {
	t.Helper()
	tgt := testTarget()
	result := NewResult(tgt, "8.8.8.8")
	sink := &memorySink{}
	cfg := WorkerConfig{
		PollInterval: 5 * time.Millisecond,
		DrainWindow:  400 * time.Millisecond,
		RecvSize:     4096,
	}
	w := NewWorker(tgt, "8.8.8.8",
		func() (ssh.Channel, error) { return ch, nil },
		coord, sink, result, cfg, testLogger(), nil)
	return w, result, sink
}

func runWorker(w *Worker) chan struct{} {
	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()
	return done
}

func waitClosed(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not close in time")
	}
}

func TestWorkerStopCapturesStatistics(t *testing.T) {
	ch := &fakeChannel{}
	ch.push("64 bytes from 8.8.8.8: icmp_seq=1 ttl=64 time=1.0 ms\n")
	ch.push("64 bytes from 8.8.8.8: icmp_seq=2 ttl=64 time=1.1 ms\n")
	ch.onInterrupt = func() {
		ch.push("^C\n")
		ch.push("--- 8.8.8.8 ping statistics ---\n")
		ch.push("2 packets transmitted, 2 received, 0% packet loss, time 1001ms\n")
		ch.push("rtt min/avg/max/mdev = 1.000/1.050/1.100/0.050 ms\n")
		ch.end(nil)
	}

	coord := NewCoordinator()
	w, result, sink := newTestWorker(t, ch, coord)
	require.NoError(t, w.Start())
	assert.Equal(t, StateStreaming, w.State())

	done := runWorker(w)
	time.Sleep(30 * time.Millisecond) // let the replies stream
	coord.RequestStop()
	waitClosed(t, done)

	assert.Equal(t, StateClosed, w.State())
	assert.Equal(t, []byte{0x03}, ch.sentBytes(), "exactly one interrupt byte")
	assert.True(t, ch.isClosed())
	assert.True(t, result.Finished())
	assert.False(t, result.Incomplete())

	require.NotNil(t, result.Stats)
	assert.Equal(t, 2, result.Stats.Transmitted)
	assert.Equal(t, 2, result.Stats.Received)
	assert.Equal(t, 0.0, result.Stats.LossPercent)
	assert.Equal(t, 2, result.Replies)
	assert.True(t, sink.closed)
}

func TestWorkerDrainWindowExpires(t *testing.T) {
	ch := &fakeChannel{}
	ch.push("64 bytes from 8.8.8.8: icmp_seq=1 ttl=64 time=1.0 ms\n")
	// The remote never reacts to the interrupt: no statistics, no EOF.

	coord := NewCoordinator()
	w, result, _ := newTestWorker(t, ch, coord)
	require.NoError(t, w.Start())

	coord.RequestStop()
	coord.RequestStop() // repeated requests must not cause a second interrupt

	start := time.Now()
	done := runWorker(w)
	waitClosed(t, done)

	assert.Equal(t, StateClosed, w.State())
	assert.Nil(t, result.Stats, "no statistics block arrived")
	assert.True(t, result.Finished())
	assert.Equal(t, []byte{0x03}, ch.sentBytes())
	assert.True(t, ch.isClosed())
	assert.Less(t, time.Since(start), 3*time.Second, "drain window bounds the wait")
	assert.Equal(t, 1, result.Replies)
}

func TestWorkerNaturalEndOfStream(t *testing.T) {
	ch := &fakeChannel{}
	ch.push("64 bytes from 8.8.8.8: icmp_seq=1 ttl=64 time=1.0 ms\n")
	ch.push("--- 8.8.8.8 ping statistics ---\n")
	ch.push("1 packets transmitted, 1 received, 0% packet loss, time 0ms\n")
	ch.push("rtt min/avg/max/mdev = 1.0/1.0/1.0/0.0 ms\n")
	ch.end(nil)

	coord := NewCoordinator()
	w, result, _ := newTestWorker(t, ch, coord)
	require.NoError(t, w.Start())
	waitClosed(t, runWorker(w))

	assert.Equal(t, StateClosed, w.State())
	assert.Empty(t, ch.sentBytes(), "no stop, no interrupt")
	require.NotNil(t, result.Stats)
	assert.Equal(t, 1, result.Stats.Transmitted)
}

func TestWorkerTransportError(t *testing.T) {
	ch := &fakeChannel{}
	ch.push("64 bytes from 8.8.8.8: icmp_seq=1 ttl=64 time=1.0 ms\n")
	ch.end(errors.New("connection reset by peer"))

	coord := NewCoordinator()
	w, result, _ := newTestWorker(t, ch, coord)
	require.NoError(t, w.Start())
	waitClosed(t, runWorker(w))

	assert.Equal(t, StateClosed, w.State())
	assert.True(t, result.Finished())
	assert.Nil(t, result.Stats)
	assert.Equal(t, 1, result.Replies)
	assert.True(t, ch.isClosed())

	require.NotNil(t, result.TransportErr)
	var ce *interr.ClassifiedError
	require.True(t, errors.As(result.TransportErr, &ce))
	assert.Equal(t, interr.TransportReadErrorType, ce.Type)
}

func TestWorkerLossRunMergesAndSinkOrder(t *testing.T) {
	ch := &fakeChannel{}
	ch.push("64 bytes from 8.8.8.8: icmp_seq=1 ttl=64 time=1.0 ms\n")
	ch.push("no answer yet for icmp_seq=2\n")
	ch.push("no answer yet for icmp_seq=3\n")
	ch.push("no answer yet for icmp_seq=4\n")
	ch.push("64 bytes from 8.8.8.8: icmp_seq=5 ttl=64 time=2.0 ms\n")
	ch.end(nil)

	coord := NewCoordinator()
	w, result, sink := newTestWorker(t, ch, coord)
	require.NoError(t, w.Start())
	waitClosed(t, runWorker(w))

	assert.Equal(t, 2, result.Replies)
	assert.Equal(t, 3, result.Losses)

	// Consecutive losses collapse into one event spanning the run
	require.Len(t, result.LossEvents, 1)
	ev := result.LossEvents[0]
	assert.Equal(t, 2, ev.FirstSeq)
	assert.Equal(t, 4, ev.LastSeq)
	assert.Equal(t, 3, ev.Count)

	// The sink received every line in arrival order, losses marked
	lines := sink.recorded()
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "icmp_seq=1")
	assert.Contains(t, lines[1], "LOSS ")
	assert.Contains(t, lines[2], "LOSS ")
	assert.Contains(t, lines[3], "LOSS ")
	assert.Contains(t, lines[4], "icmp_seq=5")
}

func TestWorkerSeparatedLossesStayDistinct(t *testing.T) {
	ch := &fakeChannel{}
	ch.push("no answer yet for icmp_seq=2\n")
	ch.push("64 bytes from 8.8.8.8: icmp_seq=3 ttl=64 time=1.0 ms\n")
	ch.push("no answer yet for icmp_seq=6\n")
	ch.end(nil)

	coord := NewCoordinator()
	w, result, _ := newTestWorker(t, ch, coord)
	require.NoError(t, w.Start())
	waitClosed(t, runWorker(w))

	require.Len(t, result.LossEvents, 2)
	assert.Equal(t, 2, result.LossEvents[0].FirstSeq)
	assert.Equal(t, 6, result.LossEvents[1].FirstSeq)
}

func TestWorkerConnectFailure(t *testing.T) {
	coord := NewCoordinator()
	tgt := testTarget()
	result := NewResult(tgt, "8.8.8.8")
	w := NewWorker(tgt, "8.8.8.8",
		func() (ssh.Channel, error) { return nil, errors.New("connection refused") },
		coord, &memorySink{}, result, DefaultWorkerConfig(), testLogger(), nil)

	err := w.Start()
	require.Error(t, err)
	assert.Equal(t, StateClosed, w.State())
	assert.True(t, result.Finished())
	assert.False(t, result.Connected())
	assert.Error(t, result.ConnectionErr)
}

// An abandoned result is published to reporting while its worker may still
// be running; writes arriving after Abandon must be dropped, not raced.
func TestWorkerAbandonedResultFrozen(t *testing.T) {
	ch := &fakeChannel{}
	ch.push("64 bytes from 8.8.8.8: icmp_seq=1 ttl=64 time=1.0 ms\n")

	coord := NewCoordinator()
	w, result, sink := newTestWorker(t, ch, coord)
	require.NoError(t, w.Start())
	done := runWorker(w)

	// Wait for the first reply to land, observed through the sink.
	require.Eventually(t, func() bool {
		return len(sink.recorded()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	result.Abandon()
	assert.True(t, result.Incomplete())

	// The straggling worker keeps streaming after the result is published.
	ch.push("no answer yet for icmp_seq=2\n")
	ch.push("64 bytes from 8.8.8.8: icmp_seq=3 ttl=64 time=1.1 ms\n")
	ch.push("--- 8.8.8.8 ping statistics ---\n")
	ch.push("3 packets transmitted, 2 received, 33% packet loss, time 2002ms\n")
	ch.push("rtt min/avg/max/mdev = 1.000/1.050/1.100/0.050 ms\n")
	ch.end(nil)
	waitClosed(t, done)

	// The worker ran to completion (the sink saw the late lines) but the
	// published counters did not move.
	assert.Greater(t, len(sink.recorded()), 1)
	assert.Equal(t, 1, result.Replies)
	assert.Equal(t, 0, result.Losses)
	assert.Empty(t, result.LossEvents)
	assert.Nil(t, result.Stats)
}
