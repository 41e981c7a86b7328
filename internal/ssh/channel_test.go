package ssh

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeChannel(t *testing.T) (*shellChannel, *io.PipeWriter, *io.PipeReader) {
	t.Helper()
	stdoutR, stdoutW := io.Pipe()
	stdinR, stdinW := io.Pipe()
	ch := newShellChannel(nil, stdinW, stdoutR)
	t.Cleanup(func() {
		stdoutW.Close()
		stdinR.Close()
	})
	return ch, stdoutW, stdinR
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestChannelRecvEmptyOpenStream(t *testing.T) {
	ch, _, _ := pipeChannel(t)

	assert.False(t, ch.DataReady())
	chunk, err := ch.Recv(1024)
	assert.Nil(t, chunk)
	assert.NoError(t, err, "open stream with no data is not an error")
}

func TestChannelBuffersPumpedOutput(t *testing.T) {
	ch, stdoutW, _ := pipeChannel(t)

	go stdoutW.Write([]byte("64 bytes from 8.8.8.8: icmp_seq=1\n"))
	waitFor(t, ch.DataReady)

	chunk, err := ch.Recv(9)
	require.NoError(t, err)
	assert.Equal(t, "64 bytes ", string(chunk))

	rest, err := ch.Recv(4096)
	require.NoError(t, err)
	assert.Equal(t, "from 8.8.8.8: icmp_seq=1\n", string(rest))
}

func TestChannelDrainsBufferBeforeReportingEOF(t *testing.T) {
	ch, stdoutW, _ := pipeChannel(t)

	go func() {
		stdoutW.Write([]byte("tail data"))
		stdoutW.Close()
	}()

	// Buffered bytes still come out after the stream has ended
	waitFor(t, ch.DataReady)
	waitFor(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.err != nil
	})

	chunk, err := ch.Recv(4096)
	require.NoError(t, err)
	assert.Equal(t, "tail data", string(chunk))

	chunk, err = ch.Recv(4096)
	assert.Nil(t, chunk)
	assert.ErrorIs(t, err, io.EOF)
}

func TestChannelSend(t *testing.T) {
	ch, _, stdinR := pipeChannel(t)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1)
		if _, err := io.ReadFull(stdinR, buf); err == nil {
			got <- buf
		}
	}()

	require.NoError(t, ch.Send([]byte{0x03}))
	select {
	case b := <-got:
		assert.Equal(t, []byte{0x03}, b)
	case <-time.After(2 * time.Second):
		t.Fatal("interrupt byte never reached stdin")
	}
}

func TestChannelCloseIdempotentAndRejectsSend(t *testing.T) {
	ch, _, _ := pipeChannel(t)

	require.NoError(t, ch.Close())
	assert.NoError(t, ch.Close(), "second close is a no-op")
	assert.ErrorIs(t, ch.Send([]byte("x")), io.ErrClosedPipe)
}
