package ssh

import (
	"bytes"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// shellChannel adapts an interactive ssh.Session to the non-blocking Channel
// contract. A pump goroutine drains the session's stdout into an internal
// buffer so DataReady and Recv never block the caller's poll loop.
type shellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser

	mu     sync.Mutex
	buf    bytes.Buffer
	err    error // set once the pump stops; io.EOF on clean stream end
	closed bool
}

func newShellChannel(session *ssh.Session, stdin io.WriteCloser, stdout io.Reader) *shellChannel {
	ch := &shellChannel{
		session: session,
		stdin:   stdin,
	}
	go ch.pump(stdout)
	return ch
}

// pump copies remote output into the buffer until the stream ends.
func (ch *shellChannel) pump(stdout io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			ch.mu.Lock()
			ch.buf.Write(chunk[:n])
			ch.mu.Unlock()
		}
		if err != nil {
			ch.mu.Lock()
			ch.err = err
			ch.mu.Unlock()
			return
		}
	}
}

// Send writes bytes to the remote shell's input
func (ch *shellChannel) Send(data []byte) error {
	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	_, err := ch.stdin.Write(data)
	return err
}

// DataReady reports whether Recv would return data
func (ch *shellChannel) DataReady() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.buf.Len() > 0
}

// Recv returns up to max buffered bytes without blocking
func (ch *shellChannel) Recv(max int) ([]byte, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.buf.Len() == 0 {
		if ch.err != nil {
			return nil, ch.err
		}
		return nil, nil
	}

	if max <= 0 || max > ch.buf.Len() {
		max = ch.buf.Len()
	}
	out := make([]byte, max)
	n, _ := ch.buf.Read(out)
	return out[:n], nil
}

// Close releases the underlying session
func (ch *shellChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	ch.mu.Unlock()

	_ = ch.stdin.Close()
	if ch.session == nil {
		return nil
	}
	return ch.session.Close()
}
