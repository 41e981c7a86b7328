package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nashen-netdev/server-ping-test/internal/logging"
	"github.com/nashen-netdev/server-ping-test/internal/target"
)

// Client defines the interface for SSH operations
type Client interface {
	// Connect establishes an SSH connection to the target host
	Connect(ctx context.Context, target target.Target) error

	// Hostname reports the remote host's own name
	Hostname(ctx context.Context) (string, error)

	// StartPing opens an interactive shell channel on the connected host and
	// issues a continuous ping against the destination
	StartPing(ctx context.Context, destination string) (Channel, error)

	// Close terminates the SSH connection
	Close() error
}

// Channel is a bidirectional byte channel to the remote shell. Recv and
// DataReady never block; callers poll.
type Channel interface {
	// Send writes bytes to the remote shell's input
	Send(data []byte) error

	// DataReady reports whether Recv would return data
	DataReady() bool

	// Recv returns up to max buffered bytes. It returns (nil, nil) when no
	// data is buffered and the stream is still open, and io.EOF (or the
	// underlying error) once the stream has ended and the buffer is empty.
	Recv(max int) ([]byte, error)

	// Close releases the underlying session
	Close() error
}

// SSHClient implements the Client interface using golang.org/x/crypto/ssh
type SSHClient struct {
	conn   *ssh.Client
	target target.Target
	logger *logging.Logger
}

// NewClient creates a new SSH client instance
func NewClient() Client {
	return &SSHClient{}
}

// NewClientWithLogger creates a new SSH client instance with logging
func NewClientWithLogger(logger *logging.Logger) Client {
	return &SSHClient{
		logger: logger,
	}
}

// Connect establishes an SSH connection to the target host
func (c *SSHClient) Connect(ctx context.Context, target target.Target) error {
	c.target = target

	config, err := c.buildSSHConfig(target)
	if err != nil {
		return fmt.Errorf("failed to build SSH config: %w", err)
	}

	address := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))

	dialer := &net.Dialer{
		Timeout: 15 * time.Second, // Connection timeout
	}

	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		return fmt.Errorf("SSH handshake failed for %s: %w", address, err)
	}

	c.conn = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

// Hostname reports the remote host's own name, falling back to the target
// address when the command fails.
func (c *SSHClient) Hostname(ctx context.Context) (string, error) {
	if c.conn == nil {
		return "", fmt.Errorf("not connected to any host")
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	out, err := session.Output("hostname")
	if err != nil {
		return c.target.Host, nil
	}
	hostname := strings.TrimSpace(string(out))
	if hostname == "" {
		hostname = c.target.Host
	}
	return hostname, nil
}

// StartPing opens an interactive shell with a PTY and issues a continuous
// ping against the destination. The PTY matters: the interrupt byte only
// stops the remote ping when it travels over a terminal channel.
func (c *SSHClient) StartPing(ctx context.Context, destination string) (Channel, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected to any host")
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 80, 200, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	ch := newShellChannel(session, stdin, stdout)

	// The -O flag makes ping report "no answer yet" lines for missing
	// replies, which is what the loss detector keys on.
	command := fmt.Sprintf("ping -O %s\n", destination)
	if err := ch.Send([]byte(command)); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to issue ping command: %w", err)
	}

	return ch, nil
}

// Close terminates the SSH connection
func (c *SSHClient) Close() error {
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		// Connection close errors are not critical; log and move on
		if err != nil && c.logger != nil {
			c.logger.Error("SSH connection close error", "error", err, "host", c.target.Host)
		}
	}
	return nil
}

// buildSSHConfig creates an SSH client configuration with authentication methods
func (c *SSHClient) buildSSHConfig(target target.Target) (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            target.User,
		HostKeyCallback: c.getHostKeyCallback(),
		Timeout:         15 * time.Second,
	}

	authMethods, err := c.getAuthMethods(target)
	if err != nil {
		return nil, fmt.Errorf("failed to set up authentication: %w", err)
	}
	config.Auth = authMethods

	return config, nil
}

// getAuthMethods returns available authentication methods in order of preference
func (c *SSHClient) getAuthMethods(target target.Target) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	// 1. Password authentication when the target carries one. Cutover-drill
	// fleets are commonly provisioned with per-host passwords.
	if target.Password != "" {
		authMethods = append(authMethods, ssh.Password(target.Password))
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = target.Password
				}
				return answers, nil
			}))
	}

	// 2. SSH agent authentication
	if agentAuth := c.getAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	// 3. Identity file authentication if specified
	if target.IdentityFile != "" {
		keyAuth, err := c.getKeyAuth(target.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load identity file %s: %w", target.IdentityFile, err)
		}
		authMethods = append(authMethods, keyAuth)
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}

	return authMethods, nil
}

// getAgentAuth returns SSH agent authentication if available
func (c *SSHClient) getAgentAuth() ssh.AuthMethod {
	if agentConn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK")); err == nil {
		return ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers)
	}
	return nil
}

// getKeyAuth returns public key authentication using the specified private key file
func (c *SSHClient) getKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// getHostKeyCallback returns a secure host key callback that tries known_hosts first,
// then falls back to a warning-based insecure callback for development/testing
func (c *SSHClient) getHostKeyCallback() ssh.HostKeyCallback {
	// Try to use known_hosts file for secure host key verification
	if homeDir, err := os.UserHomeDir(); err == nil {
		knownHostsFile := homeDir + "/.ssh/known_hosts"
		if _, err := os.Stat(knownHostsFile); err == nil {
			if hostKeyCallback, err := knownhosts.New(knownHostsFile); err == nil {
				return hostKeyCallback
			}
		}
	}

	// Fallback to system known_hosts
	if hostKeyCallback, err := knownhosts.New("/etc/ssh/ssh_known_hosts"); err == nil {
		return hostKeyCallback
	}

	// Final fallback: insecure callback with warning
	// This is acceptable for tools that need to work across many unknown hosts
	return ssh.HostKeyCallback(func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if c.logger != nil {
			c.logger.LogConnectionWarning(hostname, "Host key verification disabled - not recommended for production")
		}
		return nil
	})
}
