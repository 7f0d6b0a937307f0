package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client implements Transport over golang.org/x/crypto/ssh.
type Client struct {
	config *Config

	mu          sync.RWMutex
	client      *ssh.Client
	isConnected bool
}

// NewClient creates an SSH transport for one host. The configuration is
// validated up front; Connect performs the actual dial.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected && c.client != nil {
		if c.healthCheck() == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
		c.isConnected = false
	}

	clientConfig, err := c.config.BuildClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connCh := make(chan *ssh.Client, 1)
	errCh := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errCh:
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	case client := <-connCh:
		c.client = client
		c.isConnected = true
		log.Debug().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	c.isConnected = false

	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// IsConnected reports whether the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// healthCheck runs a trivial command to verify the connection. Callers
// must hold the lock.
func (c *Client) healthCheck() error {
	session, err := c.client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run("true")
}

// getClient returns the underlying SSH client.
func (c *Client) getClient() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isConnected || c.client == nil {
		return nil, &TransportError{Op: "session", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

// Exec runs a command on the remote host. A nonzero exit status is
// reported through exitCode, not err.
func (c *Client) Exec(ctx context.Context, cmd string) (stdout, stderr string, exitCode int, err error) {
	sshClient, err := c.getClient()
	if err != nil {
		return "", "", -1, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return "", "", -1, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	start := time.Now()
	doneCh := make(chan error, 1)
	go func() {
		doneCh <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-doneCh:
	}

	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	log.Debug().
		Str("host", c.config.Host).
		Str("command", cmd).
		Dur("duration", time.Since(start)).
		Err(runErr).
		Msg("remote command completed")

	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return stdout, stderr, exitErr.ExitStatus(), nil
		}
		return stdout, stderr, -1, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
	}
	return stdout, stderr, 0, nil
}

// StartSession starts a remote process with streaming stdio.
func (c *Client) StartSession(ctx context.Context, cmd string) (*Session, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "session",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{Op: "session", Err: err, IsTemporary: true}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{Op: "session", Err: err, IsTemporary: true}
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{Op: "session", Err: err, IsTemporary: true}
	}

	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, &TransportError{
			Op:          "session",
			Err:         fmt.Errorf("failed to start %q: %w", cmd, err),
			IsTemporary: true,
		}
	}

	return &Session{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		closeFn: func() error {
			return session.Close()
		},
	}, nil
}

// Upload copies a local file to the remote host via SFTP.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, mode uint32) error {
	sshClient, err := c.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	defer sftpClient.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	defer local.Close()

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	defer remote.Close()

	n, err := io.Copy(remote, local)
	if err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}

	if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("chmod: %w", err)}
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("remote", remotePath).
		Int64("bytes", n).
		Msg("file uploaded")
	return nil
}

// Download copies a remote file to the local filesystem via SFTP.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	sshClient, err := c.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	defer sftpClient.Close()

	remote, err := sftpClient.Open(remotePath)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	defer remote.Close()

	local, err := os.Create(localPath)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	defer local.Close()

	if _, err := io.Copy(local, remote); err != nil {
		return &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	return nil
}

// FileExists checks for a remote path over an established connection.
func (c *Client) FileExists(ctx context.Context, remotePath string) (bool, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return false, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return false, &TransportError{Op: "stat", Err: err, IsTemporary: true}
	}
	defer sftpClient.Close()

	if _, err := sftpClient.Stat(remotePath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &TransportError{Op: "stat", Err: err}
	}
	return true, nil
}
