// Package ssh provides the SSH transport the fleet dispatch adapter
// connects to targets with.
package ssh

import (
	"context"
	"io"
)

// Transport is an SSH connection to one remote host.
type Transport interface {
	// Connect establishes the SSH connection.
	Connect(ctx context.Context) error

	// Close closes the connection and releases all resources.
	Close() error

	// IsConnected reports whether the transport has an active connection.
	IsConnected() bool

	// Exec runs a command on the remote host and returns its output and
	// exit code. A nonzero exit code is not an error.
	Exec(ctx context.Context, cmd string) (stdout, stderr string, exitCode int, err error)

	// StartSession starts a remote process with streaming stdio, used to
	// speak the runner protocol.
	StartSession(ctx context.Context, cmd string) (*Session, error)

	// Upload copies a local file to the remote host via SFTP.
	Upload(ctx context.Context, localPath, remotePath string, mode uint32) error

	// Download copies a remote file to the local filesystem via SFTP.
	Download(ctx context.Context, remotePath, localPath string) error
}

// Session is a running remote process with attached stdio.
type Session struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader

	closeFn func() error
}

// Close terminates the remote process and releases the session.
func (s *Session) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// TransportError wraps a transport-layer failure with the operation
// that failed and retry/auth classification.
type TransportError struct {
	// Op is the operation that failed (e.g. "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates the error may clear on retry
	IsTemporary bool

	// IsAuthError indicates an authentication failure
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
