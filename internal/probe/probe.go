// Package probe provides the remote probes used by a sweep: SSH sessions to
// servers and HTTP checks against APIs, either direct or tunneled through a
// server's SSH session.
//
// Every failure is returned as a typed error (ConnectionError, TransportError)
// so callers can record a degraded data point instead of aborting.
//
// Example usage:
//
//	prober := probe.NewProber(probe.NewSSHDialer(cfg.SSH), probe.NewHTTPProber(cfg.Checks.HTTPTimeout), cfg.Checks.CommandTimeout)
//	sess, err := prober.Connect(ctx, server)
package probe

import (
	"context"
	"fmt"
	"time"

	"fleetmon/internal/config"
)

// CommandResult is the outcome of a remote command.
type CommandResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Session is an open remote shell. Close must always be called.
type Session interface {
	// Run executes cmd and waits for it to finish or for ctx to end.
	Run(ctx context.Context, cmd string) (CommandResult, error)

	// Close releases the underlying connection.
	Close() error
}

// Dialer opens sessions to servers.
type Dialer interface {
	Dial(ctx context.Context, server config.Server) (Session, error)
}

// ConnectionError reports that a shell session could not be established.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ssh connection to %s failed: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a failed or non-200 HTTP probe.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("probe %s returned status %d", e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// timedSession bounds every command by a fixed timeout on top of the
// caller's context.
type timedSession struct {
	Session
	timeout time.Duration
}

func (s *timedSession) Run(ctx context.Context, cmd string) (CommandResult, error) {
	if s.timeout <= 0 {
		return s.Session.Run(ctx, cmd)
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Session.Run(runCtx, cmd)
}
