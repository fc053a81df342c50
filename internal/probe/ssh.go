package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"fleetmon/internal/config"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHDialer opens SSH sessions using the user's ssh config, identity files
// and ssh-agent.
type SSHDialer struct {
	cfg config.SSHConfig
}

// NewSSHDialer creates a dialer with the given ssh settings.
func NewSSHDialer(cfg config.SSHConfig) *SSHDialer {
	return &SSHDialer{cfg: cfg}
}

// Dial connects and authenticates to server. Every failure is a *ConnectionError.
func (d *SSHDialer) Dial(ctx context.Context, server config.Server) (Session, error) {
	ep := ResolveEndpoint(loadUserConfig(d.cfg.ConfigFile), server.SSH)

	log.Debug().
		Str("server", server.Name).
		Str("host", ep.Host).
		Int("port", ep.Port).
		Str("user", ep.User).
		Bool("proxy", ep.ProxyCommand != "").
		Msg("Connecting over SSH")

	session, err := d.dial(ctx, ep)
	if err != nil {
		return nil, &ConnectionError{Server: server.Name, Err: err}
	}
	return session, nil
}

func (d *SSHDialer) dial(ctx context.Context, ep Endpoint) (*sshSession, error) {
	auth, closers, err := authMethods(ep)
	if err != nil {
		return nil, err
	}
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	hostKeys, err := d.hostKeyCallback()
	if err != nil {
		closeAll()
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            ep.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         d.cfg.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	conn, err := openTransport(dialCtx, ep, addr)
	if err != nil {
		closeAll()
		return nil, err
	}

	type handshake struct {
		client *ssh.Client
		err    error
	}
	done := make(chan handshake, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
		if err != nil {
			done <- handshake{err: err}
			return
		}
		done <- handshake{client: ssh.NewClient(c, chans, reqs)}
	}()

	select {
	case h := <-done:
		if h.err != nil {
			_ = conn.Close()
			closeAll()
			return nil, fmt.Errorf("handshake: %w", h.err)
		}
		return &sshSession{client: h.client, closers: closers}, nil
	case <-dialCtx.Done():
		_ = conn.Close()
		closeAll()
		return nil, fmt.Errorf("handshake: %w", dialCtx.Err())
	}
}

// openTransport returns the raw connection, either TCP or a ProxyCommand's stdio.
func openTransport(ctx context.Context, ep Endpoint, addr string) (net.Conn, error) {
	if ep.ProxyCommand == "" {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}
	return newProxyConn(expandProxyCommand(ep.ProxyCommand, ep), addr)
}

// authMethods collects the identity file key and ssh-agent signers. The
// returned closers own the agent connection.
func authMethods(ep Endpoint) ([]ssh.AuthMethod, []io.Closer, error) {
	var methods []ssh.AuthMethod
	var closers []io.Closer

	if ep.IdentityFile != "" {
		signer, err := loadSigner(ep.IdentityFile)
		if err != nil {
			log.Warn().Err(err).Str("identity_file", ep.IdentityFile).Msg("Skipping identity file")
		} else {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			log.Warn().Err(err).Msg("Cannot reach ssh-agent")
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closers = append(closers, conn)
		}
	}

	if len(methods) == 0 {
		return nil, nil, errors.New("no usable authentication method (identity file or ssh-agent)")
	}
	return methods, closers, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	return signer, nil
}

// hostKeyCallback verifies against known_hosts. Without strict checking an
// unknown host is accepted and logged, a mismatching key is still rejected.
func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := d.cfg.KnownHosts
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
	}

	known, err := knownhosts.New(path)
	if err != nil {
		if d.cfg.StrictHostKeyChecking {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return acceptUnknownHost(nil), nil
	}
	if d.cfg.StrictHostKeyChecking {
		return known, nil
	}
	return acceptUnknownHost(known), nil
}

func acceptUnknownHost(known ssh.HostKeyCallback) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if known != nil {
			err := known(hostname, remote, key)
			var keyErr *knownhosts.KeyError
			if err == nil || !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
				return err
			}
		}
		log.Warn().
			Str("host", hostname).
			Str("fingerprint", ssh.FingerprintSHA256(key)).
			Msg("Accepting unknown SSH host key")
		return nil
	}
}

// sshSession is a Session over an established SSH client.
type sshSession struct {
	client  *ssh.Client
	closers []io.Closer
}

func (s *sshSession) Run(ctx context.Context, cmd string) (CommandResult, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return CommandResult{}, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return CommandResult{}, fmt.Errorf("run %q: %w", cmd, ctx.Err())
	case err = <-done:
	}

	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitStatus = exitErr.ExitStatus()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("run %q: %w", cmd, err)
	}
	return result, nil
}

func (s *sshSession) Close() error {
	err := s.client.Close()
	for _, c := range s.closers {
		_ = c.Close()
	}
	return err
}

// proxyConn adapts a ProxyCommand's stdin/stdout to net.Conn.
type proxyConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	addr   string
}

func newProxyConn(command, addr string) (*proxyConn, error) {
	cmd := exec.Command("sh", "-c", command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("proxy stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("proxy stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start proxy command: %w", err)
	}
	return &proxyConn{cmd: cmd, stdin: stdin, stdout: stdout, addr: addr}, nil
}

func (p *proxyConn) Read(b []byte) (int, error) { return p.stdout.Read(b) }
func (p *proxyConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *proxyConn) Close() error {
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return nil
}

func (p *proxyConn) LocalAddr() net.Addr { return proxyAddr("proxy") }
func (p *proxyConn) RemoteAddr() net.Addr { return proxyAddr(p.addr) }
func (p *proxyConn) SetDeadline(time.Time) error { return nil }
func (p *proxyConn) SetReadDeadline(time.Time) error { return nil }
func (p *proxyConn) SetWriteDeadline(time.Time) error { return nil }

type proxyAddr string

func (a proxyAddr) Network() string { return "proxy" }
func (a proxyAddr) String() string  { return string(a) }
