// Package probetest provides an in-memory Dialer for tests that drive sweeps
// without real SSH hosts.
package probetest

import (
	"context"
	"fmt"
	"sync"

	"fleetmon/internal/config"
	"fleetmon/internal/probe"
)

// Host scripts the behaviour of one fake server.
type Host struct {
	// DialErr makes every Dial to this host fail.
	DialErr error
	// Outputs maps a command to its result. Unknown commands exit 127.
	Outputs map[string]probe.CommandResult
	// Hang makes every command block until its context ends.
	Hang bool
}

// Dialer is a probe.Dialer backed by scripted hosts.
type Dialer struct {
	mu     sync.Mutex
	hosts  map[string]*Host
	dials  map[string]int
	closed int
}

// NewDialer creates an empty fake dialer.
func NewDialer() *Dialer {
	return &Dialer{hosts: make(map[string]*Host), dials: make(map[string]int)}
}

// SetHost replaces the script for server.
func (d *Dialer) SetHost(server string, h Host) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts[server] = &h
}

// SetOutput scripts a single command on server.
func (d *Dialer) SetOutput(server, cmd, stdout string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts[server]
	if !ok {
		h = &Host{}
		d.hosts[server] = h
	}
	if h.Outputs == nil {
		h.Outputs = make(map[string]probe.CommandResult)
	}
	h.Outputs[cmd] = probe.CommandResult{Stdout: stdout}
}

// Dials returns how many times server was dialed.
func (d *Dialer) Dials(server string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[server]
}

// Closed returns how many sessions were closed.
func (d *Dialer) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dialer) Dial(ctx context.Context, server config.Server) (probe.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[server.Name]++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, ok := d.hosts[server.Name]
	if !ok {
		return nil, fmt.Errorf("no route to host %s", server.Name)
	}
	if h.DialErr != nil {
		return nil, h.DialErr
	}
	outputs := make(map[string]probe.CommandResult, len(h.Outputs))
	for k, v := range h.Outputs {
		outputs[k] = v
	}
	return &session{dialer: d, outputs: outputs, hang: h.Hang}, nil
}

type session struct {
	dialer  *Dialer
	outputs map[string]probe.CommandResult
	hang    bool
}

func (s *session) Run(ctx context.Context, cmd string) (probe.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return probe.CommandResult{}, err
	}
	if s.hang {
		<-ctx.Done()
		return probe.CommandResult{}, ctx.Err()
	}
	res, ok := s.outputs[cmd]
	if !ok {
		return probe.CommandResult{Stderr: "command not found", ExitStatus: 127}, nil
	}
	return res, nil
}

func (s *session) Close() error {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()
	s.dialer.closed++
	return nil
}
