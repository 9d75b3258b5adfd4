// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package server supervises the server child process.
//
// Process starts the configured command with a stdin pipe, so console
// commands (stop, save-off, save-all, save-on) can be written to it, and
// publishes every line the process prints on an in-memory watermill topic.
// Consumers such as the save-pause quiescer subscribe to that feed to detect
// markers like "Saved the game".
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/tomtom215/offsite/internal/logging"
)

// ConsoleTopic is the topic console lines are published on.
const ConsoleTopic = "console"

var (
	// ErrNotRunning is returned by Execute when there is no live process.
	ErrNotRunning = errors.New("server is not running")

	// ErrAlreadyRunning is returned by Start when the process is live.
	ErrAlreadyRunning = errors.New("server is already running")

	// ErrNoCommand is returned by Start when no command is configured.
	ErrNoCommand = errors.New("no server command configured")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("server supervisor is closed")
)

// Options configures a Process.
type Options struct {
	Command     string
	Args        []string
	WorkDir     string
	StopCommand string
	KillTimeout time.Duration
}

// Process runs and supervises one child process at a time.
type Process struct {
	opts Options
	log  zerolog.Logger

	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	exited chan struct{}
	closed bool
}

// New creates a Process. Nothing is started until Start is called.
func New(opts Options) *Process {
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = 2 * time.Minute
	}
	return &Process{
		opts: opts,
		log:  logging.Component("server"),
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, watermill.NopLogger{}),
	}
}

// IsRunning reports whether the child process is alive.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

func (p *Process) runningLocked() bool {
	if p.exited == nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Start launches the configured command.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.opts.Command == "" {
		return ErrNoCommand
	}
	if p.runningLocked() {
		return ErrAlreadyRunning
	}

	//nolint:gosec // G204: command comes from operator configuration
	cmd := exec.Command(p.opts.Command, p.opts.Args...)
	cmd.Dir = p.opts.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin: %w", err)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close() //nolint:errcheck // Best effort cleanup on error
		return fmt.Errorf("failed to start %s: %w", p.opts.Command, err)
	}

	exited := make(chan struct{})
	p.cmd = cmd
	p.stdin = stdin
	p.exited = exited

	go p.pump(pr)
	go p.wait(cmd, pw, exited)

	p.log.Info().Int("pid", cmd.Process.Pid).Str("command", p.opts.Command).Msg("Server started")
	return nil
}

// pump publishes each output line on the console topic.
func (p *Process) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.log.Debug().Str("line", line).Msg("console")
		msg := message.NewMessage(watermill.NewUUID(), []byte(line))
		if err := p.pubsub.Publish(ConsoleTopic, msg); err != nil {
			// Keep draining so the child never blocks on a full pipe.
			io.Copy(io.Discard, r) //nolint:errcheck // Output is discarded
			return
		}
	}
}

func (p *Process) wait(cmd *exec.Cmd, pw *io.PipeWriter, exited chan struct{}) {
	err := cmd.Wait()
	pw.Close() //nolint:errcheck // Closing the pipe ends pump
	close(exited)

	ev := p.log.Info()
	if err != nil {
		ev = p.log.Warn().Err(err)
	}
	ev.Int("exit_code", cmd.ProcessState.ExitCode()).Msg("Server exited")
}

// Stop asks the process to exit and returns without waiting. The stop
// command is written to stdin when one is configured, otherwise the process
// receives an interrupt. A process still alive after KillTimeout is killed.
func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.runningLocked() {
		return nil
	}

	if p.opts.StopCommand != "" {
		if err := p.writeLocked(p.opts.StopCommand); err != nil {
			return err
		}
	} else if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("failed to interrupt server: %w", err)
	}

	go p.killAfter(p.cmd, p.exited, p.opts.KillTimeout)
	p.log.Info().Dur("kill_timeout", p.opts.KillTimeout).Msg("Server stop requested")
	return nil
}

func (p *Process) killAfter(cmd *exec.Cmd, exited <-chan struct{}, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exited:
	case <-timer.C:
		p.log.Warn().Dur("timeout", timeout).Msg("Server did not stop in time, killing")
		cmd.Process.Kill() //nolint:errcheck // Process may have exited concurrently
	}
}

// Execute writes one console command line to the process.
func (p *Process) Execute(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.runningLocked() {
		return ErrNotRunning
	}
	return p.writeLocked(line)
}

func (p *Process) writeLocked(line string) error {
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("failed to write console command: %w", err)
	}
	return nil
}

// Subscribe returns the console lines printed from now on. The channel is
// closed when ctx is cancelled or the Process is closed.
func (p *Process) Subscribe(ctx context.Context) (<-chan string, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	msgs, err := p.pubsub.Subscribe(ctx, ConsoleTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to console: %w", err)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		for msg := range msgs {
			msg.Ack()
			select {
			case lines <- string(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}

// Close kills a live process and shuts down the console feed.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var exited chan struct{}
	if p.runningLocked() {
		p.cmd.Process.Kill() //nolint:errcheck // Process may have exited concurrently
		exited = p.exited
	}
	p.mu.Unlock()

	if exited != nil {
		<-exited
	}
	return p.pubsub.Close()
}
