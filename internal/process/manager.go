// Package process implements the gateway's process manager:
// shell-spawned child processes tracked as ProcessSessions, with a bounded
// ring buffer for combined stdout+stderr, a stdin channel, and a monitor
// goroutine racing child exit against an external kill and a hard timeout.
// Grounded directly on internal/tools/exec.Manager
// (buildCommand/runSync/startBackground's foreground-vs-background split,
// the exitCode helper) generalized to a fuller session lifecycle
// and subcommand surface (list/poll/log/write/kill/clear/remove) beyond
// exec.Manager's original list/get/remove only.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a ProcessSession's lifecycle state. Once FinishedAt is set,
// Status is one of the terminal values and the session's stdin/kill
// channels are dropped (spec invariant).
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusKilled   Status = "killed"
	StatusTimedOut Status = "timed_out"
	StatusFailed   Status = "failed"
)

func (s Status) terminal() bool { return s != StatusRunning }

// blockedEnvVars is the fixed set of dangerous env var overrides exec
// refuses to accept.
var blockedEnvVars = []string{"LD_PRELOAD", "PATH", "PYTHONPATH"}

func isBlockedEnvVar(key string) bool {
	if strings.HasPrefix(key, "DYLD_") {
		return true
	}
	for _, blocked := range blockedEnvVars {
		if key == blocked {
			return true
		}
	}
	return false
}

// ExecRequest is a request to spawn a child process.
type ExecRequest struct {
	Command    string
	Workdir    string
	Env        map[string]string
	Input      string
	YieldMs    int64 // 0 means foreground: wait up to TimeoutSec
	TimeoutSec int64 // hard timeout; 0 means no timeout
}

// ExecResponse is Exec's result: either the process finished within the
// wait window (Finished=true, full output + exit code) or it's still
// running when the yield deadline passed (Finished=false, session id + a
// short tail of output so far).
type ExecResponse struct {
	SessionID string
	Finished  bool
	Status    Status
	ExitCode  int
	Output    string
	Tail      string
}

const (
	defaultRingSize = 256 * 1024
	tailBytes       = 4 * 1024
)

// ProcessSession is one tracked child process.
type ProcessSession struct {
	ID         string
	Command    string
	Workdir    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     Status
	ExitCode   *int
	Err        string

	mu     sync.Mutex
	ring   *ringBuffer
	stdin  chan stdinWrite
	killCh chan struct{}
	done   chan struct{}
	closed bool
}

type stdinWrite struct {
	data []byte
	eof  bool
}

// Info is the serializable, lock-free snapshot of a ProcessSession.
type Info struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Workdir    string     `json:"workdir,omitempty"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func (p *ProcessSession) info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Info{
		ID: p.ID, Command: p.Command, Workdir: p.Workdir,
		Status: p.Status, StartedAt: p.StartedAt, FinishedAt: p.FinishedAt,
		ExitCode: p.ExitCode, Error: p.Err,
	}
}

func (p *ProcessSession) setTerminal(status Status, exitCode int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status.terminal() {
		return
	}
	now := time.Now()
	p.Status = status
	p.FinishedAt = &now
	p.ExitCode = &exitCode
	if err != nil {
		p.Err = err.Error()
	}
	p.dropChannelsLocked()
}

// dropChannelsLocked closes stdin/kill once a session reaches a terminal
// status. Caller holds p.mu.
func (p *ProcessSession) dropChannelsLocked() {
	if p.closed {
		return
	}
	p.closed = true
	close(p.killCh)
}

// Manager tracks every ProcessSession spawned via Exec.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*ProcessSession
	ringSize int
}

// NewManager builds an empty process manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*ProcessSession), ringSize: defaultRingSize}
}

// Exec spawns command via "/bin/sh -c", piping stdio into the session's
// ring buffer, and waits per the yield/timeout contract:
// YieldMs == 0 waits up to TimeoutSec for the child to finish (foreground);
// YieldMs > 0 waits only that long, returning a session id + tail if the
// child is still running past the yield deadline.
func (m *Manager) Exec(ctx context.Context, req ExecRequest) (ExecResponse, error) {
	if strings.TrimSpace(req.Command) == "" {
		return ExecResponse{}, fmt.Errorf("process: command is required")
	}
	for key := range req.Env {
		if isBlockedEnvVar(key) {
			return ExecResponse{}, fmt.Errorf("process: env var override of %q is not permitted", key)
		}
	}

	session := &ProcessSession{
		ID:        uuid.NewString(),
		Command:   req.Command,
		Workdir:   req.Workdir,
		StartedAt: time.Now(),
		Status:    StatusRunning,
		ring:      newRingBuffer(m.ringSize),
		stdin:     make(chan stdinWrite, 16),
		killCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	cmd := exec.Command("/bin/sh", "-c", req.Command)
	if req.Workdir != "" {
		cmd.Dir = req.Workdir
	}
	if len(req.Env) > 0 {
		env := os.Environ()
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	cmd.Stdout = session.ring
	cmd.Stderr = session.ring

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return ExecResponse{}, fmt.Errorf("process: stdin pipe: %w", err)
	}
	if req.Input != "" {
		session.stdin <- stdinWrite{data: []byte(req.Input), eof: true}
	}

	if err := cmd.Start(); err != nil {
		return ExecResponse{}, fmt.Errorf("process: start: %w", err)
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	go m.monitor(session, cmd, stdin, req.TimeoutSec)

	return m.wait(session, req.YieldMs), nil
}

// monitor drains the stdin channel into the child's stdin pipe and races
// child exit against an external kill and a hard timeout.
func (m *Manager) monitor(session *ProcessSession, cmd *exec.Cmd, stdin io.WriteCloser, timeoutSec int64) {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	stdinDone := make(chan struct{})
	go func() {
		defer close(stdinDone)
		for {
			select {
			case w, ok := <-session.stdin:
				if !ok {
					return
				}
				if len(w.data) > 0 {
					_, _ = stdin.Write(w.data)
				}
				if w.eof {
					_ = stdin.Close()
					return
				}
			case <-session.done:
				return
			}
		}
	}()

	var timeout <-chan time.Time
	if timeoutSec > 0 {
		timer := time.NewTimer(time.Duration(timeoutSec) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-exited:
		close(session.done)
		session.setTerminal(terminalStatusFor(err), exitCodeFrom(err), errorIfNonNilExit(err))
	case <-session.killCh:
		_ = cmd.Process.Kill()
		err := <-exited
		close(session.done)
		session.setTerminal(StatusKilled, exitCodeFrom(err), nil)
	case <-timeout:
		_ = cmd.Process.Kill()
		err := <-exited
		close(session.done)
		session.setTerminal(StatusTimedOut, exitCodeFrom(err), fmt.Errorf("process: timed out"))
	}
	_ = stdin.Close()
}

func terminalStatusFor(err error) Status {
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return StatusFailed
		}
	}
	return StatusFinished
}

func errorIfNonNilExit(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return nil
	}
	return err
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// wait blocks up to yieldMs (or indefinitely if yieldMs == 0, bounded by
// the monitor's own hard timeout) for the session to finish.
func (m *Manager) wait(session *ProcessSession, yieldMs int64) ExecResponse {
	var deadline <-chan time.Time
	if yieldMs > 0 {
		timer := time.NewTimer(time.Duration(yieldMs) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-session.done:
		info := session.info()
		return ExecResponse{
			SessionID: session.ID, Finished: true, Status: info.Status,
			ExitCode: derefExitCode(info.ExitCode), Output: session.ring.String(),
		}
	case <-deadline:
		info := session.info()
		return ExecResponse{
			SessionID: session.ID, Finished: false, Status: info.Status,
			Tail: session.ring.Tail(tailBytes),
		}
	}
}

func derefExitCode(code *int) int {
	if code == nil {
		return 0
	}
	return *code
}

// List returns every tracked session.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	return out
}

// Poll returns the session's current status and any output appended since
// offset, plus the new offset.
func (m *Manager) Poll(id string, offset int) (Info, string, int, error) {
	session, ok := m.get(id)
	if !ok {
		return Info{}, "", 0, fmt.Errorf("process: session not found: %s", id)
	}
	data, next := session.ring.Since(offset)
	return session.info(), data, next, nil
}

// Log returns a window of a session's combined output, honoring an
// explicit offset/limit or a tail_lines request.
func (m *Manager) Log(id string, offset, limit, tailLines int) (Info, string, error) {
	session, ok := m.get(id)
	if !ok {
		return Info{}, "", fmt.Errorf("process: session not found: %s", id)
	}
	if tailLines > 0 {
		return session.info(), session.ring.TailLines(tailLines), nil
	}
	data, _ := session.ring.Window(offset, limit)
	return session.info(), data, nil
}

// Write sends data to a running session's stdin, optionally closing it
// (eof). Returns an error if the session has already terminated.
func (m *Manager) Write(id string, data string, eof bool) error {
	session, ok := m.get(id)
	if !ok {
		return fmt.Errorf("process: session not found: %s", id)
	}
	session.mu.Lock()
	terminal := session.Status.terminal()
	session.mu.Unlock()
	if terminal {
		return fmt.Errorf("process: session %s has already terminated", id)
	}
	select {
	case session.stdin <- stdinWrite{data: []byte(data), eof: eof}:
		return nil
	case <-session.done:
		return fmt.Errorf("process: session %s has already terminated", id)
	}
}

// Kill signals a running session's monitor to kill the child.
func (m *Manager) Kill(id string) error {
	session, ok := m.get(id)
	if !ok {
		return fmt.Errorf("process: session not found: %s", id)
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.Status.terminal() {
		return nil
	}
	select {
	case <-session.killCh:
	default:
		close(session.killCh)
		session.closed = true
	}
	return nil
}

// Clear removes every terminated session, leaving running ones in place.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.info().Status.terminal() {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Remove drops a single session by id, regardless of its status.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		return true
	}
	return false
}

func (m *Manager) get(id string) (*ProcessSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}
