// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	defaultReadyTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	messageBuffer          = 64
)

// PyWorker runs a Python interpreter as a child process and speaks the
// line-framed JSON harness protocol with it.
type PyWorker struct {
	python  string
	workdir string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	pid       int
	isRunning bool

	messages  chan Message
	ready     chan struct{}
	readyOnce sync.Once
	waitDone  chan struct{}
}

// NewPyWorker creates a worker that will run python (an executable name or
// path) with workdir as its current directory. The process is not started.
func NewPyWorker(python, workdir string) *PyWorker {
	if python == "" {
		python = "python3"
	}
	return &PyWorker{
		python:   python,
		workdir:  workdir,
		messages: make(chan Message, messageBuffer),
		ready:    make(chan struct{}),
		waitDone: make(chan struct{}),
	}
}

// Start launches the interpreter and blocks until the harness reports it
// is ready, the context is cancelled, or the ready timeout elapses.
func (w *PyWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}

	cmd := exec.Command(w.python, "-u", "-c", harnessSource)
	cmd.Dir = w.workdir

	// New process group so interrupt and kill reach any children the
	// executed code spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1", "MPLBACKEND=Agg")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("start interpreter: %w", err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.pid = cmd.Process.Pid
	w.isRunning = true
	w.mu.Unlock()

	go w.readMessages(stdout)
	go w.logStderr(stderr)
	go w.waitForExit()

	select {
	case <-w.ready:
		return nil
	case <-w.waitDone:
		return fmt.Errorf("interpreter exited before becoming ready")
	case <-ctx.Done():
		_ = w.Shutdown(context.Background())
		return fmt.Errorf("interpreter startup: %w", ctx.Err())
	case <-time.After(defaultReadyTimeout):
		_ = w.Shutdown(context.Background())
		return fmt.Errorf("interpreter did not become ready within %s", defaultReadyTimeout)
	}
}

type submitRequest struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Silent bool   `json:"silent,omitempty"`
}

// Submit queues a code fragment for execution and returns its request id.
func (w *PyWorker) Submit(code string, silent bool) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning || w.stdin == nil {
		return "", ErrNotRunning
	}

	id := uuid.NewString()
	payload, err := json.Marshal(submitRequest{ID: id, Code: code, Silent: silent})
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}
	if _, err := w.stdin.Write(append(payload, '\n')); err != nil {
		return "", fmt.Errorf("write submission: %w", err)
	}
	return id, nil
}

// Messages returns the worker's output stream. The channel closes when the
// interpreter's stdout reaches EOF.
func (w *PyWorker) Messages() <-chan Message {
	return w.messages
}

// Interrupt signals SIGINT to the interpreter's process group. Between
// executions the harness ignores it; during an execution it raises
// KeyboardInterrupt.
func (w *PyWorker) Interrupt() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning || w.pid == 0 {
		return ErrNotRunning
	}
	return syscall.Kill(-w.pid, syscall.SIGINT)
}

// Shutdown terminates the interpreter: stdin close lets the harness exit
// on its own, then SIGTERM and finally SIGKILL escalate against the whole
// process group.
func (w *PyWorker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	stdin := w.stdin
	pid := w.pid
	w.stdin = nil
	w.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-w.waitDone:
		return nil
	case <-time.After(defaultShutdownTimeout):
	case <-ctx.Done():
	}

	syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-w.waitDone:
		return nil
	case <-time.After(defaultShutdownTimeout):
		syscall.Kill(-pid, syscall.SIGKILL)
		<-w.waitDone
	}
	return nil
}

// Pid returns the interpreter pid, or 0 after exit.
func (w *PyWorker) Pid() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pid
}

func (w *PyWorker) readMessages(r io.Reader) {
	defer close(w.messages)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			msg, perr := ParseMessage([]byte(trimmed))
			if perr != nil {
				log.Printf("[kernel] dropping message: %v", perr)
			} else {
				w.readyOnce.Do(func() { close(w.ready) })
				// The consumer may stop draining before shutdown; the
				// exit of the interpreter must still release this
				// goroutine.
				select {
				case w.messages <- msg:
				case <-w.waitDone:
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("[kernel] message read error: %v", err)
			}
			return
		}
	}
}

func (w *PyWorker) logStderr(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if trimmed := strings.TrimRight(line, "\r\n"); trimmed != "" {
			log.Printf("[kernel] pid %d stderr: %s", w.Pid(), trimmed)
		}
		if err != nil {
			return
		}
	}
}

func (w *PyWorker) waitForExit() {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()

	err := cmd.Wait()

	w.mu.Lock()
	w.isRunning = false
	w.pid = 0
	w.cmd = nil
	w.mu.Unlock()

	if err != nil {
		log.Printf("[kernel] interpreter exited: %v", err)
	}
	close(w.waitDone)
}
