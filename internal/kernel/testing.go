// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Submission records one FakeWorker submit call.
type Submission struct {
	ID     string
	Code   string
	Silent bool
}

// FakeWorker is a scriptable in-memory Worker for tests. Unless a Script
// is installed, every submission is answered with status(busy) followed by
// status(idle), which is enough for priming and chdir drains.
type FakeWorker struct {
	// Script, when set, produces the messages emitted for a submission.
	// RequestID is filled in on each returned message.
	Script func(sub Submission) []Message

	// StartErr and SubmitErr force the corresponding calls to fail.
	StartErr  error
	SubmitErr error

	// StartDelay makes Start sleep, simulating interpreter boot time.
	StartDelay time.Duration

	// WorkerPid is what Pid reports while running (default 4242).
	WorkerPid int

	mu          sync.Mutex
	messages    chan Message
	started     bool
	shutdown    bool
	interrupted int
	submissions []Submission
	seq         int
}

// NewFakeWorker returns a FakeWorker with a generous message buffer.
func NewFakeWorker() *FakeWorker {
	return &FakeWorker{
		messages:  make(chan Message, 256),
		WorkerPid: 4242,
	}
}

func (f *FakeWorker) Start(ctx context.Context) error {
	if f.StartDelay > 0 {
		select {
		case <-time.After(f.StartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	f.started = true
	return nil
}

func (f *FakeWorker) Submit(code string, silent bool) (string, error) {
	f.mu.Lock()
	if f.SubmitErr != nil {
		err := f.SubmitErr
		f.mu.Unlock()
		return "", err
	}
	if f.shutdown {
		f.mu.Unlock()
		return "", ErrNotRunning
	}
	f.seq++
	sub := Submission{ID: fmt.Sprintf("fake-%d", f.seq), Code: code, Silent: silent}
	f.submissions = append(f.submissions, sub)
	script := f.Script
	f.mu.Unlock()

	var replies []Message
	if script != nil {
		replies = script(sub)
	} else {
		replies = []Message{
			{Kind: KindStatus, State: StateBusy},
			{Kind: KindStatus, State: StateIdle},
		}
	}
	for _, m := range replies {
		m.RequestID = sub.ID
		f.Emit(m)
	}
	return sub.ID, nil
}

func (f *FakeWorker) Messages() <-chan Message {
	return f.messages
}

func (f *FakeWorker) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return ErrNotRunning
	}
	f.interrupted++
	return nil
}

func (f *FakeWorker) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.shutdown {
		f.shutdown = true
		close(f.messages)
	}
	return nil
}

func (f *FakeWorker) Pid() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return 0
	}
	return f.WorkerPid
}

// Emit pushes a message onto the worker's output stream.
func (f *FakeWorker) Emit(m Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return
	}
	f.messages <- m
}

// CloseMessages simulates the interpreter dying without a Shutdown call.
func (f *FakeWorker) CloseMessages() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.shutdown {
		f.shutdown = true
		close(f.messages)
	}
}

// IsShutdown reports whether Shutdown has been called.
func (f *FakeWorker) IsShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

// Submissions returns a copy of everything submitted so far.
func (f *FakeWorker) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Submission, len(f.submissions))
	copy(out, f.submissions)
	return out
}

// Interrupts returns how many times Interrupt was called.
func (f *FakeWorker) Interrupts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupted
}
