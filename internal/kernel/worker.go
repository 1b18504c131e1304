// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"errors"
)

// ErrNotRunning is returned by worker operations after the interpreter
// process has exited or before it was started.
var ErrNotRunning = errors.New("worker not running")

// Worker is one interpreter process. Submissions are accepted without
// blocking; their results arrive on the Messages channel, strictly ordered
// per submission: status(busy), zero or more stream/display_data/
// execute_result/error, then status(idle). The channel closes when the
// process exits.
type Worker interface {
	// Start launches the interpreter in its working directory and waits
	// until it is ready to accept submissions.
	Start(ctx context.Context) error

	// Submit queues a code fragment and returns its request id. Silent
	// submissions suppress execute_input and execute_result messages.
	Submit(code string, silent bool) (string, error)

	// Messages returns the worker's output stream.
	Messages() <-chan Message

	// Interrupt aborts the execution in progress. The worker surfaces the
	// abort as an error message followed by status(idle).
	Interrupt() error

	// Shutdown terminates the interpreter process. Messages closes once
	// the process is gone.
	Shutdown(ctx context.Context) error

	// Pid returns the interpreter OS pid, or 0 when not running.
	Pid() int
}
