// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPyWorker skips the test when no python3 is installed.
func startPyWorker(t *testing.T) *PyWorker {
	t.Helper()

	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	w := NewPyWorker("python3", t.TempDir())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		_ = w.Shutdown(context.Background())
	})
	return w
}

// collectUntilIdle reads messages for one request until status(idle).
func collectUntilIdle(t *testing.T, w Worker, reqID string, timeout time.Duration) []Message {
	t.Helper()

	deadline := time.After(timeout)
	var got []Message
	for {
		select {
		case m, ok := <-w.Messages():
			if !ok {
				t.Fatal("message channel closed before idle")
			}
			if m.RequestID != reqID {
				continue
			}
			got = append(got, m)
			if m.IsIdle() {
				return got
			}
		case <-deadline:
			t.Fatalf("no idle within %s; got %d messages", timeout, len(got))
		}
	}
}

func TestPyWorker_Print(t *testing.T) {
	w := startPyWorker(t)

	id, err := w.Submit("print(1+1)", false)
	require.NoError(t, err)

	msgs := collectUntilIdle(t, w, id, 15*time.Second)

	var texts []string
	for _, m := range msgs {
		if m.Kind == KindStream {
			texts = append(texts, m.Text)
		}
	}
	require.Equal(t, []string{"2\n"}, texts)
}

func TestPyWorker_ExecuteResult(t *testing.T) {
	w := startPyWorker(t)

	id, err := w.Submit("40 + 2", false)
	require.NoError(t, err)

	msgs := collectUntilIdle(t, w, id, 15*time.Second)

	var result string
	for _, m := range msgs {
		if m.Kind == KindExecuteResult {
			result = m.Data[MimeText]
		}
	}
	assert.Equal(t, "42", result)
}

func TestPyWorker_StatePersistsAcrossSubmissions(t *testing.T) {
	w := startPyWorker(t)

	id1, err := w.Submit("x = 10", false)
	require.NoError(t, err)
	collectUntilIdle(t, w, id1, 15*time.Second)

	id2, err := w.Submit("print(x * 2)", false)
	require.NoError(t, err)
	msgs := collectUntilIdle(t, w, id2, 15*time.Second)

	var text string
	for _, m := range msgs {
		if m.Kind == KindStream {
			text += m.Text
		}
	}
	assert.Equal(t, "20\n", text)
}

func TestPyWorker_Error(t *testing.T) {
	w := startPyWorker(t)

	id, err := w.Submit("1/0", false)
	require.NoError(t, err)

	msgs := collectUntilIdle(t, w, id, 15*time.Second)

	var errMsg *Message
	for i := range msgs {
		if msgs[i].Kind == KindError {
			errMsg = &msgs[i]
		}
	}
	require.NotNil(t, errMsg, "expected an error message")
	assert.Equal(t, "ZeroDivisionError", errMsg.Ename)
	assert.Equal(t, "division by zero", errMsg.Evalue)
	assert.NotEmpty(t, errMsg.Traceback)
}

func TestPyWorker_Interrupt(t *testing.T) {
	w := startPyWorker(t)

	id, err := w.Submit("import time\ntime.sleep(60)", false)
	require.NoError(t, err)

	// Let the harness enter the sleep before signalling.
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, w.Interrupt())

	msgs := collectUntilIdle(t, w, id, 15*time.Second)

	var ename string
	for _, m := range msgs {
		if m.Kind == KindError {
			ename = m.Ename
		}
	}
	assert.Equal(t, "KeyboardInterrupt", ename)
}

func TestPyWorker_SilentSuppressesResult(t *testing.T) {
	w := startPyWorker(t)

	id, err := w.Submit("5 + 5", true)
	require.NoError(t, err)

	msgs := collectUntilIdle(t, w, id, 15*time.Second)
	for _, m := range msgs {
		assert.NotEqual(t, KindExecuteResult, m.Kind)
		assert.NotEqual(t, KindExecuteInput, m.Kind)
	}
}

func TestPyWorker_ShutdownClosesMessages(t *testing.T) {
	w := startPyWorker(t)

	require.NoError(t, w.Shutdown(context.Background()))

	select {
	case _, ok := <-drain(w.Messages()):
		assert.False(t, ok)
	case <-time.After(10 * time.Second):
		t.Fatal("message channel did not close after shutdown")
	}
}

func TestPyWorker_ShutdownWithUndrainedMessages(t *testing.T) {
	w := startPyWorker(t)

	// Far more output than the message buffer holds, and no consumer.
	// Shutdown must still release the reader and close the channel.
	_, err := w.Submit("for i in range(300):\n    print(i)", false)
	require.NoError(t, err)

	// Give the interpreter time to overfill the buffered channel.
	time.Sleep(time.Second)

	require.NoError(t, w.Shutdown(context.Background()))

	select {
	case <-drain(w.Messages()):
	case <-time.After(15 * time.Second):
		t.Fatal("message channel did not close after shutdown with undrained output")
	}
}

// drain forwards until the source closes, then closes its output. It lets
// tests wait on channel closure while ignoring buffered messages.
func drain(in <-chan Message) <-chan Message {
	out := make(chan Message)
	go func() {
		for range in {
		}
		close(out)
	}()
	return out
}

func TestPyWorker_SubmitBeforeStart(t *testing.T) {
	w := NewPyWorker("python3", t.TempDir())
	_, err := w.Submit("1", false)
	assert.ErrorIs(t, err, ErrNotRunning)
}
