// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/wingedpig/crucible/internal/events"
	"github.com/wingedpig/crucible/internal/history"
	"github.com/wingedpig/crucible/internal/kernel"
	"github.com/wingedpig/crucible/internal/session"
)

const (
	// pollInterval is how long one wait for the next worker message lasts
	// before the deadline is re-checked.
	pollInterval = time.Second

	// eventBuffer bounds the stream channel; a slow client applies
	// backpressure to the loop once it fills.
	eventBuffer = 16
)

// timeoutMessage is the error text surfaced when an execution exceeds its
// wall-clock budget.
const timeoutMessage = "Execution timeout"

// UseDefaultTimeout selects the configured default execution timeout.
// A zero timeout is honored literally and expires on the first poll tick.
const UseDefaultTimeout = time.Duration(-1)

// ExecuteStream runs code in the session bound to sessionID (creating the
// session when needed) and returns the event stream plus the resolved
// session id. The channel closes when the execution completes, times out,
// or is cancelled. A second execution against a busy session is rejected
// with ErrSessionBusy.
func (m *Manager) ExecuteStream(ctx context.Context, code, sessionID string, timeout time.Duration) (<-chan OutputEvent, string, error) {
	if timeout == UseDefaultTimeout {
		timeout = m.defaultExecTimeout()
	}

	res, err := m.Acquire(ctx, sessionID, nil, nil, 0)
	if err != nil {
		return nil, "", err
	}
	s := res.Session
	id := s.ID()

	if !s.TryMarkBusy() {
		return nil, id, ErrSessionBusy
	}

	execNum := s.IncExecCount()
	start := time.Now()
	deadline := start.Add(timeout)
	ch := make(chan OutputEvent, eventBuffer)

	reqID, err := s.Worker().Submit(code, false)
	if err != nil {
		// The session survives a failed submission.
		ch <- ErrorEvent(err.Error(), nil)
		close(ch)
		s.MarkIdle()
		s.Touch()
		return ch, id, nil
	}

	m.publish(events.EventExecutionStarted, id, map[string]interface{}{
		"execution": execNum,
	})

	go m.pump(ctx, s, id, reqID, code, start, deadline, ch)
	return ch, id, nil
}

// pump drives one submission to completion, translating worker messages
// into output events in emission order.
func (m *Manager) pump(ctx context.Context, s *session.Session, id, reqID, code string, start, deadline time.Time, ch chan<- OutputEvent) {
	status := "ok"
	var produced []OutputEvent

	defer func() {
		close(ch)
		s.MarkIdle()
		s.Touch()
		m.record(id, reqID, code, status, start, produced)
		m.publish(events.EventExecutionFinished, id, map[string]interface{}{
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}()

	emit := func(ev OutputEvent) bool {
		produced = append(produced, ev)
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	timedOut := func() {
		status = "timeout"
		if err := s.Worker().Interrupt(); err != nil {
			log.Printf("[manager] session %s: interrupt: %v", id, err)
		}
		emit(ErrorEvent(timeoutMessage, nil))
		m.publish(events.EventExecutionTimeout, id, nil)
	}

	for {
		select {
		case <-ctx.Done():
			// Client went away; stop the execution so the worker does not
			// burn cycles into a closed stream.
			status = "cancelled"
			if err := s.Worker().Interrupt(); err != nil {
				log.Printf("[manager] session %s: interrupt after cancel: %v", id, err)
			}
			return

		case msg, ok := <-s.Worker().Messages():
			if !ok {
				// The worker died under us; the session is unusable.
				status = "error"
				emit(ErrorEvent("worker message channel closed", nil))
				m.destroy(context.Background(), s)
				return
			}
			if msg.RequestID != reqID {
				continue
			}

			ev, emitted := translate(msg)
			if emitted {
				if ev.Kind == EventError {
					status = "error"
				}
				if !emit(ev) {
					return
				}
			}
			if msg.IsIdle() {
				return
			}
			if time.Now().After(deadline) {
				timedOut()
				return
			}

		case <-time.After(pollInterval):
			if time.Now().After(deadline) {
				timedOut()
				return
			}
		}
	}
}

// translate maps a worker message to an output event. The second return
// is false for suppressed kinds (status, execute_input).
func translate(msg kernel.Message) (OutputEvent, bool) {
	switch msg.Kind {
	case kernel.KindStream:
		return TextEvent(msg.Text), true

	case kernel.KindDisplayData, kernel.KindExecuteResult:
		if png, ok := msg.Data[kernel.MimePNG]; ok {
			return ImageEvent(png), true
		}
		if text, ok := msg.Data[kernel.MimeText]; ok {
			return TextEvent(text), true
		}
		return OutputEvent{}, false

	case kernel.KindError:
		text := msg.Evalue
		if len(msg.Traceback) > 0 {
			text = strings.Join(msg.Traceback, "\n")
		}
		return ErrorEvent(text, msg.Traceback), true

	default:
		return OutputEvent{}, false
	}
}

// ExecuteSync runs code and aggregates the whole stream.
func (m *Manager) ExecuteSync(ctx context.Context, code, sessionID string, timeout time.Duration) (SyncResult, string, error) {
	ch, id, err := m.ExecuteStream(ctx, code, sessionID, timeout)
	if err != nil {
		return SyncResult{}, id, err
	}

	var collected []OutputEvent
	for ev := range ch {
		collected = append(collected, ev)
	}
	return Collect(collected), id, nil
}

// record writes the execution to the history store when one is attached.
func (m *Manager) record(sessionID, reqID, code, status string, start time.Time, produced []OutputEvent) {
	if m.store == nil {
		return
	}

	var texts, errs int
	for _, ev := range produced {
		switch ev.Kind {
		case EventText:
			texts++
		case EventError:
			errs++
		}
	}

	entry := history.Entry{
		RequestID: reqID,
		SessionID: sessionID,
		Code:      code,
		Status:    status,
		Events:    len(produced),
		Texts:     texts,
		Errors:    errs,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if err := m.store.Record(context.Background(), entry); err != nil {
		log.Printf("[manager] record execution history: %v", err)
	}
}
