// Package events records every mutating village command in an append-only
// JSON-lines log. The log is the only history village keeps: the queue's
// deduplication window reads it, and operators grep it when a worker
// misbehaves. Appends are one flushed line each so concurrent CLI
// invocations interleave whole records, never partial ones.
package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	verrors "github.com/wrenhall/village/internal/errors"
)

// Result values an event can carry. A record without a result marks the
// start of an operation; a later record with the same cmd and task id
// closes it.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Event is one log record. Fields are declared in alphabetical key order
// so the marshaled line carries sorted keys.
type Event struct {
	Cmd    string `json:"cmd"`
	Error  string `json:"error,omitempty"`
	Pane   string `json:"pane,omitempty"`
	Result string `json:"result,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	TS     string `json:"ts"`
}

// Time parses the event timestamp. The zero time and false mean the
// timestamp is missing or unparseable.
func (e Event) Time() (time.Time, bool) {
	ts, err := time.Parse(time.RFC3339, e.TS)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Log is an append-only event log backed by one file.
type Log struct {
	path string
	now  func() time.Time
}

// NewLog returns a log at path. The file and its directory are created on
// the first append.
func NewLog(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append writes one event as a single flushed line. An empty TS is
// stamped with the current time.
func (l *Log) Append(e Event) error {
	if e.TS == "" {
		e.TS = l.now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return verrors.ErrSubprocess("encode event", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return verrors.ErrSubprocess("create village directory", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return verrors.ErrSubprocess("open event log", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return verrors.ErrSubprocess("append event", err)
	}
	if err := f.Sync(); err != nil {
		return verrors.ErrSubprocess("flush event log", err)
	}
	return nil
}

// Start records the beginning of an operation; the result stays open
// until an OK or Error record with the same cmd and task id follows.
func (l *Log) Start(taskID, cmd string) error {
	return l.Append(Event{Cmd: cmd, TaskID: taskID})
}

// OK records a successful operation.
func (l *Log) OK(taskID, cmd, pane string) error {
	return l.Append(Event{Cmd: cmd, TaskID: taskID, Pane: pane, Result: ResultOK})
}

// Error records a failed operation.
func (l *Log) Error(taskID, cmd, message string) error {
	return l.Append(Event{Cmd: cmd, TaskID: taskID, Result: ResultError, Error: message})
}

// Read returns every parseable event in append order. Malformed lines are
// skipped, not fatal: a torn write from a crashed process must never
// wedge every later command.
func (l *Log) Read() ([]Event, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, verrors.ErrSubprocess("read event log", err)
	}
	return parseLines(data), nil
}

func parseLines(data []byte) []Event {
	var events []Event
	start := 0
	for i := 0; i <= len(data); i++ {
		if i != len(data) && data[i] != '\n' {
			continue
		}
		line := string(data[start:i])
		start = i + 1
		if line == "" || !gjson.Valid(line) {
			continue
		}
		parsed := gjson.Parse(line)
		if !parsed.IsObject() {
			continue
		}
		events = append(events, Event{
			Cmd:    parsed.Get("cmd").String(),
			Error:  parsed.Get("error").String(),
			Pane:   parsed.Get("pane").String(),
			Result: parsed.Get("result").String(),
			TaskID: parsed.Get("task_id").String(),
			TS:     parsed.Get("ts").String(),
		})
	}
	return events
}

// Filter narrows a query. Zero values match everything.
type Filter struct {
	TaskID string
	Result string
	Since  time.Time
	Last   time.Duration
}

// Query returns the events matching the filter, in append order. Events
// without a parseable timestamp match only filters without a time window.
func (l *Log) Query(f Filter) ([]Event, error) {
	all, err := l.Read()
	if err != nil {
		return nil, err
	}

	cutoff := f.Since
	if f.Last > 0 {
		c := l.now().Add(-f.Last)
		if c.After(cutoff) {
			cutoff = c
		}
	}

	var out []Event
	for _, e := range all {
		if f.TaskID != "" && e.TaskID != f.TaskID {
			continue
		}
		if f.Result != "" && e.Result != f.Result {
			continue
		}
		if !cutoff.IsZero() {
			ts, ok := e.Time()
			if !ok || ts.Before(cutoff) {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// IsTaskRecent reports whether the task's most recent event falls inside
// the deduplication window. A zero or negative ttl disables deduplication.
// An unparseable timestamp counts as not recent: the scheduler fails open
// in favor of making progress.
func (l *Log) IsTaskRecent(taskID string, ttl time.Duration) (bool, *Event, error) {
	if ttl <= 0 {
		return false, nil, nil
	}
	all, err := l.Read()
	if err != nil {
		return false, nil, err
	}

	for i := len(all) - 1; i >= 0; i-- {
		if all[i].TaskID != taskID {
			continue
		}
		e := all[i]
		ts, ok := e.Time()
		if !ok {
			return false, &e, nil
		}
		return l.now().Sub(ts) <= ttl, &e, nil
	}
	return false, nil, nil
}
