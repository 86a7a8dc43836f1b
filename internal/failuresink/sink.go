// Package failuresink appends structured FailureRecords to an
// append-only JSON-Lines file under ~/.hostpilot/logs/failures.jsonl
// (spec.md §4.8). There is no example-repo precedent for a JSONL failure
// log specifically; the shape (one json.Marshal per line, behind a single
// mutex, best-effort open) follows the general append-only-log idiom used
// by logrus's own file hooks rather than any one example file — see
// DESIGN.md for why this component leans on the standard library for the
// write path itself.
package failuresink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nitronplus/hostpilot/internal/model"
)

// DefaultPath returns ~/.hostpilot/logs/failures.jsonl, honoring $HOME
// (or %USERPROFILE% on Windows) the same way internal/alias resolves its
// registry path.
func DefaultPath() (string, error) {
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hostpilot", "logs", "failures.jsonl"), nil
}

func homeDir() (string, error) {
	if h := os.Getenv("HOME"); h != "" {
		return h, nil
	}
	if h := os.Getenv("USERPROFILE"); h != "" {
		return h, nil
	}
	return "", fmt.Errorf("failuresink: cannot determine home directory")
}

// record is the on-disk shape: the FailureRecord plus a wall-clock
// timestamp and the task's source/destination, so a line is
// self-contained without needing the run's stdout (spec.md §4.8).
type record struct {
	Time   time.Time           `json:"time"`
	Source string              `json:"source,omitempty"`
	Dest   string              `json:"dest,omitempty"`
	model.FailureRecord
}

// Sink is a mutex-guarded single writer appending one JSON object per line.
// A Sink that failed to open its file is still safe to call — Append
// becomes a no-op and Path returns "".
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	path string
	warn func(format string, args ...any)
}

// Open creates (or appends to) the failure log at path, creating parent
// directories as needed. warn, if non-nil, is called once if opening
// fails — the run continues regardless, per spec.md §4.8 ("never changes
// the process exit code").
func Open(path string, warn func(format string, args ...any)) *Sink {
	s := &Sink{path: path, warn: warn}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.fail(err)
		return s
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.fail(err)
		return s
	}
	s.f = f
	return s
}

func (s *Sink) fail(err error) {
	s.path = ""
	if s.warn != nil {
		s.warn("could not open failure log: %v", err)
	}
}

// Path returns the log path if it was opened successfully, or "" if the
// sink failed to open (the summary then omits failures_path, spec.md §4.8).
func (s *Sink) Path() string {
	return s.path
}

// Append writes one JSON line for a failed task. A write failure is
// reported through warn (if set) and otherwise swallowed.
func (s *Sink) Append(task model.TransferTask, rec model.FailureRecord) {
	if s.f == nil {
		return
	}

	line := record{
		Time:          time.Now(),
		Source:        task.SourcePath,
		Dest:          task.DestinationPath,
		FailureRecord: rec,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	enc, err := json.Marshal(line)
	if err != nil {
		if s.warn != nil {
			s.warn("could not encode failure record: %v", err)
		}
		return
	}
	enc = append(enc, '\n')
	if _, err := s.f.Write(enc); err != nil {
		if s.warn != nil {
			s.warn("could not write to failure log: %v", err)
		}
	}
}

// Close flushes and closes the underlying file, if open.
func (s *Sink) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
