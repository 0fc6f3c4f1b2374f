// Package scan implements the generic scan manager: a BFS walk over a
// driver-listed tree, running as a filename search or a disk-usage
// count, with a monotonic per-session event log, polling cursor, and
// TTL-based cleanup, per spec.md section 4.6. Both kinds are instances
// of one generic component, per spec.md section 9's explicit
// instruction to treat the source's two near-identical scanners as one.
package scan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rclonehub/rclonehub/internal/driver"
)

// Kind distinguishes the two scan flavors, per spec.md section 3.
type Kind string

const (
	KindSearch Kind = "search"
	KindSize   Kind = "size"
)

// EventType is the tag carried by every event in a session's log.
type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventDone     EventType = "done"
)

// DoneStatus is the terminal outcome carried by a done event.
type DoneStatus string

const (
	DoneSuccess   DoneStatus = "success"
	DoneCancelled DoneStatus = "cancelled"
	DoneFailed    DoneStatus = "failed"
)

// Event is one append-only entry in a session's monotonically
// sequenced log.
type Event struct {
	Seq    int64         `json:"seq"`
	Type   EventType     `json:"type"`
	Dir    string        `json:"dir,omitempty"`
	Entry  *driver.Entry `json:"entry,omitempty"`
	Status DoneStatus    `json:"status,omitempty"`
	Error  string        `json:"error,omitempty"`

	ScannedDirs  int64 `json:"scanned_dirs"`
	MatchedCount int64 `json:"matched_count,omitempty"`
	FilesCount   int64 `json:"files_count,omitempty"`
	BytesTotal   int64 `json:"bytes_total,omitempty"`
}

// Params holds the kind-specific parameters fixed at session creation.
type Params struct {
	Root    string
	Query   string // search only; blank becomes "*"
	MinSize int64  // search only; applies only to files
}

// Session is one scan's full state: counters, event log, flags, and
// timestamps, per spec.md section 3.
type Session struct {
	ID     uuid.UUID
	Kind   Kind
	Params Params

	mu sync.Mutex

	scannedDirs  int64
	matchedCount int64
	filesCount   int64
	bytesTotal   int64

	seq    int64
	events []Event

	cancelRequested bool
	done            bool

	createdAt    time.Time
	lastPolledAt time.Time
	doneAt       time.Time

	cancelFn context.CancelFunc
}

func newSession(kind Kind, params Params) *Session {
	params.Query = strings.TrimSpace(params.Query)
	if params.Query == "" {
		params.Query = "*"
	}
	now := time.Now()
	return &Session{
		ID:           uuid.New(),
		Kind:         kind,
		Params:       params,
		createdAt:    now,
		lastPolledAt: now,
	}
}

// emit appends an event under the session lock, guarded by the
// once-done rule from spec.md 4.6 ("Every emit is guarded: if the
// session is already done ... drop silently").
func (s *Session) emit(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.seq++
	evt.Seq = s.seq
	evt.ScannedDirs = s.scannedDirs
	evt.MatchedCount = s.matchedCount
	evt.FilesCount = s.filesCount
	evt.BytesTotal = s.bytesTotal
	s.events = append(s.events, evt)
	if evt.Type == EventDone {
		s.done = true
		s.doneAt = time.Now()
	}
}

func (s *Session) incScannedDirs() {
	s.mu.Lock()
	s.scannedDirs++
	s.mu.Unlock()
}

func (s *Session) incMatched() {
	s.mu.Lock()
	s.matchedCount++
	s.mu.Unlock()
}

func (s *Session) addFile(size int64) {
	s.mu.Lock()
	s.filesCount++
	if size > 0 {
		s.bytesTotal += size
	}
	s.mu.Unlock()
}

func (s *Session) requestCancel() {
	s.mu.Lock()
	s.cancelRequested = true
	s.mu.Unlock()
}

func (s *Session) isCancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

func (s *Session) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// PollResult is the response shape for a poll call, per spec.md 4.6.
type PollResult struct {
	Events  []Event
	Done    bool
	NextSeq int64
}

func (s *Session) poll(afterSeq int64) PollResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPolledAt = time.Now()

	var out []Event
	for _, e := range s.events {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return PollResult{Events: out, Done: s.done, NextSeq: s.seq}
}

func (s *Session) snapshot() (lastPolled time.Time, doneAt time.Time, done, cancelRequested bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPolledAt, s.doneAt, s.done, s.cancelRequested
}
