package scan

import (
	"context"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/rclonehub/rclonehub/internal/driver"
	"github.com/rclonehub/rclonehub/internal/pathutil"
)

// walk runs the BFS walk described in spec.md section 4.6: pop the
// frontier, list the current directory on a worker goroutine while
// re-emitting heartbeat progress events, and classify each entry by
// kind (search: glob match; size: file count/bytes).
func (m *Manager) walk(ctx context.Context, s *Session) {
	heartbeat, dirTimeout := m.heartbeatAndTimeout(s.Kind)

	frontier := []string{s.Params.Root}
	for len(frontier) > 0 {
		if s.isCancelRequested() {
			s.emit(Event{Type: EventDone, Status: DoneCancelled})
			return
		}

		currentDir := frontier[0]
		frontier = frontier[1:]
		s.incScannedDirs()
		s.emit(Event{Type: EventProgress, Dir: currentDir})

		entries, listErr := m.listWithHeartbeat(ctx, s, currentDir, dirTimeout, heartbeat)
		if listErr != nil {
			if s.isCancelRequested() || strings.Contains(listErr.Error(), "Cancelled by user") {
				s.emit(Event{Type: EventDone, Status: DoneCancelled})
			} else {
				s.emit(Event{Type: EventDone, Status: DoneFailed, Error: listErr.Error()})
			}
			return
		}

		for _, entry := range entries {
			if s.isCancelRequested() {
				s.emit(Event{Type: EventDone, Status: DoneCancelled})
				return
			}
			if entry.IsDir {
				frontier = append(frontier, entry.Path)
			}
			m.applyKind(s, entry)
		}
	}

	s.emit(Event{Type: EventDone, Status: DoneSuccess})
}

func (m *Manager) heartbeatAndTimeout(kind Kind) (time.Duration, time.Duration) {
	if kind == KindSize {
		return m.cfg.SizeHeartbeat, m.cfg.SizeDirTimeout
	}
	return m.cfg.SearchHeartbeat, m.cfg.SearchDirTimeout
}

// listWithHeartbeat lists currentDir on a worker goroutine while this
// goroutine re-emits progress at heartbeat intervals, per spec.md
// 4.6's "Meanwhile, at progress_heartbeat_seconds intervals ... re-emit
// a progress event for the same current_dir" clause.
func (m *Manager) listWithHeartbeat(ctx context.Context, s *Session, currentDir string, dirTimeout, heartbeat time.Duration) ([]driver.Entry, error) {
	type listOutcome struct {
		entries []driver.Entry
		err     error
	}
	resultCh := make(chan listOutcome, 1)
	go func() {
		entries, err := m.lister.ListCancellable(ctx, currentDir, false, dirTimeout)
		resultCh <- listOutcome{entries: entries, err: err}
	}()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case out := <-resultCh:
			return out.entries, out.err
		case <-ticker.C:
			if s.isCancelRequested() {
				continue
			}
			s.emit(Event{Type: EventProgress, Dir: currentDir})
		}
	}
}

func (m *Manager) applyKind(s *Session, entry driver.Entry) {
	switch s.Kind {
	case KindSearch:
		m.applySearch(s, entry)
	case KindSize:
		m.applySize(s, entry)
	}
}

func (m *Manager) applySearch(s *Session, entry driver.Entry) {
	query := s.Params.Query
	if query == "" {
		query = "*"
	}
	matched, err := doublestar.Match(query, entry.Name)
	if err != nil || !matched {
		return
	}
	if !entry.IsDir && s.Params.MinSize > 0 && entry.Size < s.Params.MinSize {
		return
	}
	parent, err := pathutil.Dirname(entry.Path)
	if err == nil {
		entry.ParentPath = parent
	}
	s.incMatched()
	e := entry
	s.emit(Event{Type: EventResult, Entry: &e})
}

func (m *Manager) applySize(s *Session, entry driver.Entry) {
	if entry.IsDir {
		return
	}
	size := entry.Size
	if size < 0 {
		size = 0
	}
	s.addFile(size)
}
