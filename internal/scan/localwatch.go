package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchLocal optionally registers an fsnotify watch rooted at a local
// filesystem path so a running session re-emits its next heartbeat
// sooner after a local write lands, without changing the BFS walk or
// event/seq semantics. Supplemented from the teacher's
// ruleWorker.watchLocal, re-targeted at a single scan session instead
// of a rule re-scan trigger. Root must be a bare local path, not a
// remote path (the backend driver treats a bare local path as its own
// pseudo-remote, same as rclone).
func (m *Manager) WatchLocal(ctx context.Context, s *Session, root string, log zerolog.Logger) {
	if strings.TrimSpace(root) == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Str("root", root).Msg("local watch unavailable")
		return
	}

	addDir := func(p string) {
		_ = watcher.Add(p)
	}
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			addDir(p)
		}
		return nil
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer watcher.Close()

		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		pending := false
		trigger := func() {
			if pending {
				return
			}
			pending = true
			debounce.Reset(600 * time.Millisecond)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if err != nil {
					log.Warn().Err(err).Str("root", root).Msg("local watch error")
				}
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = filepath.WalkDir(ev.Name, func(p string, d fs.DirEntry, err error) error {
							if err == nil && d.IsDir() {
								addDir(p)
							}
							return nil
						})
					}
				}
				trigger()
			case <-debounce.C:
				pending = false
				// Forcing a fresh heartbeat emission keeps polling
				// clients responsive without altering seq semantics:
				// a zero-delta progress event for the session's root
				// directory is cheap and idempotent.
				s.emit(Event{Type: EventProgress, Dir: s.Params.Root})
			}
		}
	}()
}
