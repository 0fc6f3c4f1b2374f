package scan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rclonehub/rclonehub/internal/apperr"
	"github.com/rclonehub/rclonehub/internal/driver"
)

// Lister is the subset of the driver adapter the scan walker needs.
type Lister interface {
	ListCancellable(ctx context.Context, root string, recursive bool, timeout time.Duration) ([]driver.Entry, error)
}

// Config holds the tunables from spec.md section 6 (heartbeat/timeout
// per kind, janitor periods).
type Config struct {
	SearchHeartbeat  time.Duration
	SearchDirTimeout time.Duration
	SizeHeartbeat    time.Duration
	SizeDirTimeout   time.Duration

	UnpolledTimeout   time.Duration // default 30s
	TerminalRetention time.Duration // default 300s
	JanitorInterval   time.Duration // default 2s
}

// DefaultConfig matches spec.md section 4.6/6's defaults.
func DefaultConfig() Config {
	return Config{
		SearchHeartbeat:   time.Second,
		SearchDirTimeout:  30 * time.Second,
		SizeHeartbeat:     time.Second,
		SizeDirTimeout:    30 * time.Second,
		UnpolledTimeout:   30 * time.Second,
		TerminalRetention: 300 * time.Second,
		JanitorInterval:   2 * time.Second,
	}
}

// Manager owns every live scan session, the BFS walker goroutines, and
// the janitor loop, per spec.md section 4.6.
type Manager struct {
	lister Lister
	cfg    Config
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager. Call StartJanitor separately once a root
// context is available.
func New(lister Lister, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		lister:   lister,
		cfg:      cfg,
		log:      log,
		sessions: make(map[uuid.UUID]*Session),
		stopCh:   make(chan struct{}),
	}
}

// Create starts a new session of the given kind and launches its BFS
// walker on a dedicated goroutine, per spec.md 4.6's "Scheduling"
// clause (walk runs distinct from the request-handling flow). If root
// names a bare local path (no "remote:" prefix), a local-watch trigger
// also runs alongside the walk so a write landing under root re-emits
// the session's next heartbeat sooner.
func (m *Manager) Create(ctx context.Context, kind Kind, params Params) *Session {
	s := newSession(kind, params)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	walkCtx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.walk(walkCtx, s)
	}()
	if isLocalRoot(s.Params.Root) {
		m.WatchLocal(walkCtx, s, s.Params.Root, m.log)
	}
	return s
}

// isLocalRoot reports whether root is a bare local path rather than a
// "remote:path" address (same convention the backend driver itself
// uses to tell a configured remote from the local pseudo-remote). A
// single-letter scheme before the colon is a Windows drive letter
// (e.g. "C:\\data"), not a remote name, so colon index 1 still counts
// as local.
func isLocalRoot(root string) bool {
	return strings.IndexByte(root, ':') <= 1
}

// Poll returns every event after afterSeq, the current done flag, and
// next_seq, per spec.md 4.6's polling contract.
func (m *Manager) Poll(id uuid.UUID, afterSeq int64) (PollResult, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return PollResult{}, &apperr.NotFound{Kind: "scan session", ID: id.String()}
	}
	return s.poll(afterSeq), nil
}

// Cancel flips cancel_requested and cancels the session's walk context,
// which propagates into the in-flight ListCancellable call and kills its
// driver subprocess, per spec.md section 5. It does not synchronously
// join the worker.
func (m *Manager) Cancel(id uuid.UUID) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.requestCancel()
	if s.cancelFn != nil {
		s.cancelFn()
	}
	return true
}

// Get returns a session by id for read-only inspection.
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// StartJanitor launches the periodic cleanup loop, per spec.md 4.6.
func (m *Manager) StartJanitor(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.runJanitorPass()
			}
		}
	}()
}

func (m *Manager) runJanitorPass() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		lastPolled, doneAt, done, _ := s.snapshot()
		if !done {
			if now.Sub(lastPolled) > m.cfg.UnpolledTimeout {
				s.requestCancel()
				if s.cancelFn != nil {
					s.cancelFn()
				}
			}
			continue
		}
		if now.Sub(doneAt) > m.cfg.TerminalRetention {
			delete(m.sessions, id)
		}
	}
}

// Stop cancels the janitor, flips cancel_requested on every session,
// and awaits the walkers.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.mu.Lock()
	for _, s := range m.sessions {
		s.requestCancel()
		if s.cancelFn != nil {
			s.cancelFn()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
}
