package engine

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rclonehub/rclonehub/internal/apperr"
	"github.com/rclonehub/rclonehub/internal/driver"
	"github.com/rclonehub/rclonehub/internal/store"
)

// Driver is the subset of the backend-driver adapter the engine needs.
// Satisfied by *driver.Adapter; fakeable in tests.
type Driver interface {
	Stat(ctx context.Context, target string) (driver.Entry, error)
	List(ctx context.Context, root string, recursive bool) ([]driver.Entry, error)
	CopyDirectory(ctx context.Context, src, dst string, move bool, onLine driver.ProgressFunc) (driver.Result, error)
	CopyFile(ctx context.Context, src, dst string, move bool, onLine driver.ProgressFunc) (driver.Result, error)
	DeletePath(ctx context.Context, target string) error
}

// Verifier is the subset of the verifier the engine needs.
type Verifier interface {
	Verify(ctx context.Context, source, destination string) VerifyResult
}

// VerifyResult mirrors verify.Result without importing the verify
// package's Lister-bound signature into this one.
type VerifyResult struct {
	Passed bool
	Reason string
}

// Engine owns the in-memory job table, FIFO queue, cancel set, and
// staging-byte admission counter, per spec.md section 4.5.
type Engine struct {
	st     *store.Store
	drv    Driver
	verify Verifier
	log    zerolog.Logger

	settings func(ctx context.Context) (store.RuntimeSettings, error)

	mu        sync.Mutex
	jobs      map[uuid.UUID]*Job
	queue     chan uuid.UUID
	cancelled map[uuid.UUID]struct{}

	stagingMu    sync.Mutex
	stagingInUse int64

	limiter *limiter

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New constructs an Engine. settings is called fresh on every job to
// pick up live staging-cap/verify-mode changes.
func New(st *store.Store, drv Driver, verify Verifier, log zerolog.Logger, settings func(ctx context.Context) (store.RuntimeSettings, error)) *Engine {
	return &Engine{
		st:        st,
		drv:       drv,
		verify:    verify,
		log:       log,
		settings:  settings,
		jobs:      make(map[uuid.UUID]*Job),
		queue:     make(chan uuid.UUID, 4096),
		cancelled: make(map[uuid.UUID]struct{}),
		limiter:   newLimiter(0),
		stopCh:    make(chan struct{}),
	}
}

// SetGlobalConcurrency bounds how many fallback pulls/pushes may run at
// once; 0 means unlimited (grounded in the teacher's GlobalLimiter). The
// daemon and the settings handler set it from the concurrency setting.
func (e *Engine) SetGlobalConcurrency(n int) {
	e.limiter.setLimit(n)
}

// Recover rewrites every dangling running job to interrupted. It must be
// called exactly once at boot, before Start, per spec.md section 9's
// ordering guarantee.
func (e *Engine) Recover(ctx context.Context) error {
	ids, err := e.st.MarkRunningJobsInterrupted(ctx, func(payload []byte) ([]byte, error) {
		var j Job
		if err := json.Unmarshal(payload, &j); err != nil {
			return nil, err
		}
		j.Status = StatusInterrupted
		now := time.Now()
		j.CompletedAt = &now
		j.log("info", "job was running at process exit; recovered as interrupted")
		return json.Marshal(j)
	})
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		e.log.Info().Int("count", len(ids)).Msg("recovered interrupted jobs")
	}

	records, err := e.st.ListJobs(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, rec := range records {
		var j Job
		if err := json.Unmarshal(rec.Payload, &j); err != nil {
			continue
		}
		jj := j
		e.jobs[jj.ID] = &jj
	}
	e.mu.Unlock()
	return nil
}

// Start spawns the single worker goroutine that drains the FIFO queue.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.workerLoop(ctx)
}

// Stop signals the worker to exit and waits for it.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// SubmitTransfer creates a queued copy/move job and enqueues it.
func (e *Engine) SubmitTransfer(ctx context.Context, op Operation, sources []string, destinationDir, label string) (Job, error) {
	if op != OpCopy && op != OpMove {
		op = OpCopy
	}
	j := NewJob(op, sources, destinationDir, label)
	if err := e.persist(ctx, &j); err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	e.jobs[j.ID] = &j
	e.mu.Unlock()
	e.enqueue(j.ID)
	return j, nil
}

// SubmitDelete creates a queued delete job and enqueues it.
func (e *Engine) SubmitDelete(ctx context.Context, sources []string, label string) (Job, error) {
	j := NewJob(OpDelete, sources, "", label)
	if err := e.persist(ctx, &j); err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	e.jobs[j.ID] = &j
	e.mu.Unlock()
	e.enqueue(j.ID)
	return j, nil
}

func (e *Engine) enqueue(id uuid.UUID) {
	select {
	case e.queue <- id:
	default:
		// Queue is sized generously; a full queue means a misbehaving
		// caller is submitting faster than the worker can even enqueue
		// acknowledgements. Block rather than drop a job.
		e.queue <- id
	}
}

// Cancel always records the id in the cancelled set. If the job is
// still queued, it transitions immediately to cancelled; otherwise the
// worker notices at the next per-item boundary.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return false, nil
	}
	e.cancelled[id] = struct{}{}
	wasQueued := j.Status == StatusQueued
	if wasQueued {
		now := time.Now()
		j.Status = StatusCancelled
		j.CompletedAt = &now
		jCopy := *j
		e.mu.Unlock()
		if err := e.persist(ctx, &jCopy); err != nil {
			return true, err
		}
		e.mu.Lock()
		e.jobs[id] = &jCopy
	}
	e.mu.Unlock()
	return true, nil
}

func (e *Engine) isCancelled(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cancelled[id]
	return ok
}

// GetJob returns a snapshot of a job's current state.
func (e *Engine) GetJob(id uuid.UUID) (Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return Job{}, &apperr.NotFound{Kind: "job", ID: id.String()}
	}
	return *j, nil
}

// ListJobs returns a snapshot of every known job, newest first.
func (e *Engine) ListJobs() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

func (e *Engine) persist(ctx context.Context, j *Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return e.st.UpsertJob(ctx, store.JobRecord{ID: j.ID.String(), Status: string(j.Status), Payload: payload})
}

func (e *Engine) updateJob(ctx context.Context, id uuid.UUID, mutate func(j *Job)) error {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return &apperr.NotFound{Kind: "job", ID: id.String()}
	}
	mutate(j)
	jCopy := *j
	e.mu.Unlock()
	return e.persist(ctx, &jCopy)
}

func (e *Engine) workerLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case id := <-e.queue:
			e.runJob(ctx, id)
		}
	}
}

func (e *Engine) runJob(ctx context.Context, id uuid.UUID) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	_, cancelled := e.cancelled[id]
	if cancelled && j.Status == StatusQueued {
		now := time.Now()
		j.Status = StatusCancelled
		j.CompletedAt = &now
		jCopy := *j
		e.mu.Unlock()
		_ = e.persist(ctx, &jCopy)
		return
	}
	now := time.Now()
	j.Status = StatusRunning
	j.StartedAt = &now
	jCopy := *j
	e.mu.Unlock()
	if err := e.persist(ctx, &jCopy); err != nil {
		e.log.Error().Err(err).Str("job", id.String()).Msg("persist running status")
	}

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			e.log.Error().Str("job", id.String()).Str("stack", stack).Msg("job crashed unexpectedly")
			_ = e.updateJob(ctx, id, func(j *Job) {
				now := time.Now()
				j.Status = StatusFailed
				j.CompletedAt = &now
				j.log("error", "job crashed unexpectedly: "+toErrString(r)+"\n"+stack)
			})
		}
	}()

	switch jCopy.Operation {
	case OpDelete:
		e.runDeleteJob(ctx, id)
	default:
		e.runTransferJob(ctx, id)
	}
}

func toErrString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic"
}
