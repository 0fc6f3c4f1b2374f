package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rclonehub/rclonehub/internal/driver"
	"github.com/rclonehub/rclonehub/internal/pathutil"
	"github.com/rclonehub/rclonehub/internal/store"
)

const stagingPollInterval = 500 * time.Millisecond

// runTransferJob implements spec.md section 4.5's copy/move algorithm:
// direct stage first, fallback to local staging on failure, strict
// verification, then source deletion for moves.
func (e *Engine) runTransferJob(ctx context.Context, id uuid.UUID) {
	j, err := e.GetJob(id)
	if err != nil {
		return
	}

	settings, err := e.settings(ctx)
	if err != nil {
		_ = e.updateJob(ctx, id, func(j *Job) {
			now := time.Now()
			j.Status = StatusFailed
			j.CompletedAt = &now
			j.log("error", "job crashed unexpectedly: "+err.Error())
		})
		return
	}

	anyFailures := false
	cancelledMidLoop := false
	move := j.Operation == OpMove

	for _, source := range j.Sources {
		if e.isCancelled(id) {
			cancelledMidLoop = true
			break
		}

		result := e.runTransferItem(ctx, id, source, j.DestinationDir, move, settings)
		if result.Status != ItemSuccess {
			anyFailures = true
		}
		_ = e.updateJob(ctx, id, func(j *Job) {
			j.Results = append(j.Results, result)
		})
	}

	_ = e.updateJob(ctx, id, func(j *Job) {
		now := time.Now()
		j.CompletedAt = &now
		switch {
		case cancelledMidLoop || e.isCancelled(id):
			j.Status = StatusCancelled
		case anyFailures:
			j.Status = StatusFailed
		default:
			j.Status = StatusSuccess
		}
	})
}

// runTransferItem runs the direct→fallback→verify→(delete-on-move)
// pipeline for a single source, per spec.md section 4.5 steps 1-7.
func (e *Engine) runTransferItem(ctx context.Context, id uuid.UUID, source, destinationDir string, move bool, settings store.RuntimeSettings) JobItemResult {
	basename, err := pathutil.Basename(source)
	if err != nil {
		return JobItemResult{Source: source, Status: ItemFailed, Error: err.Error()}
	}
	destination, err := pathutil.Join(destinationDir, basename)
	if err != nil {
		return JobItemResult{Source: source, Status: ItemFailed, Error: err.Error()}
	}

	result := JobItemResult{Source: source, Destination: destination, DirectAttempted: true}

	dedup := driver.DedupLines()
	onLine := func(line string) {
		if clean, ok := dedup(line); ok {
			_ = e.updateJob(ctx, id, func(j *Job) { j.log("info", clean) })
		}
	}

	entry, statErr := e.drv.Stat(ctx, source)
	isDir := statErr == nil && entry.IsDir

	var directRes driver.Result
	if isDir {
		directRes, err = e.drv.CopyDirectory(ctx, source, destination, move, onLine)
	} else {
		directRes, err = e.drv.CopyFile(ctx, source, destination, move, onLine)
	}
	directFailed := err != nil || directRes.ReturnCode != 0

	if e.isCancelled(id) {
		result.Status = ItemCancelled
		return result
	}
	if directFailed {
		result.FallbackUsed = true
		if fbErr := e.runFallback(ctx, id, source, destination, isDir, settings, onLine); fbErr != nil {
			result.Status = ItemFailed
			result.Error = fbErr.Error()
			return result
		}
	}

	if entry.Size > 0 {
		e.recordMetric(ctx, id, entry.Size, 0)
	}

	if e.isCancelled(id) {
		result.Status = ItemCancelled
		return result
	}
	verifyRes := e.verify.Verify(ctx, source, destination)
	if !verifyRes.Passed {
		result.Status = ItemFailed
		result.Error = verifyRes.Reason
		return result
	}
	result.VerifyPassed = true

	if move && e.isCancelled(id) {
		result.Status = ItemCancelled
		return result
	}
	if move {
		if err := e.drv.DeletePath(ctx, source); err != nil {
			result.Status = ItemFailed
			result.Error = "copy verified but source delete failed: " + err.Error()
			return result
		}
	}

	result.Status = ItemSuccess
	return result
}

// runFallback pulls source to local staging, then pushes staging to
// destination, bounded by the staging-byte admission gate, per spec.md
// section 4.5 step 3.
func (e *Engine) runFallback(ctx context.Context, id uuid.UUID, source, destination string, isDir bool, settings store.RuntimeSettings, onLine driver.ProgressFunc) error {
	estimate := e.estimateSize(ctx, source)

	if err := e.admitStaging(ctx, estimate, settings.StagingCapBytes); err != nil {
		return err
	}
	defer e.releaseStaging(estimate)

	if !e.limiter.acquire(ctx) {
		return ctx.Err()
	}
	defer e.limiter.release()

	stagingRoot := settings.StagingDir
	if stagingRoot == "" {
		stagingRoot = os.TempDir()
	}
	stagingDir := filepath.Join(stagingRoot, "rclonehub-staging-"+id.String()+"-"+uuid.NewString())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	localRoot := "local:" + filepath.ToSlash(stagingDir)

	var pullRes driver.Result
	var err error
	if isDir {
		pullRes, err = e.drv.CopyDirectory(ctx, source, localRoot, false, onLine)
	} else {
		pullRes, err = e.drv.CopyFile(ctx, source, localRoot, false, onLine)
	}
	if err != nil {
		return err
	}
	if pullRes.ReturnCode != 0 {
		return fmt.Errorf("fallback pull failed: %s", pullRes.Stderr)
	}

	var pushRes driver.Result
	if isDir {
		pushRes, err = e.drv.CopyDirectory(ctx, localRoot, destination, false, onLine)
	} else {
		pushRes, err = e.drv.CopyFile(ctx, localRoot, destination, false, onLine)
	}
	if err != nil {
		return err
	}
	if pushRes.ReturnCode != 0 {
		return fmt.Errorf("fallback push failed: %s", pushRes.Stderr)
	}
	return nil
}

// estimateSize sums the recursive listing of source, non-fatal on error
// (returns 0), per spec.md section 4.5 step 3.
func (e *Engine) estimateSize(ctx context.Context, source string) int64 {
	entries, err := e.drv.List(ctx, source, true)
	if err != nil {
		return 0
	}
	var total int64
	for _, entry := range entries {
		if !entry.IsDir {
			total += entry.Size
		}
	}
	return total
}

// admitStaging blocks until staging_in_use_bytes + estimate fits within
// the cap, polling every 500ms, per spec.md section 4.5 step 3 and
// section 9's zero-estimate liveness resolution (an estimate of 0
// always fits immediately).
func (e *Engine) admitStaging(ctx context.Context, estimate, capBytes int64) error {
	if estimate <= 0 {
		e.stagingMu.Lock()
		e.stagingInUse += estimate
		e.stagingMu.Unlock()
		return nil
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.stagingMu.Lock()
		if e.stagingInUse+estimate <= capBytes {
			e.stagingInUse += estimate
			e.stagingMu.Unlock()
			return nil
		}
		e.stagingMu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stagingPollInterval):
		}
	}
}

func (e *Engine) releaseStaging(estimate int64) {
	e.stagingMu.Lock()
	e.stagingInUse -= estimate
	e.stagingMu.Unlock()
}
