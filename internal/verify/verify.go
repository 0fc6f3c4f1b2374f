// Package verify implements strict verification: recursive listing
// comparison between a copy's source and destination, checked by count,
// per-file size, and hash (intersection of common algorithms) or modtime
// within tolerance.
package verify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rclonehub/rclonehub/internal/driver"
	"github.com/rclonehub/rclonehub/internal/pathutil"
)

// Lister is the subset of the driver adapter the verifier needs; satisfied
// by *driver.Adapter, and fakeable in tests.
type Lister interface {
	List(ctx context.Context, root string, recursive bool) ([]driver.Entry, error)
}

const modTimeTolerance = 2 * time.Second

// Result is the verifier's outcome: never an error, per spec.md 4.3/7 —
// a verification failure is a value, not a raised error.
type Result struct {
	Passed bool
	Reason string
}

// Verify recursively lists both source and destination, and checks them
// file-by-file. Directories are not compared directly; only files,
// because empty-directory presence on the destination is backend-dependent.
func Verify(ctx context.Context, lister Lister, source, destination string) Result {
	srcEntries, err := lister.List(ctx, source, true)
	if err != nil {
		return Result{Reason: fmt.Sprintf("unable to list for verification: %v", err)}
	}
	dstEntries, err := lister.List(ctx, destination, true)
	if err != nil {
		return Result{Reason: fmt.Sprintf("unable to list for verification: %v", err)}
	}

	srcFiles := filesOnly(srcEntries)
	dstFiles := filesOnly(dstEntries)

	if len(srcFiles) != len(dstFiles) {
		return Result{Reason: "file count mismatch"}
	}

	dstByPath := make(map[string]driver.Entry, len(dstFiles))
	for _, e := range dstFiles {
		dstByPath[e.Path] = e
	}

	for _, src := range srcFiles {
		wantPath, err := pathutil.MapToDestination(source, src.Path, destination)
		if err != nil {
			return Result{Reason: fmt.Sprintf("unable to list for verification: %v", err)}
		}
		dst, ok := dstByPath[wantPath]
		if !ok {
			return Result{Reason: "missing destination file: " + src.Path}
		}
		if src.Size != dst.Size {
			return Result{Reason: "size mismatch: " + src.Path}
		}
		if res := compareHashesOrModTime(src, dst); !res.Passed {
			return res
		}
	}
	return Result{Passed: true}
}

func filesOnly(entries []driver.Entry) []driver.Entry {
	var out []driver.Entry
	for _, e := range entries {
		if !e.IsDir {
			out = append(out, e)
		}
	}
	return out
}

func compareHashesOrModTime(src, dst driver.Entry) Result {
	common := commonAlgorithms(src.Hashes, dst.Hashes)
	if len(common) > 0 {
		var disagreeing []string
		for _, algo := range common {
			if src.Hashes[algo] != dst.Hashes[algo] {
				disagreeing = append(disagreeing, algo)
			}
		}
		if len(disagreeing) > 0 {
			sort.Strings(disagreeing)
			return Result{Reason: fmt.Sprintf("hash mismatch: %v", disagreeing)}
		}
		return Result{Passed: true}
	}
	if !src.ModTime.IsZero() && !dst.ModTime.IsZero() {
		delta := src.ModTime.Sub(dst.ModTime)
		if delta < 0 {
			delta = -delta
		}
		if delta > modTimeTolerance {
			return Result{Reason: "modtime mismatch without checksum"}
		}
		return Result{Passed: true}
	}
	// Absent both common hash and both modtimes: sizes already agreed, pass.
	return Result{Passed: true}
}

func commonAlgorithms(a, b map[string]string) []string {
	var out []string
	for algo := range a {
		if _, ok := b[algo]; ok {
			out = append(out, algo)
		}
	}
	sort.Strings(out)
	return out
}
