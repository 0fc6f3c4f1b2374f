// Package driver adapts the external backend-driver binary (default
// "rclone") as a subprocess: capture mode for short commands, streaming
// mode for long-running copies and cancellable listings, and open-stream
// mode for passthrough file reads. It is the sole place in the module that
// invokes the backend driver.
package driver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rclonehub/rclonehub/internal/apperr"
	"github.com/rclonehub/rclonehub/internal/pathutil"
)

// Entry is a single file or directory reported by the backend driver.
// Immutable once produced by a listing.
type Entry struct {
	Name       string
	Path       string
	ParentPath string
	IsDir      bool
	Size       int64
	ModTime    time.Time
	Hashes     map[string]string
}

// Config holds the invocation parameters for the adapter, sourced from
// internal/config at boot.
type Config struct {
	Binary     string
	BaseFlags  []string
	Timeout    time.Duration
	MaxRetries int
}

// Adapter invokes the backend driver. It is safe for concurrent use; every
// invocation spawns its own subprocess.
type Adapter struct {
	cfg Config
	log zerolog.Logger
}

// New builds an Adapter with the given configuration and logger.
func New(cfg Config, log zerolog.Logger) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = "rclone"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Adapter{cfg: cfg, log: log.With().Str("component", "driver").Logger()}
}

// Result is the outcome of a capture- or streaming-mode invocation.
type Result struct {
	ReturnCode int
	Stdout     string
	Stderr     string
	Command    []string
}

func (r Result) ok() bool { return r.ReturnCode == 0 }

func (a *Adapter) commandLine(args []string) []string {
	full := make([]string, 0, 1+len(a.cfg.BaseFlags)+len(args))
	full = append(full, a.cfg.Binary)
	full = append(full, a.cfg.BaseFlags...)
	full = append(full, args...)
	return full
}

// runCapture runs a command to completion, collecting stdout/stderr.
// On deadline it kills the child and synthesizes returncode 124. Only a
// prior non-zero attempt is retried (idempotent commands only); a zero
// exit short-circuits the retry loop.
func (a *Adapter) runCapture(ctx context.Context, args []string, idempotent bool) (Result, error) {
	full := a.commandLine(args)
	attempts := 1
	if idempotent {
		attempts += a.cfg.MaxRetries
	}

	var last Result
	for attempt := 0; attempt < attempts; attempt++ {
		res := a.captureOnce(ctx, full)
		last = res
		if res.ok() {
			return res, nil
		}
		a.log.Debug().Strs("argv", full).Int("attempt", attempt).Int("returncode", res.ReturnCode).Msg("driver capture failed, may retry")
	}
	return last, &apperr.DriverError{Command: full, ReturnCode: last.ReturnCode, Stderr: last.Stderr}
}

func (a *Adapter) captureOnce(ctx context.Context, full []string) Result {
	deadline := a.cfg.Timeout
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	a.log.Debug().Strs("argv", full).Msg("spawning driver (capture)")
	cmd := exec.CommandContext(runCtx, full[0], full[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		stderr.WriteString(fmt.Sprintf("Timed out after %gs", deadline.Seconds()))
		return Result{ReturnCode: 124, Stdout: stdout.String(), Stderr: strings.TrimSpace(stderr.String()), Command: full}
	}
	if err == nil {
		return Result{ReturnCode: 0, Stdout: stdout.String(), Stderr: strings.TrimSpace(stderr.String()), Command: full}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{ReturnCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: strings.TrimSpace(stderr.String()), Command: full}
	}
	return Result{ReturnCode: -1, Stdout: stdout.String(), Stderr: err.Error(), Command: full}
}

// ProgressFunc receives each stderr line emitted by a streaming invocation.
type ProgressFunc func(line string)

// runStreaming spawns the driver, captures stdout into a buffer, and drains
// stderr line-by-line through onLine. Cancellation is cooperative: the
// caller's ctx is checked via context.Context (the idiomatic Go equivalent
// of polling a should_cancel predicate, see SPEC_FULL.md section 9).
func (a *Adapter) runStreaming(ctx context.Context, args []string, onLine ProgressFunc) (Result, error) {
	full := a.commandLine(args)
	deadline := a.cfg.Timeout
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	a.log.Debug().Strs("argv", full).Msg("spawning driver (streaming)")
	cmd := exec.CommandContext(runCtx, full[0], full[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{Command: full}, &apperr.DriverError{Command: full, ReturnCode: -1, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return Result{Command: full}, &apperr.DriverError{Command: full, ReturnCode: -1, Err: err}
	}

	var stderrBuf bytes.Buffer
	linesDone := make(chan struct{})
	go func() {
		defer close(linesDone)
		sc := bufio.NewScanner(stderrPipe)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			stderrBuf.WriteString(line)
			stderrBuf.WriteByte('\n')
			if onLine != nil {
				onLine(line)
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		<-linesDone
		return a.streamResult(full, stdout.String(), stderrBuf.String(), err), nil
	case <-runCtx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		<-linesDone
		if ctx.Err() != nil && runCtx.Err() == context.Canceled {
			stderrBuf.WriteString("Cancelled by user\n")
			return Result{ReturnCode: 130, Stdout: stdout.String(), Stderr: strings.TrimSpace(stderrBuf.String()), Command: full}, nil
		}
		stderrBuf.WriteString(fmt.Sprintf("Timed out after %gs\n", deadline.Seconds()))
		return Result{ReturnCode: 124, Stdout: stdout.String(), Stderr: strings.TrimSpace(stderrBuf.String()), Command: full}, nil
	}
}

func (a *Adapter) streamResult(full []string, stdout, stderr string, waitErr error) Result {
	if waitErr == nil {
		return Result{ReturnCode: 0, Stdout: stdout, Stderr: strings.TrimSpace(stderr), Command: full}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return Result{ReturnCode: exitErr.ExitCode(), Stdout: stdout, Stderr: strings.TrimSpace(stderr), Command: full}
	}
	return Result{ReturnCode: -1, Stdout: stdout, Stderr: strings.TrimSpace(stderr), Command: full}
}

// Version returns the first non-empty line of the driver's version output.
func (a *Adapter) Version(ctx context.Context) (string, error) {
	res, err := a.runCapture(ctx, []string{"version"}, true)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line, nil
		}
	}
	return "", nil
}

// ConfigFile returns the last non-empty line of the driver's config-path
// output.
func (a *Adapter) ConfigFile(ctx context.Context) (string, error) {
	res, err := a.runCapture(ctx, []string{"config", "file"}, true)
	if err != nil {
		return "", err
	}
	lines := strings.Split(res.Stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line, nil
		}
	}
	return "", nil
}

// ListRemotes returns the non-empty trimmed remote names (each a "R:" name
// with the trailing colon stripped).
func (a *Adapter) ListRemotes(ctx context.Context) ([]string, error) {
	res, err := a.runCapture(ctx, []string{"listremotes"}, true)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, strings.TrimSuffix(line, ":"))
	}
	return out, nil
}

type lsjsonEntry struct {
	Path    string            `json:"Path"`
	Name    string            `json:"Name"`
	Size    int64             `json:"Size"`
	ModTime string            `json:"ModTime"`
	IsDir   bool              `json:"IsDir"`
	Hashes  map[string]string `json:"Hashes"`
}

func decodeLsjson(root string, raw []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '[' {
		return nil, errors.New("unexpected lsjson output")
	}
	var out []Entry
	for dec.More() {
		var e lsjsonEntry
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		rel := strings.TrimLeft(strings.ReplaceAll(e.Path, "\\", "/"), "/")
		full, err := pathutil.Join(root, rel)
		if err != nil {
			return nil, err
		}
		mt, perr := time.Parse(time.RFC3339Nano, e.ModTime)
		if perr != nil {
			mt, perr = time.Parse(time.RFC3339, e.ModTime)
		}
		entry := Entry{
			Name:   e.Name,
			Path:   full,
			IsDir:  e.IsDir,
			Size:   e.Size,
			Hashes: e.Hashes,
		}
		if perr == nil {
			entry.ModTime = mt
		}
		if entry.Name == "" {
			base, _ := pathutil.Basename(full)
			entry.Name = base
		}
		out = append(out, entry)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// List parses the driver's JSON directory listing for root, mapping each
// entry's path back through pathutil.Join.
func (a *Adapter) List(ctx context.Context, root string, recursive bool) ([]Entry, error) {
	args := []string{"lsjson", root, "--hash"}
	if recursive {
		args = append(args, "--recursive")
	}
	res, err := a.runCapture(ctx, args, true)
	if err != nil {
		return nil, err
	}
	return decodeLsjson(root, []byte(res.Stdout))
}

// ListCancellable behaves like List but via streaming mode so ctx
// cancellation kills the in-flight listing.
func (a *Adapter) ListCancellable(ctx context.Context, root string, recursive bool, timeout time.Duration) ([]Entry, error) {
	args := []string{"lsjson", root, "--hash"}
	if recursive {
		args = append(args, "--recursive")
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := a.runStreaming(callCtx, args, nil)
	if err != nil {
		return nil, err
	}
	if !res.ok() {
		return nil, &apperr.DriverError{Command: res.Command, ReturnCode: res.ReturnCode, Stderr: res.Stderr}
	}
	return decodeLsjson(root, []byte(res.Stdout))
}

// Stat returns a single-entry listing parsed to an Entry.
func (a *Adapter) Stat(ctx context.Context, target string) (Entry, error) {
	entries, err := a.List(ctx, target, false)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		// lsjson on a file target returns one entry whose Path is the
		// basename; if not found it is an empty array or a driver error.
		return Entry{}, &apperr.DriverError{ReturnCode: 1, Stderr: "not found: " + target}
	}
	return entries[0], nil
}

// CopyDirectory invokes a server-to-server (or local<->remote) directory
// copy/move. onLine, if non-nil, receives each stderr progress line.
func (a *Adapter) CopyDirectory(ctx context.Context, src, dst string, move bool, onLine ProgressFunc) (Result, error) {
	verb := "copy"
	if move {
		verb = "move"
	}
	args := []string{verb, src, dst}
	if onLine != nil {
		args = append(args, "--progress", "--stats", "1s")
	}
	return a.runStreaming(ctx, args, onLine)
}

// CopyFile invokes a single-file copyto/moveto.
func (a *Adapter) CopyFile(ctx context.Context, src, dst string, move bool, onLine ProgressFunc) (Result, error) {
	verb := "copyto"
	if move {
		verb = "moveto"
	}
	args := []string{verb, src, dst}
	if onLine != nil {
		args = append(args, "--progress", "--stats", "1s")
	}
	return a.runStreaming(ctx, args, onLine)
}

// DeletePath stats the target first; a file uses the delete-file form, a
// directory uses the recursive, empty-dir-pruning form. If stat fails, the
// directory form is used as a safe over-approximation.
func (a *Adapter) DeletePath(ctx context.Context, target string) error {
	entry, err := a.Stat(ctx, target)
	isDir := true
	if err == nil {
		isDir = entry.IsDir
	}
	var res Result
	if isDir {
		res, err = a.runCapture(ctx, []string{"purge", target}, false)
	} else {
		res, err = a.runCapture(ctx, []string{"deletefile", target}, false)
	}
	if err != nil {
		return err
	}
	if !res.ok() {
		return &apperr.DriverError{Command: res.Command, ReturnCode: res.ReturnCode, Stderr: res.Stderr}
	}
	return nil
}

// RenameWithinParent is a no-op if target's basename already matches
// newName; otherwise it invokes a move-to within the same parent.
func (a *Adapter) RenameWithinParent(ctx context.Context, target, newName string) error {
	base, err := pathutil.Basename(target)
	if err != nil {
		return err
	}
	if base == newName {
		return nil
	}
	dir, err := pathutil.Dirname(target)
	if err != nil {
		return err
	}
	dest, err := pathutil.Join(dir, newName)
	if err != nil {
		return err
	}
	res, err := a.runCapture(ctx, []string{"moveto", target, dest}, false)
	if err != nil {
		return err
	}
	if !res.ok() {
		return &apperr.DriverError{Command: res.Command, ReturnCode: res.ReturnCode, Stderr: res.Stderr}
	}
	return nil
}

// OpenStream spawns the driver with cat-style output and hands back a live
// stdout reader. Closing the handle kills the child if still live; on EOF
// the handle waits for the child and reports any non-zero exit.
type StreamHandle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	closed bool
}

func (h *StreamHandle) Read(p []byte) (int, error) {
	n, err := h.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		waitErr := h.cmd.Wait()
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) && exitErr.ExitCode() != 0 {
				return n, &apperr.DriverError{ReturnCode: exitErr.ExitCode(), Err: waitErr}
			}
		}
	}
	return n, err
}

func (h *StreamHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.cmd.ProcessState == nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	return h.stdout.Close()
}

// OpenStream opens target for streaming read via "cat".
func (a *Adapter) OpenStream(ctx context.Context, target string) (*StreamHandle, error) {
	full := a.commandLine([]string{"cat", target})
	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &StreamHandle{cmd: cmd, stdout: stdout}, nil
}
