package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

// CommandError describes a failed ffmpeg/ffprobe invocation.
type CommandError struct {
	Tool       string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *CommandError) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("%s exited %d: %s", e.Tool, e.ExitCode, truncate(e.StderrTail, 512))
	}
	return fmt.Sprintf("%s exited %d: %v", e.Tool, e.ExitCode, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// runResult is the outcome of one subprocess.
type runResult struct {
	Stdout     []byte
	StderrTail string
	ExitCode   int
	Duration   time.Duration
}

// commandRunner executes a binary. Tests replace it with a fake.
type commandRunner func(ctx context.Context, name string, args ...string) (runResult, error)

func execCommand(ctx context.Context, name string, args ...string) (runResult, error) {
	start := time.Now()

	var stdout, stderrBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	err := cmd.Run()
	res := runResult{
		Stdout:     stdout.Bytes(),
		StderrTail: stderrBuf.String(),
		Duration:   time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return res, &CommandError{Tool: name, ExitCode: res.ExitCode, StderrTail: res.StderrTail, Err: err}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
