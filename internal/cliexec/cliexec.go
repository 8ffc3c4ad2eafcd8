// Package cliexec is the LLM-CLI invocation layer: it spawns an external
// LLM command-line tool with an explicit argument vector, feeds it a
// sanitized prompt over stdin, and collects its stdout under a hard
// wall-clock deadline, classifying the outcome into one of a small set
// of errors the caller (the Worker) owns the retry policy for.
package cliexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/conductorctl/conductor/internal/errs"
	"github.com/conductorctl/conductor/internal/logger"
	"github.com/conductorctl/conductor/internal/sanitize"
)

// gracePeriod is how long Invoke waits after sending SIGTERM before
// escalating to SIGKILL on deadline expiry.
const gracePeriod = 3 * time.Second

// Result is the outcome of one CLI invocation.
type Result struct {
	Stdout   string
	ExitCode int
	Elapsed  time.Duration
}

// Invoker spawns external LLM CLI tools. The zero value is ready to use.
type Invoker struct{}

// New returns a ready-to-use Invoker.
func New() *Invoker { return &Invoker{} }

// Invoke runs command+args as a subprocess (never through a shell), writes
// stdinPrompt to its stdin after sanitizing it, and returns stdout
// sanitized back to ASCII. On timeout expiry it sends SIGTERM, waits
// gracePeriod, then SIGKILL, so a timed-out call returns after about
// timeout plus gracePeriod, with ErrTimeout and whatever partial stdout
// had already been captured.
func (inv *Invoker) Invoke(ctx context.Context, command string, args []string, stdinPrompt string, timeout time.Duration) (Result, error) {
	start := time.Now()

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path, err := exec.LookPath(command)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", errs.ErrCLINotFound, command)
	}

	cmd := exec.CommandContext(cmdCtx, path, args...)
	cmd.SysProcAttr = sysProcAttr()

	cleanPrompt := sanitize.Sanitize(stdinPrompt)
	cmd.Stdin = strings.NewReader(cleanPrompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", errs.ErrCLIFailed, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-cmdCtx.Done():
		terminateGracefully(cmd)
		<-done // reap regardless of outcome
		waitErr = cmdCtx.Err()
	case waitErr = <-done:
	}

	elapsed := time.Since(start)
	out := sanitize.Sanitize(stdout.String())

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		logger.WarnCF("cliexec", "invocation timed out", map[string]any{
			"command": command, "timeout_s": timeout.Seconds(),
		})
		return Result{Stdout: out, ExitCode: -1, Elapsed: elapsed}, errs.ErrTimeout
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		code := -1
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		logger.WarnCF("cliexec", "invocation failed", map[string]any{
			"command": command, "exit_code": code, "stderr_len": stderr.Len(),
		})
		return Result{Stdout: out, ExitCode: code, Elapsed: elapsed}, errs.ErrCLIFailed
	}

	ok, violations := sanitize.Validate(out)
	if !ok {
		return Result{Stdout: out, ExitCode: 0, Elapsed: elapsed}, fmt.Errorf("%w: %d residual non-ascii runes", errs.ErrEncoding, len(violations))
	}

	return Result{Stdout: out, ExitCode: 0, Elapsed: elapsed}, nil
}

// terminateGracefully sends SIGTERM and, after gracePeriod, SIGKILL to the
// process group, reaping runaway subprocesses that ignore the first signal.
func terminateGracefully(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		cmd.Process.Kill()
		return
	}
	syscall.Kill(-pgid, syscall.SIGTERM)
	time.Sleep(gracePeriod)
	syscall.Kill(-pgid, syscall.SIGKILL)
}

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// ComplexityScore derives a [1..10] complexity score for a prompt, used by
// AdaptiveTimeout (§4.1): longer prompts and prompts containing
// analysis/testing keywords score higher.
func ComplexityScore(prompt string) int {
	score := 1 + len(prompt)/2000
	lower := strings.ToLower(prompt)
	for _, kw := range []string{"analyze", "analyse", "test", "verify", "audit", "benchmark", "profile"} {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	if score > 10 {
		score = 10
	}
	if score < 1 {
		score = 1
	}
	return score
}

// AdaptiveTimeout scales base by a monotonic, piecewise-linear function of
// score in [1..10], capped at 3x base: f(1)=1, f(10)=3, linear between.
func AdaptiveTimeout(base time.Duration, score int) time.Duration {
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	factor := 1.0 + (float64(score-1)/9.0)*2.0
	return time.Duration(float64(base) * factor)
}
