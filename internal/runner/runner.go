// Package runner executes external commands on behalf of the CLI and the
// provisioning pipeline. Callers choose per call whether child output is
// captured into memory or inherited by the parent terminal — never both.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Request describes one external command execution.
type Request struct {
	Cmd  string
	Args []string
	Dir  string
	Env  []string
	// Stdin is written to the child's standard input when non-empty.
	// Ignored for interactive requests, which inherit the parent's stdin.
	Stdin string
	// Interactive wires the child directly to the parent terminal. Output
	// is not captured; Result carries only the exit code.
	Interactive bool
	// Mutating commands are skipped under dry-run.
	Mutating bool
}

// Result captures process outcome. A non-zero ExitCode is how command
// failure is reported; Run returns an error only for spawn-level OS
// failures (binary missing, fork failure, ...).
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Combined returns stdout and stderr joined, trimmed.
func (r Result) Combined() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// ExecRunner uses os/exec with optional dry-run behavior.
type ExecRunner struct {
	Logger *slog.Logger
	DryRun bool
}

func (r *ExecRunner) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Cmd) == "" {
		return Result{}, errors.New("runner: command must not be empty")
	}

	if r.DryRun && req.Mutating {
		if r.Logger != nil {
			r.Logger.InfoContext(ctx, "dry-run: skipped mutating command", "cmd", req.Cmd, "args", req.Args)
		}
		return Result{}, nil
	}

	cmd := exec.CommandContext(ctx, req.Cmd, req.Args...)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	// Cancellation (signal-driven or otherwise) forwards SIGTERM to the
	// child rather than killing it outright, so interactive shells and
	// remote exec wrappers get a chance to unwind.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	if req.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		if req.Stdin != "" {
			cmd.Stdin = strings.NewReader(req.Stdin)
		}
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("runner: %s %v: %w", req.Cmd, req.Args, err)
}

// RequireOk converts a failed Result into an error that embeds the captured
// output, so remote failures surface with their diagnostics attached.
func RequireOk(op string, res Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.Ok() {
		return nil
	}
	detail := res.Combined()
	if detail == "" {
		return fmt.Errorf("%s: exit code %d", op, res.ExitCode)
	}
	return fmt.Errorf("%s: exit code %d\n%s", op, res.ExitCode, detail)
}

// Mock is an injectable fake for tests.
type Mock struct {
	RunFn func(ctx context.Context, req Request) (Result, error)

	// Calls records every request, in order.
	Calls []Request
}

func (m *Mock) Run(ctx context.Context, req Request) (Result, error) {
	m.Calls = append(m.Calls, req)
	if m.RunFn == nil {
		return Result{}, errors.New("runner: mock method not implemented")
	}
	return m.RunFn(ctx, req)
}
