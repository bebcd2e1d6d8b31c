package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecRunnerCapturesOutput(t *testing.T) {
	t.Parallel()

	r := &ExecRunner{}
	res, err := r.Run(context.Background(), Request{Cmd: "sh", Args: []string{"-c", "echo out; echo err >&2"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Ok() {
		t.Fatalf("Run() exit code = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "out")
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q, want %q", res.Stderr, "err")
	}
}

func TestExecRunnerNonZeroExitIsNotAnError(t *testing.T) {
	t.Parallel()

	r := &ExecRunner{}
	res, err := r.Run(context.Background(), Request{Cmd: "sh", Args: []string{"-c", "exit 7"}})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for non-zero exit", err)
	}
	if res.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", res.ExitCode)
	}
}

func TestExecRunnerSpawnFailure(t *testing.T) {
	t.Parallel()

	r := &ExecRunner{}
	_, err := r.Run(context.Background(), Request{Cmd: "cockpit-test-no-such-binary"})
	if err == nil {
		t.Fatal("Run() error = nil, want spawn error for missing binary")
	}
}

func TestExecRunnerEmptyCommand(t *testing.T) {
	t.Parallel()

	r := &ExecRunner{}
	if _, err := r.Run(context.Background(), Request{}); err == nil {
		t.Fatal("Run() error = nil, want error for empty command")
	}
}

func TestExecRunnerStdin(t *testing.T) {
	t.Parallel()

	r := &ExecRunner{}
	res, err := r.Run(context.Background(), Request{Cmd: "cat", Stdin: "hello"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "hello" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "hello")
	}
}

func TestExecRunnerDryRun(t *testing.T) {
	t.Parallel()

	r := &ExecRunner{DryRun: true}

	// Mutating requests are skipped entirely.
	res, err := r.Run(context.Background(), Request{Cmd: "sh", Args: []string{"-c", "exit 1"}, Mutating: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Ok() {
		t.Errorf("dry-run mutating command exit code = %d, want 0 (skipped)", res.ExitCode)
	}

	// Read-only requests still run.
	res, err = r.Run(context.Background(), Request{Cmd: "sh", Args: []string{"-c", "echo ran"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "ran" {
		t.Errorf("dry-run read-only command stdout = %q, want %q", res.Stdout, "ran")
	}
}

func TestResultCombined(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"both", Result{Stdout: "a\n", Stderr: "b\n"}, "a\nb"},
		{"stdout only", Result{Stdout: "a\n"}, "a"},
		{"stderr only", Result{Stderr: "b\n"}, "b"},
		{"neither", Result{}, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.res.Combined(); got != tt.want {
				t.Errorf("Combined() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireOk(t *testing.T) {
	t.Parallel()

	if err := RequireOk("op", Result{}, nil); err != nil {
		t.Errorf("RequireOk() = %v, want nil for a clean result", err)
	}

	spawn := errors.New("boom")
	if err := RequireOk("op", Result{}, spawn); !errors.Is(err, spawn) {
		t.Errorf("RequireOk() = %v, want wrapped spawn error", err)
	}

	err := RequireOk("op", Result{ExitCode: 3, Stderr: "remote detail"}, nil)
	if err == nil {
		t.Fatal("RequireOk() = nil, want error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "remote detail") {
		t.Errorf("RequireOk() error %q does not embed captured output", err)
	}
	if !strings.Contains(err.Error(), "exit code 3") {
		t.Errorf("RequireOk() error %q does not name the exit code", err)
	}
}

func TestMockRecordsCalls(t *testing.T) {
	t.Parallel()

	m := &Mock{RunFn: func(_ context.Context, req Request) (Result, error) {
		return Result{Stdout: req.Cmd}, nil
	}}
	if _, err := m.Run(context.Background(), Request{Cmd: "first"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := m.Run(context.Background(), Request{Cmd: "second"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(m.Calls) != 2 || m.Calls[0].Cmd != "first" || m.Calls[1].Cmd != "second" {
		t.Errorf("Calls = %+v, want both requests recorded in order", m.Calls)
	}
}
