package sandbox

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/justinmoon/cockpit/internal/runner"
)

func TestWithOrgArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base []string
		org  string
		want []string
	}{
		{
			name: "no org leaves args untouched",
			base: []string{"exec", "-s", "sb", "--", "bash", "-ceu", "true"},
			org:  "",
			want: []string{"exec", "-s", "sb", "--", "bash", "-ceu", "true"},
		},
		{
			name: "org inserted before double dash",
			base: []string{"exec", "-s", "sb", "--", "bash", "-ceu", "true"},
			org:  "acme",
			want: []string{"exec", "-s", "sb", "-o", "acme", "--", "bash", "-ceu", "true"},
		},
		{
			name: "org appended without double dash",
			base: []string{"login"},
			org:  "acme",
			want: []string{"login", "-o", "acme"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := withOrgArgs(tt.base, tt.org); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("withOrgArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecArgs(t *testing.T) {
	t.Parallel()

	got := execArgs("sb", "echo hi", ExecOpts{
		TTY: true,
		Dir: "/root/repo",
		Files: []FileInjection{
			{Local: "/tmp/key", Remote: "/root/.ssh/key"},
		},
	})
	want := []string{
		"exec", "-s", "sb", "-tty", "-dir", "/root/repo",
		"-file", "/tmp/key:/root/.ssh/key",
		"--", "bash", "-ceu", "echo hi",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("execArgs() = %v, want %v", got, want)
	}
}

func TestCreateArgs(t *testing.T) {
	t.Parallel()

	if got, want := createArgs("sb", ""), []string{"create", "-skip-console", "sb"}; !reflect.DeepEqual(got, want) {
		t.Errorf("createArgs() = %v, want %v", got, want)
	}
	if got, want := createArgs("sb", "acme"), []string{"create", "-skip-console", "-o", "acme", "sb"}; !reflect.DeepEqual(got, want) {
		t.Errorf("createArgs() with org = %v, want %v", got, want)
	}
}

func TestDestroyArgs(t *testing.T) {
	t.Parallel()

	if got, want := destroyArgs("sb", "", true), []string{"destroy", "-force", "-s", "sb"}; !reflect.DeepEqual(got, want) {
		t.Errorf("destroyArgs() = %v, want %v", got, want)
	}
	if got, want := destroyArgs("sb", "acme", false), []string{"destroy", "-s", "sb", "-o", "acme"}; !reflect.DeepEqual(got, want) {
		t.Errorf("destroyArgs() = %v, want %v", got, want)
	}
}

func TestCreateSuppressesBenignWarnings(t *testing.T) {
	t.Parallel()

	mock := &runner.Mock{RunFn: func(_ context.Context, _ runner.Request) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "Warning: console unavailable, skipping\n"}, nil
	}}
	c := &CLI{Runner: mock}
	if err := c.Create(context.Background(), "sb"); err != nil {
		t.Fatalf("Create() error = %v, want benign warning suppressed", err)
	}
}

func TestCreateRealFailure(t *testing.T) {
	t.Parallel()

	mock := &runner.Mock{RunFn: func(_ context.Context, _ runner.Request) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "quota exceeded"}, nil
	}}
	c := &CLI{Runner: mock}
	err := c.Create(context.Background(), "sb")
	if err == nil {
		t.Fatal("Create() error = nil, want failure surfaced")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Create() error %q does not embed provider output", err)
	}
}

func TestCreateFailureMentioningWarningIsNotSuppressed(t *testing.T) {
	t.Parallel()

	// The benign markers are line prefixes; an error line that merely
	// mentions a warning must still fail the create.
	mock := &runner.Mock{RunFn: func(_ context.Context, _ runner.Request) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "error: boot failed, see warning: disk full"}, nil
	}}
	c := &CLI{Runner: mock}
	if err := c.Create(context.Background(), "sb"); err == nil {
		t.Fatal("Create() error = nil, want mid-line warning text ignored")
	}
}

func TestCreateMixedOutputIsFailure(t *testing.T) {
	t.Parallel()

	// A benign warning plus a real error line must not be suppressed.
	mock := &runner.Mock{RunFn: func(_ context.Context, _ runner.Request) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "warning: console unavailable\nquota exceeded"}, nil
	}}
	c := &CLI{Runner: mock}
	if err := c.Create(context.Background(), "sb"); err == nil {
		t.Fatal("Create() error = nil, want mixed output treated as failure")
	}
}

func TestExists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		res     runner.Result
		err     error
		want    Existence
		wantErr bool
	}{
		{
			name: "zero exit is found",
			res:  runner.Result{},
			want: ExistenceFound,
		},
		{
			name: "not found marker",
			res:  runner.Result{ExitCode: 1, Stderr: "Error: sprite not found"},
			want: ExistenceNotFound,
		},
		{
			name: "no such sprite marker",
			res:  runner.Result{ExitCode: 1, Stderr: "no such sprite: sb"},
			want: ExistenceNotFound,
		},
		{
			name:    "other failure is unknown",
			res:     runner.Result{ExitCode: 1, Stderr: "connection timed out"},
			want:    ExistenceUnknown,
			wantErr: true,
		},
		{
			name:    "spawn error is unknown",
			err:     errors.New("binary missing"),
			want:    ExistenceUnknown,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := &runner.Mock{RunFn: func(_ context.Context, _ runner.Request) (runner.Result, error) {
				return tt.res, tt.err
			}}
			c := &CLI{Runner: mock}
			got, err := c.Exists(context.Background(), "sb")
			if got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Exists() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecPassesOrgAndScript(t *testing.T) {
	t.Parallel()

	mock := &runner.Mock{RunFn: func(_ context.Context, _ runner.Request) (runner.Result, error) {
		return runner.Result{}, nil
	}}
	c := &CLI{Runner: mock, Org: "acme", Binary: "mysprite"}
	if _, err := c.Exec(context.Background(), "sb", "echo hi", ExecOpts{}); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(mock.Calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(mock.Calls))
	}
	call := mock.Calls[0]
	if call.Cmd != "mysprite" {
		t.Errorf("Cmd = %q, want configured binary", call.Cmd)
	}
	joined := strings.Join(call.Args, " ")
	if !strings.Contains(joined, "-o acme --") {
		t.Errorf("args %v, want org flag before --", call.Args)
	}
	if call.Args[len(call.Args)-1] != "echo hi" {
		t.Errorf("args %v, want script as the final argument", call.Args)
	}
}

func TestEnsureAuthenticated(t *testing.T) {
	t.Parallel()

	var loggedIn bool
	m := &MockClient{
		ProbeFn: func(context.Context) error { return nil },
		LoginFn: func(context.Context) error { loggedIn = true; return nil },
	}
	if err := EnsureAuthenticated(context.Background(), m, nil); err != nil {
		t.Fatalf("EnsureAuthenticated() error = %v", err)
	}
	if loggedIn {
		t.Error("login ran despite a passing probe")
	}

	m.ProbeFn = func(context.Context) error { return errors.New("401") }
	if err := EnsureAuthenticated(context.Background(), m, nil); err != nil {
		t.Fatalf("EnsureAuthenticated() error = %v", err)
	}
	if !loggedIn {
		t.Error("login did not run after a failing probe")
	}

	m.LoginFn = func(context.Context) error { return errors.New("user aborted") }
	if err := EnsureAuthenticated(context.Background(), m, nil); err == nil {
		t.Error("EnsureAuthenticated() error = nil, want login failure surfaced")
	}
}

func TestMockClientUnimplemented(t *testing.T) {
	t.Parallel()

	m := &MockClient{}
	if err := m.Login(context.Background()); !errors.Is(err, ErrMockNotImplemented) {
		t.Errorf("Login() error = %v, want ErrMockNotImplemented", err)
	}
	if _, err := m.Exists(context.Background(), "sb"); !errors.Is(err, ErrMockNotImplemented) {
		t.Errorf("Exists() error = %v, want ErrMockNotImplemented", err)
	}
}
