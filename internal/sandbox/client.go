// Package sandbox wraps the external sandbox-control binary ("sprite" by
// default) with the verbs cockpit needs: login, create, exec, destroy, and
// a tri-state existence probe.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/justinmoon/cockpit/internal/runner"
)

const defaultBinary = "sprite"

// ErrMockNotImplemented indicates no behavior is configured for a mock method.
var ErrMockNotImplemented = errors.New("sandbox: mock method not implemented")

// Existence is the outcome of an existence probe. Unknown means the probe
// failed in a way that confirms neither presence nor absence; callers must
// not mutate binding state on Unknown.
type Existence int

const (
	ExistenceUnknown Existence = iota
	ExistenceFound
	ExistenceNotFound
)

// notFoundMarkers are the provider's "this sandbox does not exist" signals,
// matched case-insensitively against combined output.
var notFoundMarkers = []string{"not found", "no such sprite"}

// benignCreateWarnings are provider warning line prefixes that do not
// indicate a failed create (the console attach is skipped deliberately).
// Matched as prefixes only: a failure line that merely mentions a warning
// is still a failure.
var benignCreateWarnings = []string{
	"warning:",
	"console unavailable",
	"failed to open console",
}

// FileInjection copies a local file into the sandbox alongside an exec.
type FileInjection struct {
	Local  string
	Remote string
}

// ExecOpts controls one remote execution.
type ExecOpts struct {
	TTY         bool
	Dir         string
	Files       []FileInjection
	Interactive bool
}

// Client abstracts sandbox-control operations for testability.
type Client interface {
	Login(ctx context.Context) error
	Probe(ctx context.Context) error
	Create(ctx context.Context, name string) error
	Exec(ctx context.Context, name, script string, opts ExecOpts) (runner.Result, error)
	Destroy(ctx context.Context, name string, force bool) error
	Exists(ctx context.Context, name string) (Existence, error)
}

// CLI drives the sandbox-control binary through a runner.
type CLI struct {
	Runner runner.Runner
	Binary string
	Org    string
	Logger *slog.Logger
}

func (c *CLI) command() string {
	if strings.TrimSpace(c.Binary) == "" {
		return defaultBinary
	}
	return strings.TrimSpace(c.Binary)
}

// withOrgArgs inserts -o before "--" so the flag reaches the sandbox CLI,
// not the remote shell.
func withOrgArgs(base []string, org string) []string {
	if org == "" {
		return base
	}
	out := make([]string, 0, len(base)+2)
	for i, arg := range base {
		if arg == "--" {
			out = append(out, base[:i]...)
			out = append(out, "-o", org)
			out = append(out, base[i:]...)
			return out
		}
	}
	out = append(out, base...)
	out = append(out, "-o", org)
	return out
}

func execArgs(name, script string, opts ExecOpts) []string {
	// The sandbox CLI uses single-dash long flags (-tty, -file), not
	// GNU-style --flags.
	args := []string{"exec", "-s", name}
	if opts.TTY {
		args = append(args, "-tty")
	}
	if opts.Dir != "" {
		args = append(args, "-dir", opts.Dir)
	}
	for _, f := range opts.Files {
		args = append(args, "-file", f.Local+":"+f.Remote)
	}
	args = append(args, "--", "bash", "-ceu", script)
	return args
}

func createArgs(name, org string) []string {
	args := []string{"create", "-skip-console"}
	if org != "" {
		args = append(args, "-o", org)
	}
	return append(args, name)
}

func destroyArgs(name, org string, force bool) []string {
	args := []string{"destroy"}
	if force {
		args = append(args, "-force")
	}
	args = append(args, "-s", name)
	if org != "" {
		args = append(args, "-o", org)
	}
	return args
}

// EnsureAuthenticated probes for valid credentials and, when the probe
// fails, runs the interactive login flow.
func EnsureAuthenticated(ctx context.Context, c Client, logger *slog.Logger) error {
	probeErr := c.Probe(ctx)
	if probeErr == nil {
		return nil
	}
	if logger != nil {
		logger.DebugContext(ctx, "auth probe failed, starting login", "err", probeErr)
	}
	if err := c.Login(ctx); err != nil {
		return fmt.Errorf("sandbox login: %w", err)
	}
	return nil
}

// Login runs the provider's interactive login flow on the caller's terminal.
func (c *CLI) Login(ctx context.Context) error {
	res, err := c.Runner.Run(ctx, runner.Request{
		Cmd:         c.command(),
		Args:        withOrgArgs([]string{"login"}, c.Org),
		Interactive: true,
		Mutating:    true,
	})
	return runner.RequireOk("sandbox login", res, err)
}

// Probe runs a cheap read-only listing to test whether credentials are
// valid. A failing probe means "login required", not a hard error.
func (c *CLI) Probe(ctx context.Context) error {
	res, err := c.Runner.Run(ctx, runner.Request{
		Cmd:  c.command(),
		Args: withOrgArgs([]string{"list"}, c.Org),
	})
	return runner.RequireOk("sandbox auth probe", res, err)
}

// Create provisions a fresh sandbox. Known benign provider warnings are
// suppressed rather than treated as failure.
func (c *CLI) Create(ctx context.Context, name string) error {
	res, err := c.Runner.Run(ctx, runner.Request{
		Cmd:      c.command(),
		Args:     createArgs(name, c.Org),
		Mutating: true,
	})
	if err != nil {
		return fmt.Errorf("create sandbox %q: %w", name, err)
	}
	if res.Ok() {
		return nil
	}
	if onlyBenignWarnings(res.Combined()) {
		if c.Logger != nil {
			c.Logger.DebugContext(ctx, "suppressed benign create warning", "sandbox", name, "output", res.Combined())
		}
		return nil
	}
	return runner.RequireOk(fmt.Sprintf("create sandbox %q", name), res, nil)
}

func onlyBenignWarnings(output string) bool {
	lines := strings.Split(output, "\n")
	saw := false
	for _, line := range lines {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		benign := false
		for _, marker := range benignCreateWarnings {
			if strings.HasPrefix(line, marker) {
				benign = true
				break
			}
		}
		if !benign {
			return false
		}
		saw = true
	}
	return saw
}

// Exec runs a script in the sandbox via `bash -ceu`. The result carries the
// remote exit code; err is reserved for spawn-level failures.
func (c *CLI) Exec(ctx context.Context, name, script string, opts ExecOpts) (runner.Result, error) {
	return c.Runner.Run(ctx, runner.Request{
		Cmd:         c.command(),
		Args:        withOrgArgs(execArgs(name, script, opts), c.Org),
		Interactive: opts.Interactive,
		Mutating:    true,
	})
}

// Destroy tears down a sandbox. Callers on cleanup paths treat failures as
// best-effort; this method still reports them.
func (c *CLI) Destroy(ctx context.Context, name string, force bool) error {
	res, err := c.Runner.Run(ctx, runner.Request{
		Cmd:      c.command(),
		Args:     destroyArgs(name, c.Org, force),
		Mutating: true,
	})
	return runner.RequireOk(fmt.Sprintf("destroy sandbox %q", name), res, err)
}

// Exists probes for a sandbox with a trivial remote command. The provider's
// "not found"/"no such sprite" output maps to ExistenceNotFound; any other
// failure is ExistenceUnknown.
func (c *CLI) Exists(ctx context.Context, name string) (Existence, error) {
	res, err := c.Runner.Run(ctx, runner.Request{
		Cmd:  c.command(),
		Args: withOrgArgs([]string{"exec", "-s", name, "--", "bash", "-ceu", "true"}, c.Org),
	})
	if err != nil {
		return ExistenceUnknown, fmt.Errorf("existence probe for %q: %w", name, err)
	}
	if res.Ok() {
		return ExistenceFound, nil
	}
	combined := strings.ToLower(res.Combined())
	for _, marker := range notFoundMarkers {
		if strings.Contains(combined, marker) {
			return ExistenceNotFound, nil
		}
	}
	return ExistenceUnknown, fmt.Errorf("existence probe for %q: exit code %d: %s", name, res.ExitCode, res.Combined())
}

// MockClient is an injectable fake for tests.
type MockClient struct {
	LoginFn   func(ctx context.Context) error
	ProbeFn   func(ctx context.Context) error
	CreateFn  func(ctx context.Context, name string) error
	ExecFn    func(ctx context.Context, name, script string, opts ExecOpts) (runner.Result, error)
	DestroyFn func(ctx context.Context, name string, force bool) error
	ExistsFn  func(ctx context.Context, name string) (Existence, error)
}

func (m *MockClient) Login(ctx context.Context) error {
	if m.LoginFn == nil {
		return ErrMockNotImplemented
	}
	return m.LoginFn(ctx)
}

func (m *MockClient) Probe(ctx context.Context) error {
	if m.ProbeFn == nil {
		return ErrMockNotImplemented
	}
	return m.ProbeFn(ctx)
}

func (m *MockClient) Create(ctx context.Context, name string) error {
	if m.CreateFn == nil {
		return ErrMockNotImplemented
	}
	return m.CreateFn(ctx, name)
}

func (m *MockClient) Exec(ctx context.Context, name, script string, opts ExecOpts) (runner.Result, error) {
	if m.ExecFn == nil {
		return runner.Result{}, ErrMockNotImplemented
	}
	return m.ExecFn(ctx, name, script, opts)
}

func (m *MockClient) Destroy(ctx context.Context, name string, force bool) error {
	if m.DestroyFn == nil {
		return ErrMockNotImplemented
	}
	return m.DestroyFn(ctx, name, force)
}

func (m *MockClient) Exists(ctx context.Context, name string) (Existence, error) {
	if m.ExistsFn == nil {
		return ExistenceUnknown, ErrMockNotImplemented
	}
	return m.ExistsFn(ctx, name)
}
