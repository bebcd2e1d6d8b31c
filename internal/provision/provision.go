// Package provision turns a freshly created sandbox into a ready
// coding-agent environment: bootstrap the runtime, clone the repository,
// sync local agent config, sanity-check, then either attach an interactive
// shell or run a scripted QA check.
//
// The pipeline is a linear state machine. Steps run strictly sequentially;
// cancellation arrives through the context (the CLI entry point translates
// OS signals into a context cancel). Cleanup runs exactly once on every
// exit path.
package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/justinmoon/cockpit/internal/names"
	"github.com/justinmoon/cockpit/internal/runner"
	"github.com/justinmoon/cockpit/internal/sandbox"
	"github.com/justinmoon/cockpit/internal/sshkey"
)

// Stage identifies a single provisioning step.
type Stage string

const (
	StageAuthCheck   Stage = "auth_check"
	StageCreate      Stage = "create"
	StageSSHKey      Stage = "ssh_key_upload"
	StageBootstrap   Stage = "bootstrap"
	StageClone       Stage = "clone"
	StageConfigSync  Stage = "config_sync"
	StageSanityCheck Stage = "sanity_check"
	StageReady       Stage = "ready"
	StageQA          Stage = "qa"
	StageAttach      Stage = "attach"
	StageCleanup     Stage = "cleanup"
)

// Progress reports incremental status for one pipeline run.
type Progress struct {
	Sandbox string
	Stage   Stage
	Message string
}

// KeyChecker verifies the managed SSH key pair.
type KeyChecker interface {
	Check(ctx context.Context) (sshkey.Pair, error)
}

// Binder is the window binding registry consumed by the pipeline.
type Binder interface {
	Inside() bool
	Set(ctx context.Context, name string) error
}

// Options configures one pipeline run.
type Options struct {
	RepoURL string
	Branch  string
	// QAHelp runs the agent help check instead of attaching.
	QAHelp bool
	// QATurn runs a scripted one-turn agent check instead of attaching.
	QATurn bool
}

// Pipeline provisions sandboxes. All collaborators are injected so the
// state machine is testable without a real provider.
type Pipeline struct {
	Sandbox sandbox.Client
	Runner  runner.Runner // local commands (config archiving)
	Binding Binder
	Keys    KeyChecker
	Logger  *slog.Logger
	// Stderr receives user-facing progress lines; defaults to os.Stderr.
	Stderr io.Writer
	// Now is injectable for deterministic sandbox names in tests.
	Now func() time.Time
	// HomeDir overrides the local home directory (config sync source).
	HomeDir string
	// Progress, when set, observes each stage transition.
	Progress func(Progress)
}

// state is the transient provisioning state for one run.
type state struct {
	name    string
	workDir string
	created bool
	ready   bool
	bound   bool
	sshKey  bool
}

func (p *Pipeline) stderr() io.Writer {
	if p.Stderr != nil {
		return p.Stderr
	}
	return os.Stderr
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) emit(st *state, stage Stage, message string) {
	if p.Progress != nil {
		p.Progress(Progress{Sandbox: st.name, Stage: stage, Message: message})
	}
	fmt.Fprintf(p.stderr(), "==> %s\n", message)
}

func (p *Pipeline) warn(format string, args ...any) {
	fmt.Fprintf(p.stderr(), "warning: "+format+"\n", args...)
}

// Run executes the full pipeline. The returned error is nil only when the
// terminal step (attach shell or QA check) succeeded.
func (p *Pipeline) Run(ctx context.Context, opts Options) (err error) {
	if strings.TrimSpace(opts.RepoURL) == "" {
		return fmt.Errorf("provision: repository URL is required")
	}
	branch := strings.TrimSpace(opts.Branch)
	if branch == "" {
		return fmt.Errorf("provision: branch is required")
	}
	qa := opts.QAHelp || opts.QATurn

	st := &state{
		name:    names.Sandbox(p.now()),
		workDir: path.Join(remoteHome, repoDirName(opts.RepoURL)),
	}

	// Cleanup is guaranteed on every exit path, including cancellation:
	// the deferred call runs when Run unwinds after a step fails with
	// ctx.Err. It never runs twice because Run is the only caller.
	defer p.cleanup(st)

	// AUTH_CHECK: probe first, never assume credentials are valid.
	p.emit(st, StageAuthCheck, "checking sandbox provider auth")
	if err := sandbox.EnsureAuthenticated(ctx, p.Sandbox, p.Logger); err != nil {
		return fmt.Errorf("provision: %w", err)
	}

	// CREATE: a failure here needs no cleanup — nothing exists yet.
	p.emit(st, StageCreate, "creating sandbox "+st.name)
	if err := p.Sandbox.Create(ctx, st.name); err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	st.created = true

	if isSSHURL(opts.RepoURL) {
		p.emit(st, StageSSHKey, "uploading managed SSH key")
		if err := p.uploadSSHKey(ctx, st); err != nil {
			return err
		}
		st.sshKey = true
	}

	p.emit(st, StageBootstrap, "bootstrapping runtime and agent")
	if err := p.bootstrap(ctx, st); err != nil {
		return err
	}

	p.emit(st, StageClone, "cloning "+opts.RepoURL+" ("+branch+")")
	if err := p.clone(ctx, st, opts.RepoURL, branch); err != nil {
		return err
	}

	p.emit(st, StageConfigSync, "syncing local agent config")
	p.configSync(ctx, st)

	p.emit(st, StageSanityCheck, "verifying agent and checkout")
	if err := p.sanityCheck(ctx, st); err != nil {
		return err
	}

	// READY: binding happens here and not earlier, so `cockpit attach`
	// can never reach a half-provisioned sandbox. QA runs never bind.
	st.ready = true
	if !qa && p.Binding != nil && p.Binding.Inside() {
		p.emit(st, StageReady, "binding tmux window to "+st.name)
		if err := p.Binding.Set(ctx, st.name); err != nil {
			p.warn("could not bind tmux window: %v", err)
		} else {
			st.bound = true
		}
	} else {
		p.emit(st, StageReady, "sandbox "+st.name+" is ready")
	}

	switch {
	case opts.QATurn:
		p.emit(st, StageQA, "running one-turn QA check")
		return p.qaTurn(ctx, st)
	case opts.QAHelp:
		p.emit(st, StageQA, "running agent help QA check")
		return p.qaHelp(ctx, st)
	default:
		p.emit(st, StageAttach, "attaching shell (exit to tear down)")
		return p.attach(ctx, st)
	}
}

// cleanup destroys the sandbox unless it is both ready and left bound to a
// surviving tmux window. Destroy failures are logged, never escalated.
func (p *Pipeline) cleanup(st *state) {
	if !st.created {
		return
	}
	if st.ready && st.bound {
		fmt.Fprintf(p.stderr(), "==> leaving %s running (bound to this window; use `cockpit destroy`)\n", st.name)
		return
	}
	// The run context may already be canceled (signal path); cleanup gets
	// its own deadline so destroy still goes out.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	p.emit(st, StageCleanup, "destroying sandbox "+st.name)
	if err := p.Sandbox.Destroy(ctx, st.name, true); err != nil {
		p.warn("destroy %s failed: %v", st.name, err)
		if p.Logger != nil {
			p.Logger.Warn("cleanup destroy failed", "sandbox", st.name, "err", err)
		}
	}
}

// attach spawns an interactive shell in the clone directory with the agent
// install dir prepended to PATH, and propagates the shell's exit code.
func (p *Pipeline) attach(ctx context.Context, st *state) error {
	return AttachShell(ctx, p.Sandbox, st.name, st.workDir)
}

// AttachShell opens an interactive shell in a running sandbox. dir may be
// empty, in which case the shell starts in the sandbox home directory.
func AttachShell(ctx context.Context, client sandbox.Client, name, dir string) error {
	res, err := client.Exec(ctx, name, attachScript(), sandbox.ExecOpts{
		TTY:         true,
		Dir:         dir,
		Interactive: true,
	})
	if err != nil {
		return fmt.Errorf("provision: attach: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("provision: attached shell exited with code %d", res.ExitCode)
	}
	return nil
}

// WorkDirFor returns the remote clone directory for a repository URL, or ""
// when no URL is configured.
func WorkDirFor(repoURL string) string {
	if strings.TrimSpace(repoURL) == "" {
		return ""
	}
	return path.Join(remoteHome, repoDirName(repoURL))
}

// isSSHURL reports whether the repository URL needs SSH key material:
// ssh:// URLs and scp-like user@host:path forms.
func isSSHURL(repoURL string) bool {
	if strings.HasPrefix(repoURL, "ssh://") {
		return true
	}
	if strings.Contains(repoURL, "://") {
		return false
	}
	at := strings.Index(repoURL, "@")
	colon := strings.Index(repoURL, ":")
	return at > 0 && colon > at
}

// repoDirName extracts the checkout directory name from a repository URL.
func repoDirName(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if slug := names.Slug(trimmed); slug != "" {
		return slug
	}
	return "repo"
}
