package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/justinmoon/cockpit/internal/runner"
	"github.com/justinmoon/cockpit/internal/sandbox"
	"github.com/justinmoon/cockpit/internal/shellutil"
)

const (
	remoteHome = "/root"
	// agentBinDir is where the bootstrap npm prefix puts the agent binary.
	agentBinDir = "/root/.npm-global/bin"
	// minNodeMajor is the minimum runtime version the agent package supports.
	minNodeMajor = 18
	agentPackage = "@anthropic-ai/claude-code"
	agentBinary  = "claude"

	remoteKeyPath = "/root/.ssh/cockpit_ed25519"
)

// uploadSSHKey verifies the managed key pair locally, injects it into the
// sandbox, and points SSH at it. It never generates a key.
func (p *Pipeline) uploadSSHKey(ctx context.Context, st *state) error {
	if p.Keys == nil {
		return fmt.Errorf("provision: repository URL uses SSH but no key manager is configured")
	}
	pair, err := p.Keys.Check(ctx)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}

	var script shellutil.Script
	script.Raw("mkdir -p /root/.ssh && chmod 700 /root/.ssh")
	script.Raw("chmod 600 " + shellutil.Quote(remoteKeyPath))
	script.Raw("printf '%s\\n' " + shellutil.Quote("IdentityFile "+remoteKeyPath) + " " + shellutil.Quote("StrictHostKeyChecking accept-new") + " >> /root/.ssh/config")
	script.Raw("chmod 600 /root/.ssh/config")

	res, err := p.Sandbox.Exec(ctx, st.name, script.String(), sandbox.ExecOpts{
		Files: []sandbox.FileInjection{
			{Local: pair.PrivatePath, Remote: remoteKeyPath},
			{Local: pair.PublicPath, Remote: remoteKeyPath + ".pub"},
		},
	})
	return runner.RequireOk("provision: install SSH key", res, err)
}

// bootstrap verifies the minimum runtime version and installs the agent
// package. Both failures are fatal, surfacing the captured remote output.
func (p *Pipeline) bootstrap(ctx context.Context, st *state) error {
	res, err := p.Sandbox.Exec(ctx, st.name, bootstrapScript(), sandbox.ExecOpts{})
	return runner.RequireOk("provision: bootstrap", res, err)
}

func bootstrapScript() string {
	var script shellutil.Script
	script.Raw(`command -v node >/dev/null 2>&1 || { echo "node is not installed in the sandbox image" >&2; exit 1; }`)
	script.Raw(`major="$(node -p 'process.versions.node.split(".")[0]')"`)
	script.Raw(fmt.Sprintf(`[ "$major" -ge %d ] || { echo "node $major is too old (need >= %d)" >&2; exit 1; }`, minNodeMajor, minNodeMajor))
	script.Raw("mkdir -p /root/.npm-global")
	script.Run("npm", "config", "set", "prefix", "/root/.npm-global")
	script.Run("npm", "install", "-g", agentPackage)
	return script.String()
}

// clone shallow-clones the requested branch, falling back to the default
// branch (with a warning) when the named branch does not exist. Only the
// fallback's failure is fatal.
func (p *Pipeline) clone(ctx context.Context, st *state, repoURL, branch string) error {
	res, err := p.Sandbox.Exec(ctx, st.name, cloneScript(repoURL, branch, st.workDir), sandbox.ExecOpts{})
	if err != nil {
		return fmt.Errorf("provision: clone: %w", err)
	}
	if res.Ok() {
		return nil
	}

	p.warn("branch %q could not be cloned, falling back to the default branch", branch)
	if p.Logger != nil {
		p.Logger.WarnContext(ctx, "branch clone failed, using default branch",
			"branch", branch, "output", res.Combined())
	}
	res, err = p.Sandbox.Exec(ctx, st.name, cloneScript(repoURL, "", st.workDir), sandbox.ExecOpts{})
	return runner.RequireOk("provision: clone default branch", res, err)
}

func cloneScript(repoURL, branch, dir string) string {
	var script shellutil.Script
	script.Raw("rm -rf " + shellutil.Quote(dir))
	argv := []string{"git", "clone", "--depth", "1"}
	if branch != "" {
		argv = append(argv, "--branch", branch)
	}
	argv = append(argv, "--", repoURL, dir)
	script.Run(argv...)
	return script.String()
}

// configSync copies the local agent config directory into the sandbox,
// excluding host-specific binary subpaths so the remote side provisions
// its own platform binaries. Everything here is best-effort.
func (p *Pipeline) configSync(ctx context.Context, st *state) {
	home := p.HomeDir
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			p.warn("config sync skipped: %v", err)
			return
		}
	}
	configDir := filepath.Join(home, ".claude")
	if _, err := os.Stat(configDir); err != nil {
		fmt.Fprintf(p.stderr(), "note: no local agent config at %s, skipping sync\n", configDir)
		return
	}

	archive, err := os.CreateTemp("", "cockpit-config-*.tgz")
	if err != nil {
		p.warn("config sync skipped: %v", err)
		return
	}
	archive.Close()
	defer os.Remove(archive.Name())

	// Host-specific binaries must not leak into the sandbox: the agent
	// re-downloads its own platform builds on first run.
	res, err := p.Runner.Run(ctx, runner.Request{
		Cmd: "tar",
		Args: []string{
			"-C", home,
			"--exclude", ".claude/local",
			"--exclude", ".claude/bin",
			"-czf", archive.Name(),
			".claude",
		},
	})
	if err := runner.RequireOk("archive agent config", res, err); err != nil {
		p.warn("config sync skipped: %v", err)
		return
	}

	const remoteArchive = "/tmp/cockpit-config.tgz"
	var script shellutil.Script
	script.Raw("tar -xzf " + shellutil.Quote(remoteArchive) + " -C " + shellutil.Quote(remoteHome))
	script.Raw("rm -f " + shellutil.Quote(remoteArchive))
	execRes, err := p.Sandbox.Exec(ctx, st.name, script.String(), sandbox.ExecOpts{
		Files: []sandbox.FileInjection{{Local: archive.Name(), Remote: remoteArchive}},
	})
	if err := runner.RequireOk("extract agent config", execRes, err); err != nil {
		p.warn("config sync failed: %v", err)
	}
}

// sanityCheck verifies the agent resolves on PATH, reports a version, and
// the clone directory is a git checkout. Any failure is fatal.
func (p *Pipeline) sanityCheck(ctx context.Context, st *state) error {
	var script shellutil.Script
	script.Raw(pathPrefixLine())
	script.Raw("command -v " + agentBinary + " >/dev/null")
	script.Raw(agentBinary + " --version")
	script.Run("git", "-C", st.workDir, "rev-parse", "--is-inside-work-tree")
	res, err := p.Sandbox.Exec(ctx, st.name, script.String(), sandbox.ExecOpts{})
	return runner.RequireOk("provision: sanity check", res, err)
}

func pathPrefixLine() string {
	return `export PATH=` + shellutil.Quote(agentBinDir) + `":$PATH"`
}

func attachScript() string {
	var script shellutil.Script
	script.Raw(pathPrefixLine())
	script.Raw("exec bash -i")
	return script.String()
}
