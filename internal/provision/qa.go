package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/justinmoon/cockpit/internal/runner"
	"github.com/justinmoon/cockpit/internal/sandbox"
	"github.com/justinmoon/cockpit/internal/shellutil"
)

// QA sentinel values: the one-turn check asks the agent to write this file
// with exactly this content, then reads it back.
const (
	qaFileName = "qa_check.txt"
	qaExpected = "cockpit-qa-ok"
)

// qaHelp verifies the agent binary answers its help command. The sandbox is
// destroyed afterward by cleanup regardless of outcome (QA runs never bind).
func (p *Pipeline) qaHelp(ctx context.Context, st *state) error {
	var script shellutil.Script
	script.Raw(pathPrefixLine())
	script.Raw(agentBinary + " --help >/dev/null")
	res, err := p.Sandbox.Exec(ctx, st.name, script.String(), sandbox.ExecOpts{})
	if err := runner.RequireOk("qa: agent help", res, err); err != nil {
		return err
	}
	fmt.Fprintln(p.stderr(), "qa: agent help check passed")
	return nil
}

// qaTurn has the agent execute exactly one turn that must produce a file
// with known content, then reads the file back and compares.
func (p *Pipeline) qaTurn(ctx context.Context, st *state) error {
	prompt := fmt.Sprintf("Create a file named %s in the current directory containing exactly: %s", qaFileName, qaExpected)

	var script shellutil.Script
	script.Raw(pathPrefixLine())
	script.Raw("cd " + shellutil.Quote(st.workDir))
	script.Run(agentBinary, "-p", prompt, "--dangerously-skip-permissions")
	script.Raw("cat " + shellutil.Quote(qaFileName))
	res, err := p.Sandbox.Exec(ctx, st.name, script.String(), sandbox.ExecOpts{})
	if err := runner.RequireOk("qa: one-turn check", res, err); err != nil {
		return err
	}
	if !strings.Contains(res.Stdout, qaExpected) {
		return fmt.Errorf("qa: %s does not contain %q:\n%s", qaFileName, qaExpected, strings.TrimSpace(res.Stdout))
	}
	fmt.Fprintln(p.stderr(), "qa: one-turn check passed")
	return nil
}
