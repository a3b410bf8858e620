package adapters

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/agent/cliproc"
	"github.com/adskit/ads/internal/common/logger"
)

func testCLIAdapter(sandbox agent.SandboxMode) *CLIAdapter {
	return NewCLIAdapter(CLIProfile{
		ID:      agent.IDCodex,
		Name:    "Codex",
		Vendor:  "openai",
		Binary:  "codex",
		Wire:    WireCanonical,
		Sandbox: sandbox,
	}, cliproc.NewRunner(logger.Default()), logger.Default())
}

func TestBuildArgsDefault(t *testing.T) {
	a := testCLIAdapter(agent.SandboxWorkspaceWrite)
	args := a.buildArgs("", "", "", nil)
	assert.Equal(t, []string{"exec", "--full-auto", "--json", "--skip-git-repo-check", "-"}, args)
}

func TestBuildArgsResumeAndCwd(t *testing.T) {
	a := testCLIAdapter(agent.SandboxWorkspaceWrite)
	args := a.buildArgs("thread-9", "/work", "", nil)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "resume thread-9")
	assert.Contains(t, joined, "--cd /work")
	assert.Equal(t, "-", args[len(args)-1], "prompt must be read from stdin")
}

func TestBuildArgsSandboxModes(t *testing.T) {
	ro := testCLIAdapter(agent.SandboxReadOnly)
	assert.Contains(t, strings.Join(ro.buildArgs("", "", "", nil), " "), "--sandbox read-only")

	danger := testCLIAdapter(agent.SandboxDangerFull)
	assert.Contains(t, strings.Join(danger.buildArgs("", "", "", nil), " "), "--dangerously-bypass-approvals-and-sandbox")
}

func TestBuildArgsModelAndImages(t *testing.T) {
	a := testCLIAdapter(agent.SandboxWorkspaceWrite)
	args := a.buildArgs("", "", "gpt-5.2", []string{"/tmp/a.png", "/tmp/b.png"})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--model gpt-5.2")
	assert.Contains(t, joined, "--image /tmp/a.png")
	assert.Contains(t, joined, "--image /tmp/b.png")
}

func TestCLIAdapterStatus(t *testing.T) {
	a := testCLIAdapter(agent.SandboxWorkspaceWrite)
	st := a.Status()
	assert.True(t, st.Ready)

	unconfigured := NewCLIAdapter(CLIProfile{ID: agent.IDDroid}, cliproc.NewRunner(logger.Default()), logger.Default())
	st = unconfigured.Status()
	assert.False(t, st.Ready)
	assert.NotEmpty(t, st.Error)
}

func TestCLIAdapterThreadLifecycle(t *testing.T) {
	a := testCLIAdapter(agent.SandboxWorkspaceWrite)
	assert.Empty(t, a.GetThreadID())
	a.ResumeThread("t-42")
	assert.Equal(t, "t-42", a.GetThreadID())
	a.Reset()
	assert.Empty(t, a.GetThreadID())
}

func TestValidateAgainstSchema(t *testing.T) {
	schema := []byte(`{"type":"object","required":["ok"],"properties":{"ok":{"type":"boolean"}}}`)

	assert.NoError(t, validateAgainstSchema(`{"ok":true}`, schema))
	assert.Error(t, validateAgainstSchema(`{"nope":1}`, schema))
	assert.Error(t, validateAgainstSchema(`not json`, schema))
}
