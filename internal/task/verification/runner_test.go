package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/internal/task/models"
)

func enabledRunner(allow ...string) *Runner {
	return NewRunner(Config{
		Enabled:         true,
		ExecToolEnabled: true,
		AllowList:       allow,
	}, logger.Default())
}

func intPtr(v int) *int { return &v }

func TestRunDisabled(t *testing.T) {
	for _, cfg := range []Config{
		{Enabled: false, ExecToolEnabled: true},
		{Enabled: true, ExecToolEnabled: false},
	} {
		r := NewRunner(cfg, logger.Default())
		report, err := r.Run(context.Background(), &models.VerificationSpec{
			Commands: []models.VerificationCommand{{Cmd: "echo"}},
		}, "")
		require.NoError(t, err)
		assert.False(t, report.Enabled)
		assert.Empty(t, report.Results)
	}
}

func TestRunRejectsNonAllowListed(t *testing.T) {
	r := enabledRunner("echo")
	report, err := r.Run(context.Background(), &models.VerificationSpec{
		Commands: []models.VerificationCommand{{Cmd: "rm", Args: []string{"-rf", "/"}}},
	}, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].OK)
	assert.Contains(t, report.Results[0].Notes[0], "not allow-listed")
}

func TestRunCommandPassWithAssertions(t *testing.T) {
	r := enabledRunner("echo")
	report, err := r.Run(context.Background(), &models.VerificationSpec{
		Commands: []models.VerificationCommand{{
			Cmd:            "echo",
			Args:           []string{"all tests passed"},
			AssertContains: []string{"passed"},
			AssertRegex:    []string{`all \w+ passed`},
		}},
	}, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.True(t, res.OK)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.True(t, report.OK())
}

func TestRunCommandAssertionFailure(t *testing.T) {
	r := enabledRunner("echo")
	report, err := r.Run(context.Background(), &models.VerificationSpec{
		Commands: []models.VerificationCommand{{
			Cmd:               "echo",
			Args:              []string{"2 tests FAILED"},
			AssertNotContains: []string{"FAILED"},
		}},
	}, "")
	require.NoError(t, err)
	res := report.Results[0]
	assert.False(t, res.OK, "exit code matched but assertion failed")
	assert.Contains(t, res.Notes[0], "forbidden")
}

func TestRunCommandExpectedExitCode(t *testing.T) {
	r := enabledRunner("sh", "false")

	report, err := r.Run(context.Background(), &models.VerificationSpec{
		Commands: []models.VerificationCommand{
			{Cmd: "sh", Args: []string{"-c", "exit 2"}, ExpectExitCode: intPtr(2)},
			{Cmd: "false"},
		},
	}, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].OK, "matching non-zero exit code passes")
	assert.False(t, report.Results[1].OK, "default expected exit code is 0")
	assert.Equal(t, 0, report.Results[1].ExpectedExitCode)
}

func TestRunCommandTimeout(t *testing.T) {
	r := enabledRunner("sleep")
	start := time.Now()
	report, err := r.Run(context.Background(), &models.VerificationSpec{
		Commands: []models.VerificationCommand{{
			Cmd:       "sleep",
			Args:      []string{"30"},
			TimeoutMs: 100,
		}},
	}, "")
	require.NoError(t, err)
	res := report.Results[0]
	assert.True(t, res.TimedOut)
	assert.False(t, res.OK, "a timed-out command can never pass")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunOrderPreserved(t *testing.T) {
	r := enabledRunner("echo")
	report, err := r.Run(context.Background(), &models.VerificationSpec{
		Commands: []models.VerificationCommand{
			{Cmd: "echo", Args: []string{"one"}},
			{Cmd: "echo", Args: []string{"two"}},
		},
	}, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Contains(t, report.Results[0].Stdout, "one")
	assert.Contains(t, report.Results[1].Stdout, "two")
}

func TestSmokeWithoutBrowserBin(t *testing.T) {
	r := enabledRunner()
	report, err := r.Run(context.Background(), &models.VerificationSpec{
		UISmokes: []models.UISmoke{{Suite: "login"}},
	}, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].OK)
	assert.Equal(t, "login", report.Results[0].Suite)
}

func TestLoadSuiteMissingDir(t *testing.T) {
	r := enabledRunner()
	_, err := r.loadSuite("any")
	assert.Error(t, err)
}

func TestLoadSuiteFromYAML(t *testing.T) {
	dir := t.TempDir()
	suiteYAML := `
name: login
readyUrl: http://127.0.0.1:3000/health
steps:
  - action: navigate
    target: http://127.0.0.1:3000/login
  - action: assert_text
    target: body
    value: Sign in
`
	require.NoError(t, writeFile(dir+"/login.yaml", suiteYAML))

	r := NewRunner(Config{Enabled: true, ExecToolEnabled: true, SuiteDir: dir}, logger.Default())
	suite, err := r.loadSuite("login")
	require.NoError(t, err)
	assert.Equal(t, "login", suite.Name)
	require.Len(t, suite.Steps, 2)
	assert.Equal(t, "navigate", suite.Steps[0].Action)

	// Path traversal collapses to the base name.
	_, err = r.loadSuite("../../etc/passwd")
	assert.Error(t, err)
}
