// Package verification executes the machine checks attached to task specs:
// allow-listed commands with output assertions, plus browser smoke suites.
package verification

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/internal/task/models"
)

const (
	defaultCommandTimeout = 5 * time.Minute
	outputCap             = 32 * 1024
)

// Config tunes the runner.
type Config struct {
	// Enabled mirrors ADS_TASK_VERIFICATION_ENABLED; ExecToolEnabled mirrors
	// ENABLE_AGENT_EXEC_TOOL. Both must be true for any check to run.
	Enabled         bool
	ExecToolEnabled bool
	AllowList       []string
	DefaultTimeout  time.Duration
	BrowserBin      string
	SuiteDir        string
	ArtifactDir     string
}

// Runner executes verification specs.
type Runner struct {
	cfg    Config
	logger *logger.Logger
	allow  map[string]bool
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, log *logger.Logger) *Runner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultCommandTimeout
	}
	allow := make(map[string]bool, len(cfg.AllowList))
	for _, name := range cfg.AllowList {
		allow[strings.TrimSpace(name)] = true
	}
	return &Runner{cfg: cfg, logger: log.WithComponent("verification"), allow: allow}
}

// Run executes the declared commands and smokes in order. Failures are
// recorded, never returned as errors; only a nil report signals the runner
// itself broke.
func (r *Runner) Run(ctx context.Context, spec *models.VerificationSpec, cwd string) (*models.VerificationReport, error) {
	report := &models.VerificationReport{Enabled: r.cfg.Enabled && r.cfg.ExecToolEnabled}
	if !report.Enabled {
		return report, nil
	}

	for _, cmd := range spec.Commands {
		report.Results = append(report.Results, r.runCommand(ctx, cmd, cwd))
	}
	for _, smoke := range spec.UISmokes {
		report.Results = append(report.Results, r.runSmoke(ctx, smoke, cwd))
	}
	return report, nil
}

func (r *Runner) runCommand(ctx context.Context, cmd models.VerificationCommand, cwd string) models.VerificationResult {
	expected := 0
	if cmd.ExpectExitCode != nil {
		expected = *cmd.ExpectExitCode
	}
	result := models.VerificationResult{
		Cmd:              cmd.Cmd,
		Args:             cmd.Args,
		ExpectedExitCode: expected,
	}

	if !r.allowed(cmd.Cmd) {
		result.Notes = append(result.Notes, fmt.Sprintf("command %q is not allow-listed", filepath.Base(cmd.Cmd)))
		return result
	}

	timeout := r.cfg.DefaultTimeout
	if cmd.TimeoutMs > 0 {
		timeout = time.Duration(cmd.TimeoutMs) * time.Millisecond
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := cmd.Cwd
	if dir == "" {
		dir = cwd
	}

	start := time.Now()
	execCmd := exec.CommandContext(cctx, cmd.Cmd, cmd.Args...)
	execCmd.Dir = dir
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	runErr := execCmd.Run()
	result.ElapsedMs = time.Since(start).Milliseconds()
	result.Stdout = capped(stdout.String())
	result.Stderr = capped(stderr.String())
	result.TimedOut = cctx.Err() == context.DeadlineExceeded

	if execCmd.ProcessState != nil {
		code := execCmd.ProcessState.ExitCode()
		result.ExitCode = &code
		if status, ok := execCmd.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			result.Signal = status.Signal().String()
		}
	} else if runErr != nil {
		result.Notes = append(result.Notes, runErr.Error())
		return result
	}

	combined := result.Stdout + "\n" + result.Stderr
	assertionsOK := r.checkAssertions(&result, cmd, combined)

	result.OK = !result.TimedOut &&
		result.ExitCode != nil && *result.ExitCode == expected &&
		assertionsOK

	r.logger.Debug("verification command finished",
		zap.String("cmd", cmd.Cmd),
		zap.Bool("ok", result.OK),
		zap.Int64("elapsed_ms", result.ElapsedMs))
	return result
}

func (r *Runner) checkAssertions(result *models.VerificationResult, cmd models.VerificationCommand, combined string) bool {
	ok := true
	for _, want := range cmd.AssertContains {
		if !strings.Contains(combined, want) {
			ok = false
			result.Notes = append(result.Notes, fmt.Sprintf("output does not contain %q", want))
		}
	}
	for _, unwanted := range cmd.AssertNotContains {
		if strings.Contains(combined, unwanted) {
			ok = false
			result.Notes = append(result.Notes, fmt.Sprintf("output contains forbidden %q", unwanted))
		}
	}
	for _, pattern := range cmd.AssertRegex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			ok = false
			result.Notes = append(result.Notes, fmt.Sprintf("bad assertion regex %q: %v", pattern, err))
			continue
		}
		if !re.MatchString(combined) {
			ok = false
			result.Notes = append(result.Notes, fmt.Sprintf("output does not match /%s/", pattern))
		}
	}
	return ok
}

// allowed matches the command's basename against the allow-list.
func (r *Runner) allowed(cmd string) bool {
	return r.allow[filepath.Base(cmd)]
}

func capped(s string) string {
	if len(s) > outputCap {
		return s[:outputCap]
	}
	return s
}
