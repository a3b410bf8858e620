package verification

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/adskit/ads/internal/task/models"
)

const (
	defaultReadyTimeout  = 60 * time.Second
	defaultShutdownGrace = 5 * time.Second
	readyPollInterval    = 500 * time.Millisecond
)

// runSmoke executes one UI smoke: start the managed service if declared,
// wait for readiness, run the ordered browser steps, always stop the service.
func (r *Runner) runSmoke(ctx context.Context, smoke models.UISmoke, cwd string) models.VerificationResult {
	result := models.VerificationResult{Suite: smoke.Suite, Cmd: r.cfg.BrowserBin}
	start := time.Now()
	defer func() { result.ElapsedMs = time.Since(start).Milliseconds() }()

	if r.cfg.BrowserBin == "" {
		result.Notes = append(result.Notes, "no browser-control binary configured")
		return result
	}

	steps := smoke.Steps
	if len(steps) == 0 && smoke.Suite != "" {
		suite, err := r.loadSuite(smoke.Suite)
		if err != nil {
			result.Notes = append(result.Notes, err.Error())
			return result
		}
		steps = suite.Steps
		if smoke.Service == nil {
			smoke.Service = suite.Service
		}
		if smoke.ReadyURL == "" {
			smoke.ReadyURL = suite.ReadyURL
		}
	}

	var service *exec.Cmd
	if smoke.Service != nil {
		var err error
		service, err = r.startService(smoke.Service, cwd)
		if err != nil {
			result.Notes = append(result.Notes, fmt.Sprintf("service start failed: %v", err))
			return result
		}
		grace := defaultShutdownGrace
		if smoke.ShutdownGraceMs > 0 {
			grace = time.Duration(smoke.ShutdownGraceMs) * time.Millisecond
		}
		defer r.stopService(service, grace)
	}

	if smoke.ReadyURL != "" {
		timeout := defaultReadyTimeout
		if smoke.ReadyTimeoutMs > 0 {
			timeout = time.Duration(smoke.ReadyTimeoutMs) * time.Millisecond
		}
		if err := waitReady(ctx, smoke.ReadyURL, timeout); err != nil {
			result.TimedOut = true
			result.Notes = append(result.Notes, err.Error())
			return result
		}
	}

	for i, step := range steps {
		if err := r.runStep(ctx, step, cwd); err != nil {
			result.Notes = append(result.Notes, fmt.Sprintf("step %d (%s) failed: %v", i+1, step.Action, err))
			if shot, shotErr := r.captureScreenshot(ctx, smoke.Suite, i+1, cwd); shotErr == nil {
				result.Notes = append(result.Notes, "screenshot: "+shot)
			}
			if errs := r.collectPageErrors(ctx, cwd); errs != "" {
				result.Notes = append(result.Notes, "page errors: "+errs)
			}
			return result
		}
	}

	exitZero := 0
	result.ExitCode = &exitZero
	result.OK = true
	return result
}

// runStep drives the browser-control binary for one instruction.
func (r *Runner) runStep(ctx context.Context, step models.SmokeStep, cwd string) error {
	args := []string{step.Action}
	if step.Target != "" {
		args = append(args, step.Target)
	}
	if step.Value != "" {
		args = append(args, step.Value)
	}
	cmd := exec.CommandContext(ctx, r.cfg.BrowserBin, args...)
	cmd.Dir = cwd
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, capped(string(out)))
	}
	return nil
}

func (r *Runner) captureScreenshot(ctx context.Context, suite string, step int, cwd string) (string, error) {
	dir := r.cfg.ArtifactDir
	if dir == "" {
		dir = cwd
	}
	path := filepath.Join(dir, fmt.Sprintf("smoke-%s-step%d.png", suite, step))
	cmd := exec.CommandContext(ctx, r.cfg.BrowserBin, "screenshot", path)
	cmd.Dir = cwd
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return path, nil
}

func (r *Runner) collectPageErrors(ctx context.Context, cwd string) string {
	cmd := exec.CommandContext(ctx, r.cfg.BrowserBin, "errors")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return capped(string(out))
}

func (r *Runner) startService(svc *models.SmokeService, cwd string) (*exec.Cmd, error) {
	dir := svc.Cwd
	if dir == "" {
		dir = cwd
	}
	cmd := exec.Command(svc.Cmd, svc.Args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	r.logger.Debug("smoke service started", zap.String("cmd", svc.Cmd), zap.Int("pid", cmd.Process.Pid))
	return cmd, nil
}

// stopService terminates the managed service with SIGTERM, escalating to
// SIGKILL after the grace period.
func (r *Runner) stopService(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}
}

// waitReady polls the URL until a 2xx response or the timeout elapses.
func waitReady(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode/100 == 2 {
				return nil
			}
		}
		time.Sleep(readyPollInterval)
	}
	return fmt.Errorf("service not ready at %s after %s", url, timeout)
}
