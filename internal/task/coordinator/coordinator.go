// Package coordinator drives the supervisor-delegate-verify loop over the
// durable task store.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adskit/ads/internal/agent"
	apperrors "github.com/adskit/ads/internal/common/errors"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/internal/orchestrator"
	"github.com/adskit/ads/internal/task/models"
	"github.com/adskit/ads/internal/task/repository"
)

// Config tunes one coordinator instance.
type Config struct {
	MaxSupervisorRounds    int
	MaxDelegations         int
	MaxParallelDelegations int
	TaskTimeout            time.Duration
	MaxTaskAttempts        int
	RetryBackoff           time.Duration
	SupervisorAgentID      string
	Namespace              string
	SessionID              string
}

func (c *Config) withDefaults() {
	if c.MaxSupervisorRounds <= 0 {
		c.MaxSupervisorRounds = 3
	}
	if c.MaxDelegations <= 0 {
		c.MaxDelegations = 4
	}
	if c.MaxParallelDelegations <= 0 {
		c.MaxParallelDelegations = 2
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Minute
	}
	if c.MaxTaskAttempts <= 0 {
		c.MaxTaskAttempts = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
}

// Invoker routes a delegate prompt to an agent. Satisfied by the
// orchestrator.
type Invoker interface {
	InvokeAgent(ctx context.Context, id string, input agent.Input, opts agent.SendOptions) (*agent.SendResult, error)
	AgentMetadata(id string) (agent.Metadata, bool)
}

// Verifier runs the machine checks attached to a task spec.
type Verifier interface {
	Run(ctx context.Context, spec *models.VerificationSpec, cwd string) (*models.VerificationReport, error)
}

// RunSupervisor sends a follow-up prompt to the supervisor and returns its
// reply.
type RunSupervisor func(ctx context.Context, prompt string) (*agent.SendResult, error)

// Executed is the record of one task run within a round.
type Executed struct {
	Spec   *models.TaskSpec
	Result *models.TaskResult
	Report *models.VerificationReport
	Err    error
}

// Outcome is the result of a full coordination run.
type Outcome struct {
	Response string
	Rounds   int
}

// Coordinator owns the loop state for one run scope. The store reference is
// borrowed for the duration of Run.
type Coordinator struct {
	cfg      Config
	invoker  Invoker
	repo     repository.Repository
	verifier Verifier
	locks    *agentLocks
	logger   *logger.Logger
	cwd      string
}

// New creates a Coordinator.
func New(cfg Config, invoker Invoker, repo repository.Repository, verifier Verifier, cwd string, log *logger.Logger) *Coordinator {
	cfg.withDefaults()
	return &Coordinator{
		cfg:      cfg,
		invoker:  invoker,
		repo:     repo,
		verifier: verifier,
		locks:    newAgentLocks(),
		logger:   log.WithComponent("coordinator"),
		cwd:      cwd,
	}
}

func (c *Coordinator) scope() repository.Scope {
	return repository.Scope{Namespace: c.cfg.Namespace, SessionID: c.cfg.SessionID}
}

// Run executes the supervisor-delegate-verify loop starting from the
// supervisor's initial reply. On normal completion the initial text is
// returned with each directive block replaced by its task's final summary;
// when the supervisor's verdict stays unparseable its last text is returned
// verbatim. Cancellation propagates immediately.
func (c *Coordinator) Run(ctx context.Context, initial *agent.SendResult, runSupervisor RunSupervisor) (*Outcome, error) {
	var reworkQueue []*models.TaskSpec
	blocks := make(map[string]string)    // task id -> directive block text
	summaries := make(map[string]string) // task id -> latest summary
	result := initial
	rounds := 0

	for rounds < c.cfg.MaxSupervisorRounds {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Cancelled("coordination aborted")
		}

		directives := orchestrator.ParseDelegations(result.Response, c.cfg.SupervisorAgentID)
		toRun, deferred := c.selectRound(directives, reworkQueue, blocks)
		reworkQueue = deferred
		if len(toRun) == 0 {
			break
		}
		rounds++

		executed, err := c.runRound(ctx, toRun)
		if err != nil {
			return nil, err
		}
		for _, e := range executed {
			summaries[e.Spec.TaskID] = c.formatDelegateSummary(e)
		}

		verdictReply, err := runSupervisor(ctx, buildVerdictPrompt(executed))
		if err != nil {
			if apperrors.IsCancelled(err) {
				return nil, err
			}
			c.logger.Error("supervisor round failed", zap.Error(err))
			return c.outcome(initial.Response, result.Response, blocks, summaries, rounds), nil
		}
		result = verdictReply

		verdict, err := ParseVerdict(result.Response)
		if err != nil {
			// One machine-readable-only retry; after that the loop halts and
			// the supervisor's last text is returned verbatim.
			retryReply, retryErr := runSupervisor(ctx, verdictRetryPrompt)
			if retryErr != nil {
				if apperrors.IsCancelled(retryErr) {
					return nil, retryErr
				}
				return &Outcome{Response: result.Response, Rounds: rounds}, nil
			}
			verdict, err = ParseVerdict(retryReply.Response)
			if err != nil {
				c.logger.Warn("supervisor verdict invalid after retry", zap.Error(err))
				return &Outcome{Response: retryReply.Response, Rounds: rounds}, nil
			}
			result = retryReply
		}

		rework, err := c.applyVerdicts(ctx, verdict, executed)
		if err != nil {
			return nil, err
		}
		reworkQueue = append(reworkQueue, rework...)
	}

	return c.outcome(initial.Response, result.Response, blocks, summaries, rounds), nil
}

// outcome composes the user-visible text: the initial supervisor reply with
// every executed directive block swapped for its task's summary. When no
// block was executed the supervisor's last text stands.
func (c *Coordinator) outcome(initialText, lastText string, blocks, summaries map[string]string, rounds int) *Outcome {
	if len(blocks) == 0 {
		return &Outcome{Response: lastText, Rounds: rounds}
	}
	text := initialText
	for taskID, block := range blocks {
		summary, ok := summaries[taskID]
		if !ok {
			continue
		}
		text = strings.Replace(text, block, summary, 1)
	}
	return &Outcome{Response: text, Rounds: rounds}
}

// formatDelegateSummary renders the collaboration line shown in place of a
// directive block.
func (c *Coordinator) formatDelegateSummary(e *Executed) string {
	name := e.Spec.AgentID
	if meta, ok := c.invoker.AgentMetadata(e.Spec.AgentID); ok {
		name = meta.Name
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("🤝 %s(协作代理) 执行失败: %v", name, e.Err)
	case e.Result != nil:
		return fmt.Sprintf("🤝 %s(协作代理) %s", name, strings.TrimSpace(e.Result.Summary))
	default:
		return fmt.Sprintf("🤝 %s(协作代理) 未返回结果", name)
	}
}

// selectRound takes up to MaxDelegations specs, fresh directives first, then
// queued rework. Leftover rework stays queued; leftover directives only run
// again if the supervisor re-emits them.
func (c *Coordinator) selectRound(directives []orchestrator.Directive, rework []*models.TaskSpec, blocks map[string]string) (toRun, deferred []*models.TaskSpec) {
	for _, d := range directives {
		if len(toRun) >= c.cfg.MaxDelegations {
			c.logger.Warn("delegation dropped, round is full", zap.String("agent_id", d.AgentID))
			continue
		}
		spec := &models.TaskSpec{
			TaskID:   uuid.New().String(),
			AgentID:  d.AgentID,
			Revision: 1,
			Goal:     d.Prompt,
		}
		blocks[spec.TaskID] = d.Block
		toRun = append(toRun, spec)
	}
	for _, spec := range rework {
		if len(toRun) >= c.cfg.MaxDelegations {
			deferred = append(deferred, spec)
			continue
		}
		toRun = append(toRun, spec)
	}
	return toRun, deferred
}

// runRound executes the round's specs, bounded by MaxParallelDelegations.
// Per-task failures are recorded, never propagated; only cancellation aborts
// the round.
func (c *Coordinator) runRound(ctx context.Context, specs []*models.TaskSpec) ([]*Executed, error) {
	executed := make([]*Executed, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxParallelDelegations)

	for i, spec := range specs {
		g.Go(func() error {
			e := c.executeOne(gctx, spec)
			executed[i] = e
			if e.Err != nil && apperrors.IsCancelled(e.Err) && ctx.Err() != nil {
				return e.Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.Cancelled("coordination aborted")
	}
	return executed, nil
}

// executeOne runs a single task spec through the per-agent lock, the attempt
// loop and verification.
func (c *Coordinator) executeOne(ctx context.Context, spec *models.TaskSpec) *Executed {
	e := &Executed{Spec: spec}
	log := c.logger.WithTask(spec.TaskID, spec.Revision).WithAgentID(spec.AgentID)

	release, err := c.locks.Acquire(ctx, spec.AgentID)
	if err != nil {
		e.Err = apperrors.Cancelled("coordination aborted")
		return e
	}
	defer release()

	task := c.taskRow(spec, models.TaskStatusAssigned)
	if err := c.repo.UpsertTask(ctx, task); err != nil {
		log.Error("failed to persist task", zap.Error(err))
		e.Err = err
		return e
	}

	prompt := buildDelegatePrompt(spec)
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxTaskAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.cfg.RetryBackoff * time.Duration(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				e.Err = apperrors.Cancelled("coordination aborted")
				return e
			}
		}

		task.Attempts = attempt
		task.Status = models.TaskStatusInProgress
		if err := c.repo.UpsertTask(ctx, task); err != nil {
			log.Error("failed to persist attempt", zap.Error(err))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
		res, err := c.invoker.InvokeAgent(attemptCtx, spec.AgentID, agent.TextInput(prompt), agent.SendOptions{Streaming: false})
		cancel()

		if err != nil {
			// Only an outer abort stops retries; a per-task timeout is a
			// transport failure like any other.
			if apperrors.IsCancelled(err) && ctx.Err() != nil {
				e.Err = apperrors.Cancelled("coordination aborted")
				return e
			}
			lastErr = err
			c.recordFailure(ctx, task, "", err)
			log.Warn("task attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		result, err := ParseTaskResult(res.Response)
		if err != nil {
			lastErr = apperrors.Schema(err.Error())
			c.recordFailure(ctx, task, res.Response, lastErr)
			log.Warn("task result unparseable", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		e.Result = result
		resultJSON, _ := json.Marshal(result)
		task.Result = resultJSON
		task.Status = models.StatusForResult(result.Status)
		task.LastError = ""
		if err := c.repo.UpsertTask(ctx, task); err != nil {
			log.Error("failed to persist result", zap.Error(err))
		}
		break
	}

	if e.Result == nil {
		task.Status = models.TaskStatusFailed
		if lastErr != nil {
			task.LastError = trimError(lastErr)
		}
		if err := c.repo.UpsertTask(ctx, task); err != nil {
			log.Error("failed to persist failure", zap.Error(err))
		}
		e.Err = lastErr
		return e
	}

	if c.verifier != nil && len(spec.Verification.Commands)+len(spec.Verification.UISmokes) > 0 {
		report, err := c.verifier.Run(ctx, &spec.Verification, c.cwd)
		if err != nil {
			log.Warn("verification run failed", zap.Error(err))
		} else {
			e.Report = report
			reportJSON, _ := json.Marshal(report)
			task.Verification = reportJSON
			if err := c.repo.UpsertTask(ctx, task); err != nil {
				log.Error("failed to persist verification", zap.Error(err))
			}
		}
	}
	return e
}

// Resume re-executes a persisted task from its stored spec, for the
// front-door task_resume message.
func (c *Coordinator) Resume(ctx context.Context, taskID string) (string, error) {
	task, err := c.repo.GetTask(ctx, c.scope(), taskID)
	if err != nil {
		return "", err
	}
	var spec models.TaskSpec
	if err := json.Unmarshal(task.Spec, &spec); err != nil {
		return "", apperrors.Fatal("stored task spec is malformed", err)
	}
	e := c.executeOne(ctx, &spec)
	if e.Err != nil && apperrors.IsCancelled(e.Err) {
		return "", e.Err
	}
	summary := c.formatDelegateSummary(e)
	if e.Report != nil {
		summary += "\n" + formatVerificationSummary(e.Report)
	}
	return summary, nil
}

// applyVerdicts persists the supervisor's decisions. Rejected tasks get a
// bumped revision, cleared outputs and a place in the rework queue.
func (c *Coordinator) applyVerdicts(ctx context.Context, verdict *models.SupervisorVerdict, executed []*Executed) ([]*models.TaskSpec, error) {
	byID := make(map[string]*Executed, len(executed))
	for _, e := range executed {
		byID[e.Spec.TaskID] = e
	}

	var rework []*models.TaskSpec
	for _, v := range verdict.Verdicts {
		e, ok := byID[v.TaskID]
		if !ok {
			c.logger.Warn("verdict for unknown task ignored", zap.String("task_id", v.TaskID))
			continue
		}
		task, err := c.repo.GetTask(ctx, c.scope(), v.TaskID)
		if err != nil {
			c.logger.Error("verdict target not in store", zap.String("task_id", v.TaskID), zap.Error(err))
			continue
		}

		if v.Accept {
			task.Status = models.TaskStatusAccepted
			if err := c.repo.UpsertTask(ctx, task); err != nil {
				return nil, err
			}
			task.Status = models.TaskStatusDone
			if err := c.repo.UpsertTask(ctx, task); err != nil {
				return nil, err
			}
			continue
		}

		task.Status = models.TaskStatusRejected
		if err := c.repo.UpsertTask(ctx, task); err != nil {
			return nil, err
		}
		if err := c.repo.ClearOutputs(ctx, c.scope(), v.TaskID); err != nil {
			return nil, err
		}

		next := *e.Spec
		next.ParentTaskID = e.Spec.TaskID
		next.Revision = e.Spec.Revision + 1
		if v.Note != "" {
			next.Goal = e.Spec.Goal + "\n\nRework note from supervisor:\n" + v.Note
		}

		task.Status = models.TaskStatusRework
		task.Revision = next.Revision
		specJSON, _ := json.Marshal(&next)
		task.Spec = specJSON
		task.Result = nil
		task.Verification = nil
		if err := c.repo.UpsertTask(ctx, task); err != nil {
			return nil, err
		}

		rework = append(rework, &next)
	}
	return rework, nil
}

func (c *Coordinator) taskRow(spec *models.TaskSpec, status models.TaskStatus) *models.Task {
	specJSON, _ := json.Marshal(spec)
	return &models.Task{
		TaskID:       spec.TaskID,
		ParentTaskID: spec.ParentTaskID,
		Namespace:    c.cfg.Namespace,
		SessionID:    c.cfg.SessionID,
		AgentID:      spec.AgentID,
		Revision:     spec.Revision,
		Status:       status,
		Spec:         specJSON,
	}
}

// recordFailure appends the raw output to task_messages and records
// last_error for the next attempt.
func (c *Coordinator) recordFailure(ctx context.Context, task *models.Task, rawOutput string, cause error) {
	task.LastError = trimError(cause)
	if err := c.repo.UpsertTask(ctx, task); err != nil {
		c.logger.Error("failed to persist last_error", zap.Error(err))
	}
	if rawOutput == "" {
		return
	}
	msg := &models.TaskMessage{
		TaskID:    task.TaskID,
		Namespace: c.cfg.Namespace,
		SessionID: c.cfg.SessionID,
		Role:      "agent",
		Kind:      "raw_output",
		Payload:   rawOutput,
	}
	if err := c.repo.AppendMessage(ctx, msg); err != nil {
		c.logger.Error("failed to append raw output", zap.Error(err))
	}
}

func trimError(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
