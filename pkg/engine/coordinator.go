// Package engine implements Trinity's ExecutionEngine: the coordinator
// that drives a single process execution's state machine to completion.
// Grounded on the teacher's pkg/queue/worker.go and pool.go (claim,
// heartbeat-free single-threaded step loop, terminal status handling),
// recombined from "one worker polls one session queue" into "one
// coordinator drives one execution's DAG of steps, invoking a handler per
// step and re-resolving readiness after every transition."
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/dependency"
	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/events"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/repo"
	"github.com/trinity-run/trinity/pkg/stephandlers"
)

// Limits holds the ExecutionLimitService threshold (§4.11): a global cap
// on concurrently running executions. The per-process cap and its default
// come from ProcessDefinition.MaxInstances, not from Limits.
type Limits struct {
	MaxConcurrentExecutions int
}

func (l Limits) maxConcurrent() int {
	if l.MaxConcurrentExecutions > 0 {
		return l.MaxConcurrentExecutions
	}
	return 50
}

// Coordinator is Trinity's ExecutionEngine. One instance serves every
// execution; per-execution serialization comes from an internal lock
// keyed by execution id, not from one goroutine per execution.
type Coordinator struct {
	defs      repo.ProcessDefinitionRepo
	execs     repo.ProcessExecutionRepo
	outputs   repo.OutputStore
	approvals repo.ApprovalRepo
	handlers  *stephandlers.Registry
	resolver  *dependency.Resolver
	eval      *expression.Evaluator
	bus       *events.Bus
	clock     clock.Clock
	ids       clock.IdGen
	limits    Limits

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	parentsMu sync.RWMutex
	parents   map[string]parentLink // childExecutionID -> parent link
}

type parentLink struct {
	parentExecutionID string
	parentStepID       string
}

// New returns a coordinator wired to the given repositories, handler
// registry, and collaborators.
func New(
	defs repo.ProcessDefinitionRepo,
	execs repo.ProcessExecutionRepo,
	outputs repo.OutputStore,
	approvals repo.ApprovalRepo,
	handlers *stephandlers.Registry,
	resolver *dependency.Resolver,
	eval *expression.Evaluator,
	bus *events.Bus,
	c clock.Clock,
	ids clock.IdGen,
	limits Limits,
) *Coordinator {
	return &Coordinator{
		defs: defs, execs: execs, outputs: outputs, approvals: approvals,
		handlers: handlers, resolver: resolver, eval: eval, bus: bus,
		clock: c, ids: ids, limits: limits,
		locks:   make(map[string]*sync.Mutex),
		parents: make(map[string]parentLink),
	}
}

func (c *Coordinator) lockFor(executionID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	mu, ok := c.locks[executionID]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[executionID] = mu
	}
	return mu
}

// persist writes exec, advancing its sequence counter by exactly one and
// using the pre-advance value as the optimistic-concurrency token. Every
// write to the execution goes through this helper so the sequence bump is
// never coupled to whether an event happens to be published afterward —
// some transitions (a suspended timer/sub_process wait) persist with no
// event at all (§4.4: "on suspended... emit nothing extra").
func (c *Coordinator) persist(ctx context.Context, exec *models.ProcessExecution) error {
	expected := exec.Sequence()
	exec.NextSequence()
	return c.execs.Save(ctx, exec, expected)
}

// Start creates and runs a new execution of the named published process.
func (c *Coordinator) Start(ctx context.Context, processID string, input map[string]any, triggeredBy models.TriggeredBy) (*models.ProcessExecution, error) {
	def, err := c.defs.GetByID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if def.Status != models.ProcessPublished {
		return nil, errs.New(errs.Validation, "process is not published")
	}
	if err := c.checkLimits(ctx, def); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	exec := models.NewExecution(c.ids.NewID(), def, input, triggeredBy, now)
	if err := exec.Start(); err != nil {
		return nil, err
	}
	if err := c.persist(ctx, exec); err != nil {
		return nil, err
	}
	c.publish(exec, def, "", events.TypeProcessStarted, nil)

	mu := c.lockFor(exec.ExecutionID)
	mu.Lock()
	defer mu.Unlock()
	if err := c.advance(ctx, def, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// checkLimits enforces the global and per-process running-execution caps
// (§4.11) before a new execution is created.
func (c *Coordinator) checkLimits(ctx context.Context, def *models.ProcessDefinition) error {
	active, err := c.execs.ListActiveForProcess(ctx, def.ProcessID)
	if err != nil {
		return err
	}
	if len(active) >= def.MaxInstances() {
		return errs.New(errs.RateLimit, fmt.Sprintf("process %s already has %d running instances (limit %d)", def.ProcessID, len(active), def.MaxInstances()))
	}

	running, err := c.execs.ListByStatus(ctx, []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning, models.ExecutionPaused})
	if err != nil {
		return err
	}
	if len(running) >= c.limits.maxConcurrent() {
		return errs.New(errs.RateLimit, fmt.Sprintf("global concurrent execution limit reached (%d)", c.limits.maxConcurrent()))
	}
	return nil
}

// Resume re-enters the engine loop for an execution already at rest
// (paused, or between step transitions). Used by the recovery service,
// the retry sweeper, and the manual retry action in pkg/services.
func (c *Coordinator) Resume(ctx context.Context, executionID string) error {
	exec, err := c.execs.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}
	def, err := c.defs.GetByID(ctx, exec.ProcessID)
	if err != nil {
		return err
	}
	if exec.Status == models.ExecutionPaused {
		if err := exec.Unpause(); err != nil {
			return err
		}
	}

	mu := c.lockFor(executionID)
	mu.Lock()
	defer mu.Unlock()
	return c.advance(ctx, def, exec)
}

// Cancel terminates a running execution. Remaining non-terminal steps are
// left as-is (cancellation is best-effort: §9), but the execution itself
// is marked cancelled so nothing further dispatches for it.
func (c *Coordinator) Cancel(ctx context.Context, executionID, actor, reason string) error {
	mu := c.lockFor(executionID)
	mu.Lock()
	defer mu.Unlock()

	exec, err := c.execs.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return errs.New(errs.StateConflict, "execution already terminal")
	}
	if err := exec.Cancel(reason, c.clock.Now()); err != nil {
		return err
	}
	if err := c.persist(ctx, exec); err != nil {
		return err
	}
	def, _ := c.defs.GetByID(ctx, exec.ProcessID)
	c.publish(exec, def, "", events.TypeProcessCancelled, map[string]any{"actor": actor, "reason": reason})
	return nil
}

// SubmitApproval records a human decision and resumes the waiting step.
func (c *Coordinator) SubmitApproval(ctx context.Context, approvalID string, decision models.ApprovalStatus, actor, comment string) error {
	approval, err := c.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return err
	}
	if !approval.IsApprover(actor) {
		return errs.New(errs.AuthorizationDenied, "actor is not an approver for this step")
	}
	now := c.clock.Now()
	approval.Status = decision
	approval.DecidedBy = actor
	approval.Comment = comment
	approval.DecisionAt = &now
	if err := c.approvals.Save(ctx, approval); err != nil {
		return err
	}

	outcome := stephandlers.Resolve(approval)

	mu := c.lockFor(approval.ExecutionID)
	mu.Lock()
	defer mu.Unlock()

	exec, err := c.execs.GetByID(ctx, approval.ExecutionID)
	if err != nil {
		return err
	}
	def, err := c.defs.GetByID(ctx, exec.ProcessID)
	if err != nil {
		return err
	}
	step, ok := def.StepByID(approval.StepID)
	if !ok {
		return errs.New(errs.NotFound, "approval references an unknown step")
	}

	if err := c.persist(ctx, exec); err != nil {
		return err
	}
	c.publish(exec, def, approval.StepID, events.TypeApprovalDecided, map[string]any{"decision": decision, "decided_by": actor})

	if err := c.applyOutcome(ctx, def, exec, &step, outcome); err != nil {
		return err
	}
	return c.advance(ctx, def, exec)
}

// NotifyChildTerminal applies a sub-process child execution's terminal
// outcome to the parent step that launched it, satisfying
// events.ChildTerminalNotifier. Called from the ParentResumeSink, off the
// child's own execution lock.
func (c *Coordinator) NotifyChildTerminal(ctx context.Context, parentExecutionID, childExecutionID, childStepID string, outcome events.ChildOutcome) error {
	mu := c.lockFor(parentExecutionID)
	mu.Lock()
	defer mu.Unlock()

	exec, err := c.execs.GetByID(ctx, parentExecutionID)
	if err != nil {
		return err
	}
	def, err := c.defs.GetByID(ctx, exec.ProcessID)
	if err != nil {
		return err
	}
	step, ok := def.StepByID(childStepID)
	if !ok || step.SubProcess == nil {
		return errs.New(errs.NotFound, "parent step is not a sub_process step")
	}

	result, err := stephandlers.ApplyChildOutcome(step.SubProcess, outcome.Output, outcome.Succeeded, outcome.ErrorKind, outcome.ErrorMsg)
	if err != nil {
		return err
	}

	c.parentsMu.Lock()
	delete(c.parents, childExecutionID)
	c.parentsMu.Unlock()

	if err := c.applyOutcome(ctx, def, exec, &step, result); err != nil {
		return err
	}
	return c.advance(ctx, def, exec)
}

// ParentOf resolves the execution that launched childExecutionID as a
// sub_process step, satisfying events.ParentLookup.
func (c *Coordinator) ParentOf(childExecutionID string) (parentExecutionID, parentStepID string, ok bool) {
	c.parentsMu.RLock()
	defer c.parentsMu.RUnlock()
	link, found := c.parents[childExecutionID]
	if !found {
		return "", "", false
	}
	return link.parentExecutionID, link.parentStepID, true
}

// StartChild launches childProcessName as a new execution triggered by an
// agent (the launching sub_process step), satisfying
// stephandlers.ChildLauncher. The parent/step link itself is recorded by
// applySuspended once Dispatch returns, since StartChild has no
// parentStepID parameter to record it with directly.
func (c *Coordinator) StartChild(ctx context.Context, childProcessName string, input map[string]any, parentExecutionID string) (string, error) {
	def, err := c.defs.GetLatestVersion(ctx, childProcessName)
	if err != nil {
		return "", err
	}
	child, err := c.Start(ctx, def.ProcessID, input, models.TriggeredBy{Kind: models.TriggerAgent, ParentExecutionID: parentExecutionID})
	if err != nil {
		return "", err
	}
	return child.ExecutionID, nil
}

// AgentsInformedOf returns the agents configured to observe evt's step as
// non-participants, satisfying events.InformedAgents.
func (c *Coordinator) AgentsInformedOf(evt events.Event) []string {
	if evt.StepID == "" {
		return nil
	}
	def, err := c.defs.GetByID(context.Background(), evt.ProcessID)
	if err != nil {
		return nil
	}
	step, ok := def.StepByID(evt.StepID)
	if !ok || step.AgentTask == nil {
		return nil
	}
	return step.AgentTask.InformedAgents
}

// TriggerScheduled starts processID in response to a fired schedule,
// satisfying scheduler.Trigger.
func (c *Coordinator) TriggerScheduled(ctx context.Context, processID, scheduleID string) error {
	_, err := c.Start(ctx, processID, nil, models.TriggeredBy{Kind: models.TriggerSchedule, ScheduleID: scheduleID})
	return err
}

// advance runs the DependencyResolver/dispatch loop until no step is
// ready and none are freshly resolved, then finalizes the execution if
// every step has reached a terminal status.
func (c *Coordinator) advance(ctx context.Context, def *models.ProcessDefinition, exec *models.ProcessExecution) error {
	for {
		timerProgressed, err := c.pollDueTimers(ctx, def, exec)
		if err != nil {
			return err
		}

		result, err := c.resolver.Resolve(def, exec, c.exprContext(exec))
		if err != nil {
			return err
		}

		for _, skip := range result.Skips {
			if _, err := exec.SkipStep(skip.StepID, skip.Reason, c.clock.Now()); err != nil {
				continue
			}
			if err := c.persist(ctx, exec); err != nil {
				return err
			}
			c.publish(exec, def, skip.StepID, events.TypeStepSkipped, map[string]any{"reason": skip.Reason})
		}

		due := c.dueSteps(exec, result.Ready)
		if len(due) == 0 && !timerProgressed && len(result.Skips) == 0 {
			// Nothing is ready, nothing was skipped (a skip can unblock
			// downstream steps), no timer completed this pass, and every
			// ready step (if any) is a retry still waiting out its backoff
			// (not_before in the future): there is nothing more this call
			// can do until external time passes or the retry sweeper
			// re-enters advance.
			break
		}

		if len(due) > 0 {
			if err := c.dispatchBatch(ctx, def, exec, due); err != nil {
				return err
			}
		}

		if exec.AllTerminal() {
			break
		}
	}

	return c.finalize(ctx, def, exec)
}

// pollDueTimers completes every StepWaitingTimer step whose not_before has
// elapsed, via its handler's Poll. Run at the top of every advance pass so
// a timer whose wait_until already lies in the past resolves immediately
// rather than waiting for the retry sweeper's next tick (§8), and so a
// timer that elapses mid-execution is picked up the next time anything
// re-enters advance for this execution (a sibling step completing, a
// command, or the sweeper). Reports whether any step completed, since a
// completion can unblock downstream steps the resolver has not seen yet.
func (c *Coordinator) pollDueTimers(ctx context.Context, def *models.ProcessDefinition, exec *models.ProcessExecution) (bool, error) {
	now := c.clock.Now()
	progressed := false
	for _, step := range def.Steps {
		se := exec.Step(step.StepID)
		if se == nil || se.Status != models.StepWaitingTimer {
			continue
		}
		if se.NotBefore != nil && se.NotBefore.After(now) {
			continue
		}
		handler, ok := c.handlers.For(step.Kind)
		if !ok {
			continue
		}
		outcome, err := handler.Poll(ctx, exec, &step, c.exprContext(exec))
		if err != nil {
			return progressed, err
		}
		if outcome.Kind == models.OutcomeSuspended {
			// Handler's own clock check says it isn't due after all.
			continue
		}
		if err := c.applyOutcome(ctx, def, exec, &step, outcome); err != nil {
			return progressed, err
		}
		progressed = true
	}
	return progressed, nil
}

// dueSteps filters ready down to steps whose retry backoff (NotBefore)
// has elapsed. The DependencyResolver itself does not consider
// NotBefore: a pending step is ready the instant its predecessors allow
// it, so the engine enforces backoff timing itself.
func (c *Coordinator) dueSteps(exec *models.ProcessExecution, ready []string) []string {
	now := c.clock.Now()
	due := make([]string, 0, len(ready))
	for _, id := range ready {
		se := exec.Step(id)
		if se != nil && se.NotBefore != nil && se.NotBefore.After(now) {
			continue
		}
		due = append(due, id)
	}
	return due
}

// dispatchBatch dispatches every ready step concurrently: steps assigned
// to different agents proceed in parallel (§4.4), while mutations to the
// shared execution aggregate are serialized by batchMu so two concurrent
// completions never race on exec's in-memory state.
func (c *Coordinator) dispatchBatch(ctx context.Context, def *models.ProcessDefinition, exec *models.ProcessExecution, ready []string) error {
	var wg sync.WaitGroup
	var batchMu sync.Mutex
	errCh := make(chan error, len(ready))

	for _, stepID := range ready {
		step, ok := def.StepByID(stepID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(step models.StepDefinition) {
			defer wg.Done()
			if err := c.dispatchStep(ctx, def, exec, &step, &batchMu); err != nil {
				errCh <- err
			}
		}(step)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) dispatchStep(ctx context.Context, def *models.ProcessDefinition, exec *models.ProcessExecution, step *models.StepDefinition, batchMu *sync.Mutex) error {
	handler, ok := c.handlers.For(step.Kind)
	if !ok {
		return errs.New(errs.InternalError, "no handler registered for step kind "+string(step.Kind))
	}

	batchMu.Lock()
	if _, err := exec.TransitionStep(step.StepID, models.StepRunning, c.clock.Now()); err != nil {
		batchMu.Unlock()
		return err
	}
	if err := c.persist(ctx, exec); err != nil {
		batchMu.Unlock()
		return err
	}
	c.publish(exec, def, step.StepID, events.TypeStepStarted, nil)
	ectx := c.exprContext(exec)
	batchMu.Unlock()

	outcome, err := c.guardedDispatch(ctx, def, exec, step, handler, ectx)
	if err != nil {
		return err
	}

	batchMu.Lock()
	defer batchMu.Unlock()
	return c.applyOutcome(ctx, def, exec, step, outcome)
}

// guardedDispatch enforces the process-level max_cost ceiling (§4.3.1)
// before invoking the handler, short-circuiting with BudgetExceeded
// rather than letting an over-budget agent_task dispatch at all.
func (c *Coordinator) guardedDispatch(ctx context.Context, def *models.ProcessDefinition, exec *models.ProcessExecution, step *models.StepDefinition, handler stephandlers.Handler, ectx expression.Context) (models.DispatchOutcome, error) {
	if def.MaxCost > 0 && exec.TotalCost >= def.MaxCost {
		return models.Failed(string(errs.BudgetExceeded), "execution cost already at or beyond process.max_cost"), nil
	}
	return handler.Dispatch(ctx, exec, step, ectx)
}

// applyOutcome persists the effect of a DispatchOutcome on step (and, for
// routed/failed kinds, on sibling steps and the execution itself), then
// publishes the corresponding event. Caller must hold the execution's
// batch lock.
func (c *Coordinator) applyOutcome(ctx context.Context, def *models.ProcessDefinition, exec *models.ProcessExecution, step *models.StepDefinition, outcome models.DispatchOutcome) error {
	now := c.clock.Now()

	switch outcome.Kind {
	case models.OutcomeCompleted:
		if _, err := exec.CompleteStep(step.StepID, outcome.Output, outcome.Cost, now); err != nil {
			return err
		}
		if err := c.outputs.Store(ctx, exec.ExecutionID, step.StepID, outcome.Output); err != nil {
			slog.Warn("failed to persist step output", "execution_id", exec.ExecutionID, "step_id", step.StepID, "error", err)
		}
		if err := c.persist(ctx, exec); err != nil {
			return err
		}
		c.publish(exec, def, step.StepID, events.TypeStepCompleted, map[string]any{"output": outcome.Output, "cost": outcome.Cost})

	case models.OutcomeRouted:
		se := exec.Step(step.StepID)
		se.SelectedRoutes = outcome.Targets
		if _, err := exec.CompleteStep(step.StepID, nil, 0, now); err != nil {
			return err
		}
		if err := c.persist(ctx, exec); err != nil {
			return err
		}
		c.publish(exec, def, step.StepID, events.TypeGatewayEvaluated, map[string]any{"selected_routes": outcome.Targets})
		for _, skip := range dependency.ApplyGatewaySkips(def, *step, outcome.Targets) {
			if se2, err := exec.SkipStep(skip.StepID, skip.Reason, now); err == nil {
				if err := c.persist(ctx, exec); err != nil {
					return err
				}
				c.publish(exec, def, se2.StepID, events.TypeStepSkipped, map[string]any{"reason": skip.Reason})
			}
		}

	case models.OutcomeSuspended:
		return c.applySuspended(ctx, def, exec, step, outcome, now)

	case models.OutcomeFailed:
		return c.applyFailed(ctx, def, exec, step, outcome, now)

	default:
		return errs.New(errs.InternalError, "handler returned an unrecognized outcome kind")
	}
	return nil
}

func (c *Coordinator) applySuspended(ctx context.Context, def *models.ProcessDefinition, exec *models.ProcessExecution, step *models.StepDefinition, outcome models.DispatchOutcome, now time.Time) error {
	status := models.StepWaitingTimer
	reason := outcome.SuspendReason
	switch {
	case reason == "approval_required":
		status = models.StepWaitingApproval
	case strings.HasPrefix(reason, "child_running"):
		status = models.StepRunning // remains "in flight" until the child resumes it
	}

	se, err := exec.TransitionStep(step.StepID, status, now)
	if err != nil {
		return err
	}
	if strings.HasPrefix(reason, "child_running:") {
		se.ChildExecutionID = strings.TrimPrefix(reason, "child_running:")
		c.parentsMu.Lock()
		c.parents[se.ChildExecutionID] = parentLink{parentExecutionID: exec.ExecutionID, parentStepID: step.StepID}
		c.parentsMu.Unlock()
	}
	if strings.HasPrefix(reason, "timer:") {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimPrefix(reason, "timer:")); err == nil {
			se.NotBefore = &parsed
		}
	}

	if status == models.StepWaitingApproval && exec.Status == models.ExecutionRunning {
		if err := exec.Pause(); err != nil {
			return err
		}
	}

	if err := c.persist(ctx, exec); err != nil {
		return err
	}
	if status == models.StepWaitingApproval {
		c.publish(exec, def, step.StepID, events.TypeApprovalRequested, nil)
	}
	return nil
}

// applyFailed classifies a failure against the step's retry policy
// (§4.5): a retryable kind under budget goes back to pending with a
// backoff-computed not_before; otherwise the step follows on_error.
func (c *Coordinator) applyFailed(ctx context.Context, def *models.ProcessDefinition, exec *models.ProcessExecution, step *models.StepDefinition, outcome models.DispatchOutcome, now time.Time) error {
	policy, onError := retryPolicyFor(step)
	se := exec.Step(step.StepID)

	if outcome.ErrKind == string(errs.QueueFull) && !inNonRetryable(policy, outcome.ErrKind) {
		// A full AgentExecutionQueue retries on a short fixed delay without
		// consuming the step's retry budget (§4.3.1).
		notBefore := now.Add(queueFullRetryDelay)
		if _, err := exec.ResetStep(step.StepID, notBefore); err != nil {
			return err
		}
		if err := c.persist(ctx, exec); err != nil {
			return err
		}
		c.publish(exec, def, step.StepID, events.TypeStepRetrying, map[string]any{"error_kind": outcome.ErrKind})
		return nil
	}

	// RetryCount+1 < Attempts() reads Attempts() as a total-attempts budget
	// (RetryCount already counts the attempt that just failed), so with
	// max_attempts=3 this emits two step.retrying events before exhaustion
	// rather than three. That is a deliberate reading of a genuine
	// contradiction in the retry semantics ("default 1 attempt means no
	// retry" implies Attempts() is a total, not an extra-retries count);
	// the alternative reading would also change the default-policy
	// no-retry behavior this condition relies on elsewhere.
	if retryable(policy, outcome.ErrKind) && se.RetryCount+1 < policy.Attempts() {
		notBefore := now.Add(backoffDelay(policy, se.RetryCount))
		if _, err := exec.RetryStep(step.StepID, notBefore); err != nil {
			return err
		}
		if err := c.persist(ctx, exec); err != nil {
			return err
		}
		c.publish(exec, def, step.StepID, events.TypeStepRetrying, map[string]any{"error_kind": outcome.ErrKind, "retry_count": se.RetryCount})
		return nil
	}

	if onError == models.OnErrorSkipStep {
		if _, err := exec.SkipStep(step.StepID, "retries_exhausted", now); err != nil {
			return err
		}
		if err := c.persist(ctx, exec); err != nil {
			return err
		}
		c.publish(exec, def, step.StepID, events.TypeStepSkipped, map[string]any{"reason": "retries_exhausted"})
		return nil
	}

	if _, err := exec.FailStep(step.StepID, outcome.ErrKind, outcome.ErrMsg, now); err != nil {
		return err
	}
	if err := c.persist(ctx, exec); err != nil {
		return err
	}
	c.publish(exec, def, step.StepID, events.TypeStepFailed, map[string]any{"error_kind": outcome.ErrKind, "error_message": outcome.ErrMsg})
	return nil
}

const queueFullRetryDelay = 2 * time.Second

func retryPolicyFor(step *models.StepDefinition) (*models.RetryPolicy, models.OnError) {
	switch step.Kind {
	case models.StepAgentTask:
		if step.AgentTask != nil {
			return step.AgentTask.RetryPolicy, step.AgentTask.OnError
		}
	case models.StepNotification:
		if step.Notification != nil {
			return step.Notification.RetryPolicy, step.Notification.OnError
		}
	case models.StepSubProcess:
		// sub_process has no retry policy of its own: a failed child never
		// retries from the parent's side, it either fails or skips (§4.3.6).
		if step.SubProcess != nil {
			return nil, step.SubProcess.OnError
		}
	}
	return nil, models.OnErrorFail
}

func inNonRetryable(policy *models.RetryPolicy, kind string) bool {
	if policy == nil {
		return false
	}
	for _, k := range policy.NonRetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// retryable applies §4.5's classification: an explicit non_retryable_kinds
// entry always wins; otherwise an explicit retryable_kinds allowlist is
// authoritative; absent both, a kind retries iff errs.DefaultRetryable
// says so (timeout, rate_limit, agent_unavailable, queue_full).
func retryable(policy *models.RetryPolicy, kind string) bool {
	if inNonRetryable(policy, kind) {
		return false
	}
	if policy != nil && len(policy.RetryableKinds) > 0 {
		for _, k := range policy.RetryableKinds {
			if k == kind {
				return true
			}
		}
		return false
	}
	return errs.DefaultRetryable(errs.Kind(kind))
}

func backoffDelay(policy *models.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.InitialDelay <= 0 {
		return time.Second
	}
	var d time.Duration
	switch policy.Backoff {
	case models.BackoffLinear:
		d = policy.InitialDelay * time.Duration(attempt+1)
	case models.BackoffExponential:
		d = policy.InitialDelay * time.Duration(1<<uint(attempt))
	default:
		d = policy.InitialDelay
	}
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	return d
}

// finalize marks the execution completed or failed once every step has
// reached a terminal status, or leaves it as-is if steps remain
// suspended (waiting_approval, waiting_timer, or a running sub_process).
func (c *Coordinator) finalize(ctx context.Context, def *models.ProcessDefinition, exec *models.ProcessExecution) error {
	if exec.Status.Terminal() {
		return nil
	}
	if !exec.AllTerminal() {
		return nil
	}

	now := c.clock.Now()
	if exec.AnyFailed() {
		if err := exec.Fail("one or more steps failed", now); err != nil {
			return err
		}
		if err := c.persist(ctx, exec); err != nil {
			return err
		}
		c.publish(exec, def, "", events.TypeProcessFailed, map[string]any{"error_message": exec.FailureReason})
		return nil
	}

	output := c.finalOutput(exec, def)
	if err := exec.Complete(output, now); err != nil {
		return err
	}
	if err := c.persist(ctx, exec); err != nil {
		return err
	}
	c.publish(exec, def, "", events.TypeProcessCompleted, map[string]any{"output": output})
	return nil
}

func (c *Coordinator) finalOutput(exec *models.ProcessExecution, def *models.ProcessDefinition) any {
	if def.Output == nil || def.Output.SourceStep == "" {
		return nil
	}
	if se := exec.Step(def.Output.SourceStep); se != nil {
		return se.Output
	}
	return nil
}

// RunRetrySweeper periodically re-enters advance for every running
// execution with a step whose backoff has elapsed — either a retry
// waiting out its delay or a timer waiting on not_before — so neither
// kind of suspension depends on an unrelated external trigger to make
// progress. Grounded on the teacher's pool.go background-loop shape
// (ticker plus ctx.Done).
func (c *Coordinator) RunRetrySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepDueRetries(ctx)
		}
	}
}

func (c *Coordinator) sweepDueRetries(ctx context.Context) {
	running, err := c.execs.ListByStatus(ctx, []models.ExecutionStatus{models.ExecutionRunning})
	if err != nil {
		slog.Error("retry sweep: failed to list running executions", "error", err)
		return
	}
	now := c.clock.Now()
	for _, exec := range running {
		due := false
		for _, se := range exec.StepExecutions {
			if se.NotBefore == nil || se.NotBefore.After(now) {
				continue
			}
			if se.Status == models.StepPending || se.Status == models.StepWaitingTimer {
				due = true
				break
			}
		}
		if !due {
			continue
		}
		if err := c.Resume(ctx, exec.ExecutionID); err != nil {
			slog.Error("retry sweep: failed to resume execution", "execution_id", exec.ExecutionID, "error", err)
		}
	}
}

// exprContext snapshots exec's current step states into an expression
// context for condition/template evaluation.
func (c *Coordinator) exprContext(exec *models.ProcessExecution) expression.Context {
	steps := make(map[string]expression.StepView, len(exec.StepExecutions))
	for id, se := range exec.StepExecutions {
		steps[id] = expression.StepView{Status: string(se.Status), Output: se.Output}
	}
	return expression.Context{Input: exec.InputData, Steps: steps, Now: c.clock.Now()}
}

// publish assembles and emits a domain event, stamped with exec's current
// sequence number. Always called after persist has already advanced that
// counter (outbox discipline: persist before publish), never before. def
// may be nil (e.g. best effort on Cancel when the definition lookup
// itself failed); callers that already have it in scope should pass it
// to populate owner_team.
func (c *Coordinator) publish(exec *models.ProcessExecution, def *models.ProcessDefinition, stepID string, typ events.Type, payload any) {
	ownerTeam := ""
	if def != nil {
		ownerTeam = def.OwnerTeam
	}
	c.bus.Publish(events.Event{
		Type:        typ,
		ExecutionID: exec.ExecutionID,
		StepID:      stepID,
		ProcessID:   exec.ProcessID,
		OwnerTeam:   ownerTeam,
		Sequence:    exec.Sequence(),
		OccurredAt:  c.clock.Now(),
		Payload:     payload,
	})
}
