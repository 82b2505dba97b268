package stephandlers

import (
	"context"
	"time"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/expression"
	"github.com/trinity-run/trinity/pkg/models"
)

// ApprovalCreator is the subset of repo.ApprovalRepo the human_approval
// handler needs.
type ApprovalCreator interface {
	Save(ctx context.Context, approval *models.Approval) error
}

// ApprovalRequestedNotifier is notified when a new approval is created,
// so a notification sink can alert the configured approvers.
type ApprovalRequestedNotifier interface {
	NotifyApprovalRequested(ctx context.Context, approval *models.Approval, title string) error
}

// HumanApprovalHandler creates an Approval record and suspends the step
// until SubmitApproval resumes it (handled by pkg/engine, not here).
type HumanApprovalHandler struct {
	approvals ApprovalCreator
	notifier  ApprovalRequestedNotifier
	ids       clock.IdGen
	clock     clock.Clock
}

// NewHumanApprovalHandler returns a handler creating approvals through
// approvals and notifying through notifier.
func NewHumanApprovalHandler(approvals ApprovalCreator, notifier ApprovalRequestedNotifier, ids clock.IdGen, c clock.Clock) *HumanApprovalHandler {
	return &HumanApprovalHandler{approvals: approvals, notifier: notifier, ids: ids, clock: c}
}

func (h *HumanApprovalHandler) Dispatch(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	cfg := step.HumanApproval
	if cfg == nil {
		return models.DispatchOutcome{}, errs.New(errs.InternalError, "human_approval step missing config")
	}

	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = h.clock.Now().Add(cfg.Timeout)
	}

	approval := &models.Approval{
		ApprovalID:  h.ids.NewID(),
		ExecutionID: exec.ExecutionID,
		StepID:      step.StepID,
		Approvers:   cfg.Approvers,
		Deadline:    deadline,
		Status:      models.ApprovalPending,
	}
	if err := h.approvals.Save(ctx, approval); err != nil {
		return models.DispatchOutcome{}, err
	}
	if h.notifier != nil {
		if err := h.notifier.NotifyApprovalRequested(ctx, approval, cfg.Title); err != nil {
			return models.DispatchOutcome{}, err
		}
	}

	return models.Suspended("approval_required"), nil
}

// Poll reports the step still suspended; resumption happens out-of-band
// when the coordinator's SubmitApproval is called, not through Poll.
// Nothing acts on the approval's Deadline: no timer marks an approval
// timed_out or applies a timeout action.
func (h *HumanApprovalHandler) Poll(ctx context.Context, exec *models.ProcessExecution, step *models.StepDefinition, ectx expression.Context) (models.DispatchOutcome, error) {
	return models.Suspended("approval_required"), nil
}

// Resolve turns a decided Approval into the DispatchOutcome the
// coordinator applies to the waiting step. Approved, rejected, and
// changes_requested all complete the step with the decision recorded in
// its output; a downstream gateway step routes on
// `steps.<id>.output.decision` when rejection should not itself be fatal.
// A timed-out approval with no decision fails the step outright, since
// there is no decision to route on.
func Resolve(approval *models.Approval) models.DispatchOutcome {
	switch approval.Status {
	case models.ApprovalApproved, models.ApprovalRejected, models.ApprovalChangesRequested:
		return models.Completed(models.ApprovalOutput{
			Decision:  approval.Status,
			Comment:   approval.Comment,
			DecidedBy: approval.DecidedBy,
		}, 0)
	case models.ApprovalTimedOut:
		return models.Failed(string(errs.Timeout), "approval deadline passed with no decision")
	default:
		return models.Suspended("approval_required")
	}
}
