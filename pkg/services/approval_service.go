package services

import (
	"context"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/repo"
)

// ApprovalDecider is the subset of pkg/engine.Coordinator the approval
// service submits decisions through.
type ApprovalDecider interface {
	SubmitApproval(ctx context.Context, approvalID string, decision models.ApprovalStatus, actor, comment string) error
}

// ApprovalService manages human-approval reads and decisions.
type ApprovalService struct {
	engine     ApprovalDecider
	approvals  repo.ApprovalRepo
}

// NewApprovalService returns an ApprovalService.
func NewApprovalService(engine ApprovalDecider, approvals repo.ApprovalRepo) *ApprovalService {
	if engine == nil {
		panic("NewApprovalService: engine must not be nil")
	}
	if approvals == nil {
		panic("NewApprovalService: approvals must not be nil")
	}
	return &ApprovalService{engine: engine, approvals: approvals}
}

// Get returns an approval by id.
func (s *ApprovalService) Get(ctx context.Context, approvalID string) (*models.Approval, error) {
	approval, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "approval not found", err)
	}
	return approval, nil
}

// ListByExecution returns every approval recorded for an execution.
func (s *ApprovalService) ListByExecution(ctx context.Context, executionID string) ([]*models.Approval, error) {
	return s.approvals.ListByExecution(ctx, executionID)
}

// Decide submits an approve/reject/changes_requested decision. actor
// must appear in the approval's Approvers list; the coordinator enforces
// this and returns errs.AuthorizationDenied otherwise.
func (s *ApprovalService) Decide(ctx context.Context, approvalID string, decision models.ApprovalStatus, actor, comment string) error {
	if decision != models.ApprovalApproved && decision != models.ApprovalRejected && decision != models.ApprovalChangesRequested {
		return errs.New(errs.Validation, "decision must be approved, rejected, or changes_requested")
	}
	return s.engine.SubmitApproval(ctx, approvalID, decision, actor, comment)
}
