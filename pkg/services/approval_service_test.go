package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/repo/inmemory"
)

type fakeApprovalEngine struct {
	calls []string
	err   error
}

func (f *fakeApprovalEngine) SubmitApproval(_ context.Context, approvalID string, _ models.ApprovalStatus, _, _ string) error {
	f.calls = append(f.calls, approvalID)
	return f.err
}

func TestDecideRejectsUnknownDecision(t *testing.T) {
	store := inmemory.New()
	engine := &fakeApprovalEngine{}
	svc := NewApprovalService(engine, store.Approvals())

	err := svc.Decide(context.Background(), "approval-1", models.ApprovalStatus("bogus"), "alice", "")
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
	assert.Empty(t, engine.calls)
}

func TestDecideDelegatesValidDecisionToEngine(t *testing.T) {
	store := inmemory.New()
	engine := &fakeApprovalEngine{}
	svc := NewApprovalService(engine, store.Approvals())

	require.NoError(t, svc.Decide(context.Background(), "approval-1", models.ApprovalApproved, "alice", "looks good"))
	assert.Equal(t, []string{"approval-1"}, engine.calls)
}

func TestGetReturnsNotFoundForUnknownApproval(t *testing.T) {
	store := inmemory.New()
	svc := NewApprovalService(&fakeApprovalEngine{}, store.Approvals())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestListByExecutionReturnsSavedApprovals(t *testing.T) {
	store := inmemory.New()
	require.NoError(t, store.Approvals().Save(context.Background(), &models.Approval{
		ApprovalID:  "approval-1",
		ExecutionID: "exec-1",
		StepID:      "approve",
		Approvers:   []string{"alice"},
	}))
	svc := NewApprovalService(&fakeApprovalEngine{}, store.Approvals())

	approvals, err := svc.ListByExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, "approval-1", approvals[0].ApprovalID)
}
