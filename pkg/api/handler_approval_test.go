package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/models"
)

func TestDecideApprovalHandlerRejectsNonApprover(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	approval := &models.Approval{
		ApprovalID:  "approval-1",
		ExecutionID: "exec-1",
		StepID:      "review",
		Approvers:   []string{"carol"},
		Deadline:    time.Now().Add(time.Hour),
		Status:      models.ApprovalPending,
	}
	require.NoError(t, store.Approvals().Save(ctx, approval))

	rec := httptest.NewRecorder()
	body := decideApprovalRequest{Decision: models.ApprovalApproved}
	req := authedRequest(http.MethodPost, "/approvals/"+approval.ApprovalID+"/decide", body, "dave", "sre", "approver")
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDecideApprovalHandlerAllowsListedApprover(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	approval := &models.Approval{
		ApprovalID:  "approval-2",
		ExecutionID: "exec-1",
		StepID:      "review",
		Approvers:   []string{"carol"},
		Deadline:    time.Now().Add(time.Hour),
		Status:      models.ApprovalPending,
	}
	require.NoError(t, store.Approvals().Save(ctx, approval))

	rec := httptest.NewRecorder()
	body := decideApprovalRequest{Decision: models.ApprovalApproved, Comment: "looks good"}
	req := authedRequest(http.MethodPost, "/approvals/"+approval.ApprovalID+"/decide", body, "carol", "sre", "approver")
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetApprovalHandlerReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/approvals/missing", nil, "carol", "sre", "approver")
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
