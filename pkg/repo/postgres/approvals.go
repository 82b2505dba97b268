package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
)

// ApprovalRepo implements repo.ApprovalRepo on Postgres.
type ApprovalRepo struct {
	client *Client
}

// NewApprovalRepo returns a repo backed by client.
func NewApprovalRepo(client *Client) *ApprovalRepo {
	return &ApprovalRepo{client: client}
}

func (r *ApprovalRepo) Save(ctx context.Context, approval *models.Approval) error {
	doc, err := json.Marshal(approval)
	if err != nil {
		return errs.Wrap(errs.InternalError, "marshal approval", err)
	}
	const q = `
		INSERT INTO approvals (approval_id, execution_id, step_id, document, status, deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (approval_id) DO UPDATE SET document = EXCLUDED.document, status = EXCLUDED.status
	`
	_, err = r.client.Pool.Exec(ctx, q, approval.ApprovalID, approval.ExecutionID, approval.StepID, doc, approval.Status, approval.Deadline)
	if err != nil {
		return errs.Wrap(errs.InternalError, "save approval", err)
	}
	return nil
}

func (r *ApprovalRepo) GetByID(ctx context.Context, approvalID string) (*models.Approval, error) {
	const q = `SELECT document FROM approvals WHERE approval_id = $1`
	var doc []byte
	err := r.client.Pool.QueryRow(ctx, q, approvalID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "approval not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "get approval", err)
	}
	return decodeApproval(doc)
}

func (r *ApprovalRepo) ListPendingForStep(ctx context.Context, executionID, stepID string) ([]*models.Approval, error) {
	const q = `
		SELECT document FROM approvals
		WHERE execution_id = $1 AND step_id = $2 AND status = 'pending'
	`
	return r.queryMany(ctx, q, executionID, stepID)
}

func (r *ApprovalRepo) ListByExecution(ctx context.Context, executionID string) ([]*models.Approval, error) {
	const q = `SELECT document FROM approvals WHERE execution_id = $1`
	return r.queryMany(ctx, q, executionID)
}

func (r *ApprovalRepo) queryMany(ctx context.Context, q string, args ...any) ([]*models.Approval, error) {
	rows, err := r.client.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "list approvals", err)
	}
	defer rows.Close()

	var out []*models.Approval
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errs.Wrap(errs.InternalError, "scan approval", err)
		}
		approval, err := decodeApproval(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, approval)
	}
	return out, rows.Err()
}

func decodeApproval(doc []byte) (*models.Approval, error) {
	var a models.Approval
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, errs.Wrap(errs.InternalError, "unmarshal approval", err)
	}
	return &a, nil
}
