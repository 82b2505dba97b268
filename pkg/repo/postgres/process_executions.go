package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
)

// ProcessExecutionRepo implements repo.ProcessExecutionRepo on Postgres.
// The execution's unexported sequence counter is persisted in its own
// column (not part of the JSON document) and is also the optimistic
// concurrency token checked by Save.
type ProcessExecutionRepo struct {
	client *Client
}

// NewProcessExecutionRepo returns a repo backed by client.
func NewProcessExecutionRepo(client *Client) *ProcessExecutionRepo {
	return &ProcessExecutionRepo{client: client}
}

func (r *ProcessExecutionRepo) Save(ctx context.Context, exec *models.ProcessExecution, expectedSeq int64) error {
	doc, err := json.Marshal(exec)
	if err != nil {
		return errs.Wrap(errs.InternalError, "marshal process execution", err)
	}

	const insert = `
		INSERT INTO process_executions
			(execution_id, process_id, status, owner_team, owner_user, sequence, document, started_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), $9)
		ON CONFLICT (execution_id) DO UPDATE SET
			status = EXCLUDED.status,
			sequence = EXCLUDED.sequence,
			document = EXCLUDED.document,
			updated_at = now(),
			completed_at = EXCLUDED.completed_at
		WHERE process_executions.sequence = $10
	`
	tag, err := r.client.Pool.Exec(ctx, insert,
		exec.ExecutionID, exec.ProcessID, exec.Status, exec.OwnerTeam, exec.OwnerUser,
		exec.Sequence(), doc, exec.StartedAt, exec.CompletedAt, expectedSeq)
	if err != nil {
		return errs.Wrap(errs.InternalError, "save process execution", err)
	}

	// The WHERE clause only applies to the UPDATE arm of the upsert; a
	// fresh insert always succeeds (RowsAffected=1). A stale expectedSeq
	// on an existing row yields RowsAffected=0.
	if tag.RowsAffected() == 0 {
		existing, getErr := r.GetByID(ctx, exec.ExecutionID)
		if getErr == nil && existing != nil {
			return errs.New(errs.StateConflict, "execution was modified concurrently")
		}
	}
	return nil
}

func (r *ProcessExecutionRepo) GetByID(ctx context.Context, executionID string) (*models.ProcessExecution, error) {
	const q = `SELECT document, sequence FROM process_executions WHERE execution_id = $1`
	var doc []byte
	var seq int64
	err := r.client.Pool.QueryRow(ctx, q, executionID).Scan(&doc, &seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "execution not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "query process execution", err)
	}
	return decodeExecution(doc, seq)
}

func (r *ProcessExecutionRepo) ListActiveForProcess(ctx context.Context, processID string) ([]*models.ProcessExecution, error) {
	const q = `
		SELECT document, sequence FROM process_executions
		WHERE process_id = $1 AND status IN ('pending', 'running', 'paused')
		ORDER BY started_at ASC
	`
	return r.query(ctx, q, processID)
}

func (r *ProcessExecutionRepo) ListByStatus(ctx context.Context, statuses []models.ExecutionStatus) ([]*models.ProcessExecution, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}
	const q = `SELECT document, sequence FROM process_executions WHERE status = ANY($1) ORDER BY started_at ASC`
	return r.query(ctx, q, strs)
}

func (r *ProcessExecutionRepo) ListHistory(ctx context.Context, processID string, limit int) ([]*models.ProcessExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT document, sequence FROM process_executions
		WHERE process_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	return r.query(ctx, q, processID, limit)
}

func (r *ProcessExecutionRepo) query(ctx context.Context, q string, args ...any) ([]*models.ProcessExecution, error) {
	rows, err := r.client.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "list process executions", err)
	}
	defer rows.Close()

	var out []*models.ProcessExecution
	for rows.Next() {
		var doc []byte
		var seq int64
		if err := rows.Scan(&doc, &seq); err != nil {
			return nil, errs.Wrap(errs.InternalError, "scan process execution", err)
		}
		exec, err := decodeExecution(doc, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func decodeExecution(doc []byte, seq int64) (*models.ProcessExecution, error) {
	var exec models.ProcessExecution
	if err := json.Unmarshal(doc, &exec); err != nil {
		return nil, errs.Wrap(errs.InternalError, "unmarshal process execution", err)
	}
	exec.SetSequence(seq)
	return &exec, nil
}
