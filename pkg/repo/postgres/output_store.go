package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/trinity-run/trinity/pkg/errs"
)

// OutputStore implements repo.OutputStore on Postgres. Outputs are keyed
// by (execution_id, step_id); DeleteByExecution removes one execution's
// outputs in bulk, and nothing in this module calls it.
type OutputStore struct {
	client *Client
}

// NewOutputStore returns a store backed by client.
func NewOutputStore(client *Client) *OutputStore {
	return &OutputStore{client: client}
}

func (s *OutputStore) Store(ctx context.Context, executionID, stepID string, value any) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.InternalError, "marshal step output", err)
	}
	const q = `
		INSERT INTO step_outputs (execution_id, step_id, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (execution_id, step_id) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := s.client.Pool.Exec(ctx, q, executionID, stepID, doc); err != nil {
		return errs.Wrap(errs.InternalError, "store step output", err)
	}
	return nil
}

func (s *OutputStore) Retrieve(ctx context.Context, executionID, stepID string) (any, error) {
	const q = `SELECT value FROM step_outputs WHERE execution_id = $1 AND step_id = $2`
	var doc []byte
	err := s.client.Pool.QueryRow(ctx, q, executionID, stepID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "step output not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "retrieve step output", err)
	}
	var value any
	if err := json.Unmarshal(doc, &value); err != nil {
		return nil, errs.Wrap(errs.InternalError, "unmarshal step output", err)
	}
	return value, nil
}

func (s *OutputStore) DeleteByExecution(ctx context.Context, executionID string) error {
	const q = `DELETE FROM step_outputs WHERE execution_id = $1`
	if _, err := s.client.Pool.Exec(ctx, q, executionID); err != nil {
		return errs.Wrap(errs.InternalError, "delete step outputs", err)
	}
	return nil
}
