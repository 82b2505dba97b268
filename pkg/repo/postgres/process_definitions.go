package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
)

// ProcessDefinitionRepo implements repo.ProcessDefinitionRepo on Postgres.
type ProcessDefinitionRepo struct {
	client *Client
}

// NewProcessDefinitionRepo returns a repo backed by client.
func NewProcessDefinitionRepo(client *Client) *ProcessDefinitionRepo {
	return &ProcessDefinitionRepo{client: client}
}

func (r *ProcessDefinitionRepo) Save(ctx context.Context, def *models.ProcessDefinition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return errs.Wrap(errs.InternalError, "marshal process definition", err)
	}
	const q = `
		INSERT INTO process_definitions
			(process_id, name, major_version, minor_version, status, document, owner_team, created_by, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (process_id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			published_at = EXCLUDED.published_at
	`
	_, err = r.client.Pool.Exec(ctx, q,
		def.ProcessID, def.Name, def.Version.Major, def.Version.Minor, def.Status, doc,
		def.OwnerTeam, def.CreatedBy, def.CreatedAt, def.PublishedAt)
	if err != nil {
		return errs.Wrap(errs.InternalError, "save process definition", err)
	}
	return nil
}

func (r *ProcessDefinitionRepo) GetByID(ctx context.Context, processID string) (*models.ProcessDefinition, error) {
	const q = `SELECT document FROM process_definitions WHERE process_id = $1`
	return r.scanOne(ctx, q, processID)
}

func (r *ProcessDefinitionRepo) GetByName(ctx context.Context, name string, version *models.Version) (*models.ProcessDefinition, error) {
	if version == nil {
		return r.GetLatestVersion(ctx, name)
	}
	const q = `SELECT document FROM process_definitions WHERE name = $1 AND major_version = $2 AND minor_version = $3`
	return r.scanOne(ctx, q, name, version.Major, version.Minor)
}

func (r *ProcessDefinitionRepo) GetLatestVersion(ctx context.Context, name string) (*models.ProcessDefinition, error) {
	const q = `
		SELECT document FROM process_definitions
		WHERE name = $1
		ORDER BY major_version DESC, minor_version DESC
		LIMIT 1
	`
	return r.scanOne(ctx, q, name)
}

func (r *ProcessDefinitionRepo) List(ctx context.Context, status *models.ProcessStatus) ([]*models.ProcessDefinition, error) {
	var rows pgx.Rows
	var err error
	if status != nil {
		rows, err = r.client.Pool.Query(ctx, `SELECT document FROM process_definitions WHERE status = $1 ORDER BY created_at DESC`, *status)
	} else {
		rows, err = r.client.Pool.Query(ctx, `SELECT document FROM process_definitions ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "list process definitions", err)
	}
	defer rows.Close()

	var out []*models.ProcessDefinition
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errs.Wrap(errs.InternalError, "scan process definition", err)
		}
		var def models.ProcessDefinition
		if err := json.Unmarshal(doc, &def); err != nil {
			return nil, errs.Wrap(errs.InternalError, "unmarshal process definition", err)
		}
		out = append(out, &def)
	}
	return out, rows.Err()
}

func (r *ProcessDefinitionRepo) scanOne(ctx context.Context, q string, args ...any) (*models.ProcessDefinition, error) {
	var doc []byte
	err := r.client.Pool.QueryRow(ctx, q, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "process definition not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "query process definition", err)
	}
	var def models.ProcessDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, errs.Wrap(errs.InternalError, "unmarshal process definition", err)
	}
	return &def, nil
}
