package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
)

// AuditRepo implements repo.AuditRepo on Postgres. Entries are append
// only: there is no Update or Delete method.
type AuditRepo struct {
	client *Client
}

// NewAuditRepo returns a repo backed by client.
func NewAuditRepo(client *Client) *AuditRepo {
	return &AuditRepo{client: client}
}

func (r *AuditRepo) Append(ctx context.Context, entry *models.AuditEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.InternalError, "marshal audit entry", err)
	}
	const q = `
		INSERT INTO audit_entries (audit_id, "timestamp", actor, action, resource_type, resource_id, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.client.Pool.Exec(ctx, q, entry.AuditID, entry.Timestamp, entry.Actor, entry.Action,
		entry.ResourceType, entry.ResourceID, doc)
	if err != nil {
		return errs.Wrap(errs.InternalError, "append audit entry", err)
	}
	return nil
}

func (r *AuditRepo) List(ctx context.Context, filters models.AuditFilters, limit, offset int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := buildAuditWhere(filters)
	q := `SELECT document FROM audit_entries` + where + ` ORDER BY "timestamp" DESC LIMIT ? OFFSET ?`
	q = rebind(q)
	args = append(args, limit, offset)

	rows, err := r.client.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "list audit entries", err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errs.Wrap(errs.InternalError, "scan audit entry", err)
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, errs.Wrap(errs.InternalError, "unmarshal audit entry", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func (r *AuditRepo) Count(ctx context.Context, filters models.AuditFilters) (int, error) {
	where, args := buildAuditWhere(filters)
	q := `SELECT count(*) FROM audit_entries` + where
	var n int
	if err := r.client.Pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, errs.Wrap(errs.InternalError, "count audit entries", err)
	}
	return n, nil
}

func (r *AuditRepo) Get(ctx context.Context, auditID string) (*models.AuditEntry, error) {
	const q = `SELECT document FROM audit_entries WHERE audit_id = $1`
	var doc []byte
	err := r.client.Pool.QueryRow(ctx, q, auditID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "audit entry not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "get audit entry", err)
	}
	var entry models.AuditEntry
	if err := json.Unmarshal(doc, &entry); err != nil {
		return nil, errs.Wrap(errs.InternalError, "unmarshal audit entry", err)
	}
	return &entry, nil
}

// buildAuditWhere assembles a parameterized WHERE clause using ? markers
// (rebound to $n by rebind, since the number of optional filters varies).
func buildAuditWhere(f models.AuditFilters) (string, []any) {
	var clauses []string
	var args []any
	if f.ResourceType != "" {
		clauses = append(clauses, "resource_type = ?")
		args = append(args, f.ResourceType)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Actor != "" {
		clauses = append(clauses, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Since != nil {
		clauses = append(clauses, `"timestamp" >= ?`)
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		clauses = append(clauses, `"timestamp" <= ?`)
		args = append(args, *f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// rebind rewrites q's ? placeholders, in order, into pgx's $n positional
// syntax.
func rebind(q string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
