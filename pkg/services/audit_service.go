package services

import (
	"context"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/repo"
)

// AuditService appends and queries the append-only audit log. Most
// entries are written by events.AuditSink as a side effect of the event
// bus; this service covers direct, non-event-sourced audit writes (e.g.
// an HTTP handler logging a process publish before any execution event
// exists) and all read access.
type AuditService struct {
	audit repo.AuditRepo
	clock clock.Clock
	ids   clock.IdGen
}

// NewAuditService returns an AuditService.
func NewAuditService(audit repo.AuditRepo, c clock.Clock, ids clock.IdGen) *AuditService {
	if audit == nil {
		panic("NewAuditService: audit must not be nil")
	}
	return &AuditService{audit: audit, clock: c, ids: ids}
}

// RecordInput is the caller-supplied shape of a direct audit write.
type RecordInput struct {
	Actor               string
	Action              string
	ResourceType        string
	ResourceID          string
	Details             map[string]any
	IP                  string
	UserAgent           string
	DataClassification  models.DataClassification
	RetentionDays       int
}

// Record appends a new audit entry, defaulting RetentionDays to 90 when
// unset.
func (s *AuditService) Record(ctx context.Context, input RecordInput) error {
	if input.Action == "" || input.ResourceType == "" {
		return errs.New(errs.Validation, "audit entry requires action and resource_type")
	}
	retention := input.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	entry := &models.AuditEntry{
		AuditID:            s.ids.NewID(),
		Timestamp:          s.clock.Now(),
		Actor:              input.Actor,
		Action:             input.Action,
		ResourceType:       input.ResourceType,
		ResourceID:         input.ResourceID,
		Details:            input.Details,
		IP:                 input.IP,
		UserAgent:          input.UserAgent,
		DataClassification: input.DataClassification,
		RetentionDays:      retention,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		return errs.Wrap(errs.InternalError, "failed to append audit entry", err)
	}
	return nil
}

// Get returns a single audit entry by id.
func (s *AuditService) Get(ctx context.Context, auditID string) (*models.AuditEntry, error) {
	entry, err := s.audit.Get(ctx, auditID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "audit entry not found", err)
	}
	return entry, nil
}

// List returns a page of audit entries matching filters, along with the
// total count for pagination.
func (s *AuditService) List(ctx context.Context, filters models.AuditFilters, limit, offset int) ([]*models.AuditEntry, int, error) {
	entries, err := s.audit.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, 0, errs.Wrap(errs.InternalError, "failed to list audit entries", err)
	}
	total, err := s.audit.Count(ctx, filters)
	if err != nil {
		return nil, 0, errs.Wrap(errs.InternalError, "failed to count audit entries", err)
	}
	return entries, total, nil
}
