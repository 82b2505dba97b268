package events

import (
	"context"
	"log/slog"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/models"
)

// AuditAppender is the subset of repo.AuditRepo the audit sink needs.
type AuditAppender interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
}

// AuditSink logs every state-changing event as an AuditEntry. The action
// string is derived from the event type. Every entry is classified
// internal with 90-day retention; the payload is not inspected for a
// restricted marker.
type AuditSink struct {
	repo  AuditAppender
	ids   clock.IdGen
	clock clock.Clock
}

// NewAuditSink returns an AuditSink writing through repo.
func NewAuditSink(repo AuditAppender, ids clock.IdGen, c clock.Clock) *AuditSink {
	return &AuditSink{repo: repo, ids: ids, clock: c}
}

func (s *AuditSink) Handle(evt Event) {
	entry := &models.AuditEntry{
		AuditID:       s.ids.NewID(),
		Timestamp:     evt.OccurredAt,
		Actor:         actorFor(evt),
		Action:        string(evt.Type),
		ResourceType:  "execution",
		ResourceID:    evt.ExecutionID,
		Details: map[string]any{
			"process_id": evt.ProcessID,
			"step_id":    evt.StepID,
			"sequence":   evt.Sequence,
			"payload":    evt.Payload,
		},
		DataClassification: models.ClassificationInternal,
		RetentionDays:       90,
	}
	if err := s.repo.Append(context.Background(), entry); err != nil {
		slog.Error("failed to append audit entry", "event_type", evt.Type, "execution_id", evt.ExecutionID, "error", err)
	}
}

// actorFor extracts a best-effort actor from the event payload's "actor"
// field, which the engine sets only on ProcessCancelled; every other
// event is recorded with actor "system".
func actorFor(evt Event) string {
	if m, ok := evt.Payload.(map[string]any); ok {
		if actor, ok := m["actor"].(string); ok && actor != "" {
			return actor
		}
	}
	return "system"
}
