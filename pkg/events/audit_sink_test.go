package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/models"
)

type fakeAuditRepo struct {
	entries []*models.AuditEntry
}

func (f *fakeAuditRepo) Append(_ context.Context, entry *models.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestAuditSinkRecordsEventAsEntry(t *testing.T) {
	repo := &fakeAuditRepo{}
	sink := NewAuditSink(repo, &clock.SequentialIDGen{Prefix: "audit"}, clock.System{})

	sink.Handle(Event{
		Type:        TypeStepCompleted,
		ExecutionID: "exec-1",
		StepID:      "step-1",
		ProcessID:   "proc-1",
		Sequence:    3,
		OccurredAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:     map[string]any{"actor": "alice"},
	})

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	assert.Equal(t, "alice", entry.Actor)
	assert.Equal(t, "execution", entry.ResourceType)
	assert.Equal(t, "exec-1", entry.ResourceID)
	assert.Equal(t, string(TypeStepCompleted), entry.Action)
	assert.Equal(t, models.ClassificationInternal, entry.DataClassification)
}

func TestAuditSinkDefaultsActorToSystem(t *testing.T) {
	repo := &fakeAuditRepo{}
	sink := NewAuditSink(repo, &clock.SequentialIDGen{Prefix: "audit"}, clock.System{})

	sink.Handle(Event{Type: TypeProcessStarted, ExecutionID: "exec-2"})

	require.Len(t, repo.entries, 1)
	assert.Equal(t, "system", repo.entries[0].Actor)
}
