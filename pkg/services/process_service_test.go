package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/repo/inmemory"
)

func newProcessService() (*ProcessService, *inmemory.Store) {
	store := inmemory.New()
	fake := clock.NewFake(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	svc := NewProcessService(store.Definitions(), fake, &clock.SequentialIDGen{Prefix: "proc"})
	return svc, store
}

func validSteps() []models.StepDefinition {
	return []models.StepDefinition{
		{StepID: "start", Kind: models.StepAgentTask, AgentTask: &models.AgentTaskConfig{}},
	}
}

func TestCreateDraftRequiresNameAndCreator(t *testing.T) {
	svc, _ := newProcessService()
	_, err := svc.CreateDraft(context.Background(), CreateDraftInput{CreatedBy: "alice"})
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))

	_, err = svc.CreateDraft(context.Background(), CreateDraftInput{Name: "p1"})
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestCreateDraftStartsAtVersionOneZero(t *testing.T) {
	svc, _ := newProcessService()
	def, err := svc.CreateDraft(context.Background(), CreateDraftInput{Name: "p1", CreatedBy: "alice", Steps: validSteps()})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessDraft, def.Status)
	assert.Equal(t, models.Version{Major: 1, Minor: 0}, def.Version)
}

func TestPublishRejectsInvalidDAG(t *testing.T) {
	svc, _ := newProcessService()
	def, err := svc.CreateDraft(context.Background(), CreateDraftInput{
		Name:      "p1",
		CreatedBy: "alice",
		Steps: []models.StepDefinition{
			{StepID: "a", Kind: models.StepAgentTask, Dependencies: []string{"b"}, AgentTask: &models.AgentTaskConfig{}},
		},
	})
	require.NoError(t, err)

	_, err = svc.Publish(context.Background(), def.ProcessID)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestPublishTransitionsDraftToPublished(t *testing.T) {
	svc, _ := newProcessService()
	def, err := svc.CreateDraft(context.Background(), CreateDraftInput{Name: "p1", CreatedBy: "alice", Steps: validSteps()})
	require.NoError(t, err)

	published, err := svc.Publish(context.Background(), def.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
}

func TestPublishRejectsAlreadyPublished(t *testing.T) {
	svc, _ := newProcessService()
	def, err := svc.CreateDraft(context.Background(), CreateDraftInput{Name: "p1", CreatedBy: "alice", Steps: validSteps()})
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), def.ProcessID)
	require.NoError(t, err)

	_, err = svc.Publish(context.Background(), def.ProcessID)
	require.Error(t, err)
	assert.Equal(t, errs.StateConflict, errs.KindOf(err))
}

func TestUpdateRejectsPublishedDefinition(t *testing.T) {
	svc, _ := newProcessService()
	def, err := svc.CreateDraft(context.Background(), CreateDraftInput{Name: "p1", CreatedBy: "alice", Steps: validSteps()})
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), def.ProcessID)
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), def.ProcessID, CreateDraftInput{Steps: validSteps()})
	require.Error(t, err)
	assert.Equal(t, errs.StateConflict, errs.KindOf(err))
}

func TestGetByNameResolvesLatestVersionWhenUnspecified(t *testing.T) {
	svc, _ := newProcessService()
	def, err := svc.CreateDraft(context.Background(), CreateDraftInput{Name: "p1", CreatedBy: "alice", Steps: validSteps()})
	require.NoError(t, err)
	published, err := svc.Publish(context.Background(), def.ProcessID)
	require.NoError(t, err)
	next, err := svc.NewVersion(context.Background(), published.ProcessID, CreateDraftInput{Steps: validSteps(), CreatedBy: "alice"})
	require.NoError(t, err)

	found, err := svc.GetByName(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, next.ProcessID, found.ProcessID)

	pinned, err := svc.GetByName(context.Background(), "p1", &models.Version{Major: 1, Minor: 0})
	require.NoError(t, err)
	assert.Equal(t, published.ProcessID, pinned.ProcessID)
}

func TestGetByNameReturnsNotFoundForUnknownName(t *testing.T) {
	svc, _ := newProcessService()
	_, err := svc.GetByName(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestNewVersionBumpsMinorAndKeepsBasePublished(t *testing.T) {
	svc, _ := newProcessService()
	def, err := svc.CreateDraft(context.Background(), CreateDraftInput{Name: "p1", CreatedBy: "alice", Steps: validSteps()})
	require.NoError(t, err)
	published, err := svc.Publish(context.Background(), def.ProcessID)
	require.NoError(t, err)

	next, err := svc.NewVersion(context.Background(), published.ProcessID, CreateDraftInput{Steps: validSteps(), CreatedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.Version{Major: 1, Minor: 1}, next.Version)
	assert.Equal(t, models.ProcessDraft, next.Status)

	still, err := svc.Get(context.Background(), published.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessPublished, still.Status)
}
