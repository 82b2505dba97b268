// Package services implements Trinity's thin command services: one type
// per aggregate, each a small layer over pkg/repo translating inputs into
// aggregate mutations and classified errors. Grounded on the teacher's
// pkg/services/*.go shape (validate input, call the repo, wrap storage
// failures), with ent's generated client replaced by the repo
// interfaces and sentinel errors replaced by pkg/errs's closed taxonomy.
package services

import (
	"context"

	"github.com/trinity-run/trinity/pkg/clock"
	"github.com/trinity-run/trinity/pkg/dependency"
	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/models"
	"github.com/trinity-run/trinity/pkg/repo"
)

// ProcessService manages ProcessDefinition creation, versioning, and
// publication.
type ProcessService struct {
	defs  repo.ProcessDefinitionRepo
	clock clock.Clock
	ids   clock.IdGen
}

// NewProcessService returns a ProcessService backed by defs.
func NewProcessService(defs repo.ProcessDefinitionRepo, c clock.Clock, ids clock.IdGen) *ProcessService {
	if defs == nil {
		panic("NewProcessService: defs must not be nil")
	}
	return &ProcessService{defs: defs, clock: c, ids: ids}
}

// CreateDraftInput is the caller-supplied shape of a new draft.
type CreateDraftInput struct {
	Name      string
	Steps     []models.StepDefinition
	Triggers  []models.Trigger
	Output    *models.OutputConfig
	CreatedBy string
	OwnerTeam string

	MaxConcurrentInstances int
	Priority               int
	DataClassification     models.DataClassification
	MaxCost                float64
}

// CreateDraft creates a new process definition at version 1.0 in draft
// status. Publish-time invariants (acyclicity, unique step ids, and so
// on) are intentionally not enforced here: a draft is allowed to be
// incomplete while it is being authored.
func (s *ProcessService) CreateDraft(ctx context.Context, input CreateDraftInput) (*models.ProcessDefinition, error) {
	if input.Name == "" {
		return nil, errs.New(errs.Validation, "process name is required")
	}
	if input.CreatedBy == "" {
		return nil, errs.New(errs.Validation, "created_by is required")
	}

	def := &models.ProcessDefinition{
		ProcessID:              s.ids.NewID(),
		Name:                   input.Name,
		Version:                models.Version{Major: 1, Minor: 0},
		Status:                 models.ProcessDraft,
		Steps:                  input.Steps,
		Triggers:               input.Triggers,
		Output:                 input.Output,
		CreatedBy:              input.CreatedBy,
		CreatedAt:              s.clock.Now(),
		OwnerTeam:              input.OwnerTeam,
		MaxConcurrentInstances: input.MaxConcurrentInstances,
		Priority:               input.Priority,
		DataClassification:     input.DataClassification,
		MaxCost:                input.MaxCost,
	}
	if err := s.defs.Save(ctx, def); err != nil {
		return nil, errs.Wrap(errs.InternalError, "failed to save process draft", err)
	}
	return def, nil
}

// Get returns a process definition by id.
func (s *ProcessService) Get(ctx context.Context, processID string) (*models.ProcessDefinition, error) {
	def, err := s.defs.GetByID(ctx, processID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "process not found", err)
	}
	return def, nil
}

// GetByName resolves a process by name and optional version, defaulting
// to the latest version when version is nil. Used by the execution
// trigger endpoint, which addresses processes by name rather than id.
func (s *ProcessService) GetByName(ctx context.Context, name string, version *models.Version) (*models.ProcessDefinition, error) {
	if version != nil {
		def, err := s.defs.GetByName(ctx, name, version)
		if err != nil {
			return nil, errs.Wrap(errs.NotFound, "process not found", err)
		}
		return def, nil
	}
	def, err := s.defs.GetLatestVersion(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "process not found", err)
	}
	return def, nil
}

// List returns process definitions, optionally filtered by status.
func (s *ProcessService) List(ctx context.Context, status *models.ProcessStatus) ([]*models.ProcessDefinition, error) {
	defs, err := s.defs.List(ctx, status)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "failed to list processes", err)
	}
	return defs, nil
}

// Update replaces the editable fields of a draft in place. Published or
// archived definitions cannot be edited; call NewVersion instead.
func (s *ProcessService) Update(ctx context.Context, processID string, input CreateDraftInput) (*models.ProcessDefinition, error) {
	def, err := s.Get(ctx, processID)
	if err != nil {
		return nil, err
	}
	if def.Status != models.ProcessDraft {
		return nil, errs.New(errs.StateConflict, "only a draft definition can be updated in place")
	}
	def.Steps = input.Steps
	def.Triggers = input.Triggers
	def.Output = input.Output
	if input.Name != "" {
		def.Name = input.Name
	}
	if err := s.defs.Save(ctx, def); err != nil {
		return nil, errs.Wrap(errs.InternalError, "failed to save process update", err)
	}
	return def, nil
}

// Delete retires a draft definition by setting its status to archived;
// the stored row is kept. A definition that is not a draft is refused
// with StateConflict.
func (s *ProcessService) Delete(ctx context.Context, processID string) error {
	def, err := s.Get(ctx, processID)
	if err != nil {
		return err
	}
	if def.Status != models.ProcessDraft {
		return errs.New(errs.StateConflict, "only a draft definition can be deleted; archive a published one instead")
	}
	def.Status = models.ProcessArchived
	return s.defs.Save(ctx, def)
}

// Publish validates def's DAG shape and transitions it from draft to
// published. Once published, a definition is immutable: further changes
// go through NewVersion.
func (s *ProcessService) Publish(ctx context.Context, processID string) (*models.ProcessDefinition, error) {
	def, err := s.Get(ctx, processID)
	if err != nil {
		return nil, err
	}
	if def.Status != models.ProcessDraft {
		return nil, errs.New(errs.StateConflict, "only a draft definition can be published")
	}
	if err := dependency.Validate(def); err != nil {
		return nil, err
	}
	def.Status = models.ProcessPublished
	now := s.clock.Now()
	def.PublishedAt = &now
	if err := s.defs.Save(ctx, def); err != nil {
		return nil, errs.Wrap(errs.InternalError, "failed to save published process", err)
	}
	return def, nil
}

// Archive retires a published definition so it can no longer be
// triggered, without deleting its history.
func (s *ProcessService) Archive(ctx context.Context, processID string) error {
	def, err := s.Get(ctx, processID)
	if err != nil {
		return err
	}
	if def.Status == models.ProcessArchived {
		return nil
	}
	def.Status = models.ProcessArchived
	return s.defs.Save(ctx, def)
}

// NewVersion creates a new draft version of a published process, bumping
// the minor version, leaving the existing published version untouched
// and runnable.
func (s *ProcessService) NewVersion(ctx context.Context, processID string, input CreateDraftInput) (*models.ProcessDefinition, error) {
	base, err := s.Get(ctx, processID)
	if err != nil {
		return nil, err
	}
	next := &models.ProcessDefinition{
		ProcessID:              s.ids.NewID(),
		Name:                   base.Name,
		Version:                models.Version{Major: base.Version.Major, Minor: base.Version.Minor + 1},
		Status:                 models.ProcessDraft,
		Steps:                  input.Steps,
		Triggers:               input.Triggers,
		Output:                 input.Output,
		CreatedBy:              input.CreatedBy,
		CreatedAt:              s.clock.Now(),
		OwnerTeam:              base.OwnerTeam,
		MaxConcurrentInstances: input.MaxConcurrentInstances,
		Priority:               input.Priority,
		DataClassification:     input.DataClassification,
		MaxCost:                input.MaxCost,
	}
	if err := s.defs.Save(ctx, next); err != nil {
		return nil, errs.Wrap(errs.InternalError, "failed to save process version", err)
	}
	return next, nil
}
