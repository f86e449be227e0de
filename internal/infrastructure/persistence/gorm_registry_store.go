package persistence

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/relayforge/gateway/internal/domain/registry"
	"github.com/relayforge/gateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/relayforge/gateway/pkg/errors"
)

// GormRegistryStore is the gorm-backed registry.Store: an
// upsert-keyed-by-run_id table, matching
// original_source/core/registry.py's "INSERT OR REPLACE" persistence
// and the teacher's gorm_agent_repository.go adapter shape.
type GormRegistryStore struct {
	db *gorm.DB
}

// NewGormRegistryStore creates a registry.Store backed by db. Callers
// must AutoMigrate(&models.SubAgentRunModel{}) once at startup.
func NewGormRegistryStore(db *gorm.DB) *GormRegistryStore {
	return &GormRegistryStore{db: db}
}

func (s *GormRegistryStore) Upsert(ctx context.Context, run *registry.SubAgentRun) error {
	model := toRunModel(run)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(model).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("registry store: upsert failed", err)
	}
	return nil
}

func (s *GormRegistryStore) LoadNonTerminal(ctx context.Context) ([]*registry.SubAgentRun, error) {
	var rows []models.SubAgentRunModel
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(registry.StatusPending), string(registry.StatusRunning)}).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("registry store: load non-terminal failed", err)
	}

	runs := make([]*registry.SubAgentRun, 0, len(rows))
	for i := range rows {
		runs = append(runs, fromRunModel(&rows[i]))
	}
	return runs, nil
}

func toRunModel(run *registry.SubAgentRun) *models.SubAgentRunModel {
	return &models.SubAgentRunModel{
		RunID:           run.RunID,
		ParentSessionID: run.ParentSessionID,
		Task:            run.Task,
		Label:           run.Label,
		Status:          string(run.Status),
		Result:          run.Result,
		Error:           run.Error,
		Model:           run.Model,
		CreatedAt:       run.CreatedAt,
		StartedAt:       run.StartedAt,
		CompletedAt:     run.CompletedAt,
	}
}

func fromRunModel(m *models.SubAgentRunModel) *registry.SubAgentRun {
	return &registry.SubAgentRun{
		RunID:           m.RunID,
		ParentSessionID: m.ParentSessionID,
		Task:            m.Task,
		Label:           m.Label,
		Status:          registry.RunStatus(m.Status),
		Result:          m.Result,
		Error:           m.Error,
		Model:           m.Model,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
	}
}
