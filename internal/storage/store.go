package storage

import (
	"context"

	"beyondgd/internal/model"
)

// Store persists training runs and their artifacts.
type Store interface {
	Init(ctx context.Context) error
	// Reset drops every stored record.
	Reset(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveEntity(ctx context.Context, entity model.EntityRecord) error
	GetEntity(ctx context.Context, id string) (model.EntityRecord, bool, error)
	SavePopulation(ctx context.Context, snapshot model.PopulationSnapshot) error
	GetPopulation(ctx context.Context, id string) (model.PopulationSnapshot, bool, error)
	SaveEpochReports(ctx context.Context, runID string, reports []model.EpochReport) error
	GetEpochReports(ctx context.Context, runID string) ([]model.EpochReport, bool, error)
}
