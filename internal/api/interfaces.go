package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/geodex/geodex/internal/changes"
	"github.com/geodex/geodex/internal/models"
)

// Service interfaces consumed by the handlers. The store types satisfy
// them; tests substitute mocks.

// MetadataTypeService covers metadata type registration and lookup.
// Updates go through CatalogService so index reconciliation runs.
type MetadataTypeService interface {
	Add(ctx context.Context, def models.Document) (*models.MetadataType, error)
	GetByName(ctx context.Context, name string) (*models.MetadataType, error)
	All(ctx context.Context) ([]*models.MetadataType, error)
}

// CatalogService covers workflows spanning more than one store.
type CatalogService interface {
	UpdateMetadataType(ctx context.Context, def models.Document, allowUnsafe bool) (*models.MetadataType, error)
}

// ProductService covers product registration, evolution and matching.
type ProductService interface {
	Add(ctx context.Context, def models.Document) (*models.Product, error)
	Update(ctx context.Context, def models.Document, allowUnsafe bool) (*models.Product, error)
	GetByName(ctx context.Context, name string) (*models.Product, error)
	All(ctx context.Context) ([]*models.Product, error)
}

// DatasetService covers dataset lifecycle, locations, lineage and the
// search operations.
type DatasetService interface {
	Add(ctx context.Context, ds *models.Dataset) (*models.Dataset, error)
	Update(ctx context.Context, ds *models.Dataset, allowed map[string]changes.Policy) (*models.Dataset, error)
	Get(ctx context.Context, id uuid.UUID, includeSources bool) (*models.Dataset, error)
	GetDerived(ctx context.Context, id uuid.UUID) ([]*models.Dataset, error)
	Archive(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, id uuid.UUID) error

	AddLocation(ctx context.Context, id uuid.UUID, uri string) (bool, error)
	ArchiveLocation(ctx context.Context, id uuid.UUID, uri string) (bool, error)
	RestoreLocation(ctx context.Context, id uuid.UUID, uri string) (bool, error)

	SearchEager(ctx context.Context, q models.Query) ([]*models.Dataset, error)
	SearchByProduct(ctx context.Context, q models.Query) ([]models.ProductDatasets, error)
	SearchReturning(ctx context.Context, q models.Query, names []string) ([][]any, error)
	SearchRobust(ctx context.Context, q models.Query) ([]models.RobustResult, error)
	Count(ctx context.Context, q models.Query) (int, error)
	CountByProduct(ctx context.Context, q models.Query) ([]models.ProductCount, error)
	CountThroughTime(ctx context.Context, q models.Query, field string, period time.Duration) ([]models.TimeBucket, error)
}
