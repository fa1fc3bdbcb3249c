package api_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/geodex/geodex/internal/changes"
	"github.com/geodex/geodex/internal/models"
)

// mockMetadataTypes implements api.MetadataTypeService for testing.
type mockMetadataTypes struct {
	addFn       func(ctx context.Context, def models.Document) (*models.MetadataType, error)
	getByNameFn func(ctx context.Context, name string) (*models.MetadataType, error)
	allFn       func(ctx context.Context) ([]*models.MetadataType, error)
}

func (m *mockMetadataTypes) Add(ctx context.Context, def models.Document) (*models.MetadataType, error) {
	return m.addFn(ctx, def)
}

func (m *mockMetadataTypes) GetByName(ctx context.Context, name string) (*models.MetadataType, error) {
	return m.getByNameFn(ctx, name)
}

func (m *mockMetadataTypes) All(ctx context.Context) ([]*models.MetadataType, error) {
	return m.allFn(ctx)
}

// mockCatalog implements api.CatalogService for testing.
type mockCatalog struct {
	updateFn func(ctx context.Context, def models.Document, allowUnsafe bool) (*models.MetadataType, error)
}

func (m *mockCatalog) UpdateMetadataType(ctx context.Context, def models.Document, allowUnsafe bool) (*models.MetadataType, error) {
	return m.updateFn(ctx, def, allowUnsafe)
}

// mockProducts implements api.ProductService for testing.
type mockProducts struct {
	addFn       func(ctx context.Context, def models.Document) (*models.Product, error)
	updateFn    func(ctx context.Context, def models.Document, allowUnsafe bool) (*models.Product, error)
	getByNameFn func(ctx context.Context, name string) (*models.Product, error)
	allFn       func(ctx context.Context) ([]*models.Product, error)
}

func (m *mockProducts) Add(ctx context.Context, def models.Document) (*models.Product, error) {
	return m.addFn(ctx, def)
}

func (m *mockProducts) Update(ctx context.Context, def models.Document, allowUnsafe bool) (*models.Product, error) {
	return m.updateFn(ctx, def, allowUnsafe)
}

func (m *mockProducts) GetByName(ctx context.Context, name string) (*models.Product, error) {
	return m.getByNameFn(ctx, name)
}

func (m *mockProducts) All(ctx context.Context) ([]*models.Product, error) {
	return m.allFn(ctx)
}

// mockDatasets implements api.DatasetService for testing.
type mockDatasets struct {
	addFn        func(ctx context.Context, ds *models.Dataset) (*models.Dataset, error)
	updateFn     func(ctx context.Context, ds *models.Dataset, allowed map[string]changes.Policy) (*models.Dataset, error)
	getFn        func(ctx context.Context, id uuid.UUID, includeSources bool) (*models.Dataset, error)
	getDerivedFn func(ctx context.Context, id uuid.UUID) ([]*models.Dataset, error)
	archiveFn    func(ctx context.Context, id uuid.UUID) error
	restoreFn    func(ctx context.Context, id uuid.UUID) error

	addLocationFn     func(ctx context.Context, id uuid.UUID, uri string) (bool, error)
	archiveLocationFn func(ctx context.Context, id uuid.UUID, uri string) (bool, error)
	restoreLocationFn func(ctx context.Context, id uuid.UUID, uri string) (bool, error)

	searchEagerFn      func(ctx context.Context, q models.Query) ([]*models.Dataset, error)
	searchByProductFn  func(ctx context.Context, q models.Query) ([]models.ProductDatasets, error)
	searchReturningFn  func(ctx context.Context, q models.Query, names []string) ([][]any, error)
	searchRobustFn     func(ctx context.Context, q models.Query) ([]models.RobustResult, error)
	countFn            func(ctx context.Context, q models.Query) (int, error)
	countByProductFn   func(ctx context.Context, q models.Query) ([]models.ProductCount, error)
	countThroughTimeFn func(ctx context.Context, q models.Query, field string, period time.Duration) ([]models.TimeBucket, error)
}

func (m *mockDatasets) Add(ctx context.Context, ds *models.Dataset) (*models.Dataset, error) {
	return m.addFn(ctx, ds)
}

func (m *mockDatasets) Update(ctx context.Context, ds *models.Dataset, allowed map[string]changes.Policy) (*models.Dataset, error) {
	return m.updateFn(ctx, ds, allowed)
}

func (m *mockDatasets) Get(ctx context.Context, id uuid.UUID, includeSources bool) (*models.Dataset, error) {
	return m.getFn(ctx, id, includeSources)
}

func (m *mockDatasets) GetDerived(ctx context.Context, id uuid.UUID) ([]*models.Dataset, error) {
	return m.getDerivedFn(ctx, id)
}

func (m *mockDatasets) Archive(ctx context.Context, id uuid.UUID) error {
	return m.archiveFn(ctx, id)
}

func (m *mockDatasets) Restore(ctx context.Context, id uuid.UUID) error {
	return m.restoreFn(ctx, id)
}

func (m *mockDatasets) AddLocation(ctx context.Context, id uuid.UUID, uri string) (bool, error) {
	return m.addLocationFn(ctx, id, uri)
}

func (m *mockDatasets) ArchiveLocation(ctx context.Context, id uuid.UUID, uri string) (bool, error) {
	return m.archiveLocationFn(ctx, id, uri)
}

func (m *mockDatasets) RestoreLocation(ctx context.Context, id uuid.UUID, uri string) (bool, error) {
	return m.restoreLocationFn(ctx, id, uri)
}

func (m *mockDatasets) SearchEager(ctx context.Context, q models.Query) ([]*models.Dataset, error) {
	return m.searchEagerFn(ctx, q)
}

func (m *mockDatasets) SearchByProduct(ctx context.Context, q models.Query) ([]models.ProductDatasets, error) {
	return m.searchByProductFn(ctx, q)
}

func (m *mockDatasets) SearchReturning(ctx context.Context, q models.Query, names []string) ([][]any, error) {
	return m.searchReturningFn(ctx, q, names)
}

func (m *mockDatasets) SearchRobust(ctx context.Context, q models.Query) ([]models.RobustResult, error) {
	return m.searchRobustFn(ctx, q)
}

func (m *mockDatasets) Count(ctx context.Context, q models.Query) (int, error) {
	return m.countFn(ctx, q)
}

func (m *mockDatasets) CountByProduct(ctx context.Context, q models.Query) ([]models.ProductCount, error) {
	return m.countByProductFn(ctx, q)
}

func (m *mockDatasets) CountThroughTime(ctx context.Context, q models.Query, field string, period time.Duration) ([]models.TimeBucket, error) {
	return m.countThroughTimeFn(ctx, q, field, period)
}
