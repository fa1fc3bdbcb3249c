// Package index assembles the catalog stores into one facade. The
// stores stay independent of each other; cross-store workflows, like
// re-reconciling product indexes after a metadata type update, live
// here instead of as back-references between stores.
package index

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/dbpool"
	"github.com/geodex/geodex/internal/models"
	"github.com/geodex/geodex/internal/store"
)

// Index is the assembled catalog: one store per resource, sharing a
// connection pool and logger.
type Index struct {
	MetadataTypes *store.MetadataTypeStore
	Products      *store.ProductStore
	Datasets      *store.DatasetStore
}

// New assembles an Index over a connection pool.
func New(pool *dbpool.Pool, log *logrus.Logger) *Index {
	base := store.Base{Pool: pool, Log: log}

	types := store.NewMetadataTypeStore(base)
	products := store.NewProductStore(base, types)
	datasets := store.NewDatasetStore(base, products)

	return &Index{
		MetadataTypes: types,
		Products:      products,
		Datasets:      datasets,
	}
}

// UpdateMetadataType applies a metadata type update and then reconciles
// the indexes of every product built on that type, since a changed
// field set changes which index objects each product needs.
func (ix *Index) UpdateMetadataType(
	ctx context.Context,
	def models.Document,
	allowUnsafe bool,
) (*models.MetadataType, error) {
	mdt, err := ix.MetadataTypes.Update(ctx, def, allowUnsafe)
	if err != nil {
		return nil, err
	}

	products, err := ix.Products.ByMetadataType(ctx, mdt.ID)
	if err != nil {
		return nil, err
	}

	for _, p := range products {
		if err := ix.Products.ReconcileIndexes(ctx, p); err != nil {
			return nil, err
		}
	}

	return mdt, nil
}

// Init reconciles index objects for every registered product, for use
// after migrations on an existing catalog.
func (ix *Index) Init(ctx context.Context) error {
	products, err := ix.Products.All(ctx)
	if err != nil {
		return err
	}

	for _, p := range products {
		if err := ix.Products.ReconcileIndexes(ctx, p); err != nil {
			return err
		}
	}

	return nil
}
