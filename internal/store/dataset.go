package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/geodex/geodex/internal/changes"
	"github.com/geodex/geodex/internal/metrics"
	"github.com/geodex/geodex/internal/models"
)

// maxSourceDepth guards recursive lineage resolution against cyclic or
// pathological source graphs.
const maxSourceDepth = 99

// DatasetStore handles dataset records: documents, locations, lineage
// and lifecycle. Search operations live in search.go on the same store.
type DatasetStore struct {
	Base

	products *ProductStore
}

// NewDatasetStore creates a new DatasetStore.
func NewDatasetStore(base Base, products *ProductStore) *DatasetStore {
	return &DatasetStore{Base: base, products: products}
}

// Add indexes a dataset. The metadata document is classified against
// product match rules (the dataset's own product if set, otherwise all
// live products); zero or multiple matches fail. The document, initial
// locations and lineage links are persisted in one transaction.
// Re-adding an existing id with identical content is a no-op; differing
// content becomes an additive-only update; a differing product is
// always rejected.
func (s *DatasetStore) Add(ctx context.Context, ds *models.Dataset) (*models.Dataset, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if ds.Metadata == nil {
		return nil, models.ValidationErrorf("dataset has no metadata document")
	}

	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}

	product, err := s.classify(ctx, ds)
	if err != nil {
		return nil, err
	}

	existing, err := s.Get(ctx, ds.ID, false)

	switch {
	case err == nil:
		if existing.Product.ID != product.ID {
			return nil, models.ValidationErrorf(
				"dataset %s already belongs to product %q", ds.ID, existing.Product.Name)
		}

		if models.SameDoc(existing.Metadata, ds.Metadata) && !hasNewLocations(existing, ds) {
			return existing, nil
		}

		return s.Update(ctx, ds, nil)
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	canonical, err := models.CanonicalDoc(ds.Metadata)
	if err != nil {
		return nil, fmt.Errorf("serialising dataset metadata: %w", err)
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("adding dataset: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	_, err = tx.Exec(ctx,
		`INSERT INTO odc.dataset (id, metadata_type_ref, dataset_type_ref, metadata)
		VALUES ($1, $2, $3, $4)`,
		ds.ID, product.MetadataType.ID, product.ID, canonical)
	if err != nil {
		return nil, fmt.Errorf("inserting dataset %s: %w", ds.ID, err)
	}

	for _, loc := range ds.Locations {
		if err := insertLocation(ctx, tx, ds.ID, loc.URI); err != nil {
			return nil, err
		}
	}

	for classifier, sourceID := range ds.SourceIDs {
		_, err := tx.Exec(ctx,
			`INSERT INTO odc.dataset_source (dataset_ref, classifier, source_dataset_ref)
			VALUES ($1, $2, $3)`,
			ds.ID, classifier, sourceID)
		if err != nil {
			return nil, fmt.Errorf("linking source %q of dataset %s: %w", classifier, ds.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing add dataset: %w", err)
	}

	metrics.DatasetsIndexed.Inc()

	s.Log.WithFields(map[string]any{
		"dataset": ds.ID,
		"product": product.Name,
	}).Info("dataset indexed")

	return s.Get(ctx, ds.ID, false)
}

// classify resolves which product owns the dataset's document.
func (s *DatasetStore) classify(ctx context.Context, ds *models.Dataset) (*models.Product, error) {
	if ds.Product != nil {
		if !changes.Contains(ds.Metadata, ds.Product.MatchRules()) {
			return nil, models.ValidationErrorf(
				"dataset %s does not match rules of product %q", ds.ID, ds.Product.Name)
		}

		return ds.Product, nil
	}

	all, err := s.products.All(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*models.Product

	for _, p := range all {
		if changes.Contains(ds.Metadata, p.MatchRules()) {
			matched = append(matched, p)
		}
	}

	switch len(matched) {
	case 1:
		return matched[0], nil
	case 0:
		return nil, fmt.Errorf("%w: dataset %s matches no product", models.ErrAmbiguousMatch, ds.ID)
	default:
		names := make([]string, len(matched))
		for i, p := range matched {
			names[i] = p.Name
		}

		return nil, fmt.Errorf("%w: dataset %s matches products %s",
			models.ErrAmbiguousMatch, ds.ID, strings.Join(names, ", "))
	}
}

// Update applies a changed document and appends new locations. By
// default only additive document changes are permitted; a change to an
// existing value is rejected unless its path (dotted) carries an
// explicit policy in allowed. On rejection the stored document is
// unchanged. Locations are history: updates append, never mutate.
func (s *DatasetStore) Update(
	ctx context.Context,
	ds *models.Dataset,
	allowed map[string]changes.Policy,
) (*models.Dataset, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	stored, err := s.Get(ctx, ds.ID, false)
	if err != nil {
		return nil, err
	}

	if ds.Product != nil && ds.Product.ID != stored.Product.ID {
		return nil, models.ValidationErrorf(
			"dataset %s: product is immutable (stored %q)", ds.ID, stored.Product.Name)
	}

	// The stored product's match rules must still hold unless the
	// caller whitelisted the changed paths.
	if !changes.Contains(ds.Metadata, stored.Product.MatchRules()) && len(allowed) == 0 {
		return nil, models.ValidationErrorf(
			"dataset %s update violates match rules of product %q", ds.ID, stored.Product.Name)
	}

	diff := changes.AllChanges(stored.Metadata, ds.Metadata)

	if bad := changes.Offending(diff, allowed, changes.AllowAddition); len(bad) > 0 {
		return nil, models.ValidationErrorf("unsafe dataset update for %s: %v", ds.ID, bad)
	}

	canonical, err := models.CanonicalDoc(ds.Metadata)
	if err != nil {
		return nil, fmt.Errorf("serialising dataset metadata: %w", err)
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("updating dataset: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	if len(diff) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE odc.dataset SET metadata = $2 WHERE id = $1`, ds.ID, canonical)
		if err != nil {
			return nil, fmt.Errorf("updating dataset %s document: %w", ds.ID, err)
		}
	}

	for _, loc := range ds.Locations {
		if err := insertLocation(ctx, tx, ds.ID, loc.URI); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing update dataset: %w", err)
	}

	return s.Get(ctx, ds.ID, false)
}

// insertLocation appends a location, split into scheme and body the way
// driver dispatch reads it back. Re-adding a known location is a no-op.
func insertLocation(ctx context.Context, tx pgx.Tx, id uuid.UUID, uri string) error {
	scheme, body := splitURI(uri)

	_, err := tx.Exec(ctx,
		`INSERT INTO odc.dataset_location (dataset_ref, uri_scheme, uri_body)
		VALUES ($1, $2, $3)
		ON CONFLICT (dataset_ref, uri_scheme, uri_body) DO NOTHING`,
		id, scheme, body)
	if err != nil {
		return fmt.Errorf("inserting location %q for dataset %s: %w", uri, id, err)
	}

	return nil
}

func splitURI(uri string) (scheme, body string) {
	if s, b, ok := strings.Cut(uri, ":"); ok && s != "" {
		return s, b
	}

	return models.DefaultURIScheme, uri
}

// AddLocation appends a location to a dataset. Returns false if the
// location was already present.
func (s *DatasetStore) AddLocation(ctx context.Context, id uuid.UUID, uri string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	scheme, body := splitURI(uri)

	tag, err := s.Pool.Exec(ctx,
		`INSERT INTO odc.dataset_location (dataset_ref, uri_scheme, uri_body)
		VALUES ($1, $2, $3)
		ON CONFLICT (dataset_ref, uri_scheme, uri_body) DO NOTHING`,
		id, scheme, body)
	if err != nil {
		return false, fmt.Errorf("adding location %q to dataset %s: %w", uri, id, err)
	}

	return tag.RowsAffected() > 0, nil
}

// ArchiveLocation archives one (dataset, location) pair. Returns false
// without error when the uri is absent or already archived, so callers
// can report nothing-to-do.
func (s *DatasetStore) ArchiveLocation(ctx context.Context, id uuid.UUID, uri string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	scheme, body := splitURI(uri)

	tag, err := s.Pool.Exec(ctx,
		`UPDATE odc.dataset_location SET archived = now()
		WHERE dataset_ref = $1 AND uri_scheme = $2 AND uri_body = $3 AND archived IS NULL`,
		id, scheme, body)
	if err != nil {
		return false, fmt.Errorf("archiving location %q of dataset %s: %w", uri, id, err)
	}

	return tag.RowsAffected() > 0, nil
}

// RestoreLocation re-activates a previously archived location. Returns
// false when the uri is absent or already active.
func (s *DatasetStore) RestoreLocation(ctx context.Context, id uuid.UUID, uri string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	scheme, body := splitURI(uri)

	tag, err := s.Pool.Exec(ctx,
		`UPDATE odc.dataset_location SET archived = NULL
		WHERE dataset_ref = $1 AND uri_scheme = $2 AND uri_body = $3 AND archived IS NOT NULL`,
		id, scheme, body)
	if err != nil {
		return false, fmt.Errorf("restoring location %q of dataset %s: %w", uri, id, err)
	}

	return tag.RowsAffected() > 0, nil
}

// Archive marks a dataset archived. Datasets are never deleted.
func (s *DatasetStore) Archive(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx,
		`UPDATE odc.dataset SET archived = now() WHERE id = $1 AND archived IS NULL`, id)
	if err != nil {
		return fmt.Errorf("archiving dataset %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrDatasetNotFound
	}

	return nil
}

// Restore re-activates an archived dataset.
func (s *DatasetStore) Restore(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx,
		`UPDATE odc.dataset SET archived = NULL WHERE id = $1 AND archived IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("restoring dataset %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrDatasetNotFound
	}

	return nil
}

// Get fetches a dataset by id with its product, locations and source
// ids. With includeSources the lineage graph is resolved recursively,
// depth-guarded against cycles.
func (s *DatasetStore) Get(ctx context.Context, id uuid.UUID, includeSources bool) (*models.Dataset, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return s.get(ctx, id, includeSources, 0, map[uuid.UUID]bool{})
}

func (s *DatasetStore) get(
	ctx context.Context,
	id uuid.UUID,
	includeSources bool,
	depth int,
	seen map[uuid.UUID]bool,
) (*models.Dataset, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+datasetColumns+` FROM odc.dataset WHERE odc.dataset.id = $1`, id)

	d, productID, err := scanDataset(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrDatasetNotFound, id)
		}

		return nil, fmt.Errorf("fetching dataset %s: %w", id, err)
	}

	if d.Product, err = s.products.Get(ctx, productID); err != nil {
		return nil, err
	}

	if err := s.loadLocations(ctx, d); err != nil {
		return nil, err
	}

	if err := s.loadSourceIDs(ctx, d); err != nil {
		return nil, err
	}

	if includeSources && depth < maxSourceDepth && !seen[id] {
		seen[id] = true
		d.Sources = make(map[string]*models.Dataset, len(d.SourceIDs))

		for classifier, sourceID := range d.SourceIDs {
			src, err := s.get(ctx, sourceID, true, depth+1, seen)
			if err != nil {
				return nil, fmt.Errorf("resolving source %q of dataset %s: %w", classifier, id, err)
			}

			d.Sources[classifier] = src
		}
	}

	return d, nil
}

// GetDerived enumerates the datasets whose lineage references id.
func (s *DatasetStore) GetDerived(ctx context.Context, id uuid.UUID) ([]*models.Dataset, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT `+datasetColumns+`
		FROM odc.dataset
		JOIN odc.dataset_source ON odc.dataset_source.dataset_ref = odc.dataset.id
		WHERE odc.dataset_source.source_dataset_ref = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("fetching derived datasets of %s: %w", id, err)
	}
	defer rows.Close()

	datasets, productIDs, err := collectDatasets(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attach(ctx, datasets, productIDs); err != nil {
		return nil, err
	}

	return datasets, nil
}

// loadLocations fills a dataset's location list, newest first.
func (s *DatasetStore) loadLocations(ctx context.Context, d *models.Dataset) error {
	rows, err := s.Pool.Query(ctx,
		`SELECT uri_scheme || ':' || uri_body, added, archived
		FROM odc.dataset_location
		WHERE dataset_ref = $1
		ORDER BY added DESC, id DESC`, d.ID)
	if err != nil {
		return fmt.Errorf("fetching locations of dataset %s: %w", d.ID, err)
	}
	defer rows.Close()

	d.Locations = nil

	for rows.Next() {
		var loc models.Location
		if err := rows.Scan(&loc.URI, &loc.AddedAt, &loc.Archived); err != nil {
			return fmt.Errorf("scanning location row: %w", err)
		}

		d.Locations = append(d.Locations, loc)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating location rows: %w", err)
	}

	return nil
}

func (s *DatasetStore) loadSourceIDs(ctx context.Context, d *models.Dataset) error {
	rows, err := s.Pool.Query(ctx,
		`SELECT classifier, source_dataset_ref
		FROM odc.dataset_source WHERE dataset_ref = $1`, d.ID)
	if err != nil {
		return fmt.Errorf("fetching sources of dataset %s: %w", d.ID, err)
	}
	defer rows.Close()

	d.SourceIDs = map[string]uuid.UUID{}

	for rows.Next() {
		var classifier string
		var sourceID uuid.UUID

		if err := rows.Scan(&classifier, &sourceID); err != nil {
			return fmt.Errorf("scanning source row: %w", err)
		}

		d.SourceIDs[classifier] = sourceID
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating source rows: %w", err)
	}

	return nil
}

// attach resolves products (each distinct product once) and loads
// locations and source ids for a batch of scanned datasets.
func (s *DatasetStore) attach(ctx context.Context, datasets []*models.Dataset, productIDs []int32) error {
	cache := map[int32]*models.Product{}

	for i, d := range datasets {
		p, ok := cache[productIDs[i]]
		if !ok {
			var err error

			p, err = s.products.Get(ctx, productIDs[i])
			if err != nil {
				return err
			}

			cache[productIDs[i]] = p
		}

		d.Product = p

		if err := s.loadLocations(ctx, d); err != nil {
			return err
		}

		if err := s.loadSourceIDs(ctx, d); err != nil {
			return err
		}
	}

	return nil
}

func hasNewLocations(stored, incoming *models.Dataset) bool {
	known := map[string]bool{}

	for _, loc := range stored.Locations {
		scheme, body := splitURI(loc.URI)
		known[scheme+":"+body] = true
	}

	for _, loc := range incoming.Locations {
		scheme, body := splitURI(loc.URI)
		if !known[scheme+":"+body] {
			return true
		}
	}

	return false
}
