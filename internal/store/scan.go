package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/geodex/geodex/internal/models"
)

// metadataTypeColumns lists the columns selected for metadata type queries.
const metadataTypeColumns = `id, name, definition, added`

// productColumns lists the columns selected for product queries.
const productColumns = `id, name, metadata_type_ref, definition, added`

// datasetColumns lists the columns selected for dataset queries,
// qualified because search predicates reference the same table.
const datasetColumns = `odc.dataset.id, odc.dataset.dataset_type_ref,
	odc.dataset.metadata, odc.dataset.archived, odc.dataset.added`

// scanMetadataType scans a single row into a models.MetadataType.
func scanMetadataType(scan func(dest ...any) error) (*models.MetadataType, error) {
	var t models.MetadataType
	var def []byte

	if err := scan(&t.ID, &t.Name, &def, &t.AddedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(def, &t.Definition); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata type definition: %w", err)
	}

	return &t, nil
}

// scanProduct scans a single row into a models.Product. The metadata
// type is left unresolved; callers attach it.
func scanProduct(scan func(dest ...any) error) (_ *models.Product, metadataTypeID int32, _ error) {
	var p models.Product
	var def []byte

	if err := scan(&p.ID, &p.Name, &metadataTypeID, &def, &p.AddedAt); err != nil {
		return nil, 0, err
	}

	if err := json.Unmarshal(def, &p.Definition); err != nil {
		return nil, 0, fmt.Errorf("unmarshalling product definition: %w", err)
	}

	return &p, metadataTypeID, nil
}

// scanDataset scans a single row into a models.Dataset. The product is
// left unresolved; callers attach it from the dataset_type_ref.
func scanDataset(scan func(dest ...any) error) (_ *models.Dataset, productID int32, _ error) {
	var d models.Dataset
	var doc []byte
	var archived *time.Time

	if err := scan(&d.ID, &productID, &doc, &archived, &d.IndexedAt); err != nil {
		return nil, 0, err
	}

	d.Archived = archived

	if err := json.Unmarshal(doc, &d.Metadata); err != nil {
		return nil, 0, fmt.Errorf("unmarshalling dataset metadata: %w", err)
	}

	return &d, productID, nil
}

// collectDatasets scans all rows into dataset/product-id pairs.
func collectDatasets(rows pgx.Rows) ([]*models.Dataset, []int32, error) {
	var datasets []*models.Dataset
	var productIDs []int32

	for rows.Next() {
		d, productID, err := scanDataset(rows.Scan)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning dataset row: %w", err)
		}

		datasets = append(datasets, d)
		productIDs = append(productIDs, productID)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating dataset rows: %w", err)
	}

	return datasets, productIDs, nil
}
