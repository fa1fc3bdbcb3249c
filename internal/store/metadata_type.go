package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/geodex/geodex/internal/changes"
	"github.com/geodex/geodex/internal/fields"
	"github.com/geodex/geodex/internal/models"
)

// MetadataTypeStore handles metadata type registration and evolution.
type MetadataTypeStore struct {
	Base
}

// NewMetadataTypeStore creates a new MetadataTypeStore.
func NewMetadataTypeStore(base Base) *MetadataTypeStore {
	return &MetadataTypeStore{Base: base}
}

// Add registers a metadata type from its definition document.
// Idempotent: re-adding an equivalent definition returns the stored
// type; a differing definition under the same name is a validation
// error, never a silent overwrite.
func (s *MetadataTypeStore) Add(ctx context.Context, def models.Document) (*models.MetadataType, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	name, err := validateMetadataTypeDef(def)
	if err != nil {
		return nil, err
	}

	existing, err := s.GetByName(ctx, name)

	switch {
	case err == nil:
		if models.SameDoc(existing.Definition, def) {
			return existing, nil
		}

		return nil, models.ValidationErrorf("metadata type %q already exists with a different definition", name)
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	canonical, err := models.CanonicalDoc(def)
	if err != nil {
		return nil, fmt.Errorf("serialising metadata type definition: %w", err)
	}

	row := s.Pool.QueryRow(ctx,
		`INSERT INTO odc.metadata_type (name, definition) VALUES ($1, $2)
		RETURNING `+metadataTypeColumns, name, canonical)

	t, err := scanMetadataType(row.Scan)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost an add race; compare against the winner.
			return s.Add(ctx, def)
		}

		return nil, fmt.Errorf("inserting metadata type %q: %w", name, err)
	}

	s.Log.WithField("metadata_type", name).Info("metadata type added")

	return t, nil
}

// Update applies a changed definition. Safe changes (new fields,
// description edits) always apply; anything that alters the meaning of
// an existing field's indexed data (type or offset changes, removals)
// is rejected unless allowUnsafe is set. The stored definition is
// untouched on rejection.
func (s *MetadataTypeStore) Update(
	ctx context.Context,
	def models.Document,
	allowUnsafe bool,
) (*models.MetadataType, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	name, err := validateMetadataTypeDef(def)
	if err != nil {
		return nil, err
	}

	stored, err := s.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if models.SameDoc(stored.Definition, def) {
		return stored, nil
	}

	diff := changes.AllChanges(stored.Definition, def)

	if bad := changes.Offending(diff, s.safePolicies(stored), nil); len(bad) > 0 && !allowUnsafe {
		return nil, models.ValidationErrorf("unsafe metadata type update for %q: %v", name, bad)
	}

	canonical, err := models.CanonicalDoc(def)
	if err != nil {
		return nil, fmt.Errorf("serialising metadata type definition: %w", err)
	}

	row := s.Pool.QueryRow(ctx,
		`UPDATE odc.metadata_type SET definition = $2 WHERE name = $1
		RETURNING `+metadataTypeColumns, name, canonical)

	t, err := scanMetadataType(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("updating metadata type %q: %w", name, err)
	}

	s.Log.WithFields(map[string]any{
		"metadata_type": name,
		"allow_unsafe":  allowUnsafe,
	}).Info("metadata type updated")

	return t, nil
}

// safePolicies builds the change policies for a metadata type update:
// descriptions may change freely, and new search fields may be added.
// Everything touching an existing field's type or offsets falls through
// to the nil default and is classified unsafe.
func (s *MetadataTypeStore) safePolicies(stored *models.MetadataType) map[string]changes.Policy {
	policies := map[string]changes.Policy{
		"description":           changes.AllowAny,
		"dataset.search_fields": changes.AllowAddition,
	}

	for name := range stored.SearchFields() {
		policies["dataset.search_fields."+name+".description"] = changes.AllowAny
	}

	return policies
}

// GetByName fetches a metadata type by name.
func (s *MetadataTypeStore) GetByName(ctx context.Context, name string) (*models.MetadataType, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx,
		`SELECT `+metadataTypeColumns+` FROM odc.metadata_type WHERE name = $1`, name)

	t, err := scanMetadataType(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", models.ErrMetadataTypeNotFound, name)
		}

		return nil, fmt.Errorf("fetching metadata type %q: %w", name, err)
	}

	return t, nil
}

// Get fetches a metadata type by id.
func (s *MetadataTypeStore) Get(ctx context.Context, id int32) (*models.MetadataType, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx,
		`SELECT `+metadataTypeColumns+` FROM odc.metadata_type WHERE id = $1`, id)

	t, err := scanMetadataType(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", models.ErrMetadataTypeNotFound, id)
		}

		return nil, fmt.Errorf("fetching metadata type %d: %w", id, err)
	}

	return t, nil
}

// All returns every registered metadata type.
func (s *MetadataTypeStore) All(ctx context.Context) ([]*models.MetadataType, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT `+metadataTypeColumns+` FROM odc.metadata_type ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing metadata types: %w", err)
	}
	defer rows.Close()

	var types []*models.MetadataType

	for rows.Next() {
		t, err := scanMetadataType(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning metadata type row: %w", err)
		}

		types = append(types, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating metadata type rows: %w", err)
	}

	return types, nil
}

// validateMetadataTypeDef checks the definition's name and compiles
// every declared field, so malformed offsets fail at registration.
func validateMetadataTypeDef(def models.Document) (string, error) {
	name, _ := def["name"].(string)
	if !validName(name) {
		return "", models.ValidationErrorf("invalid metadata type name %q", name)
	}

	t := models.MetadataType{Name: name, Definition: def}

	parsed, err := fields.ParseDefs(t.SearchFields())
	if err != nil {
		return "", err
	}

	for _, fd := range parsed {
		if _, err := fields.Compile(fd, fields.DatasetColumn); err != nil {
			return "", err
		}
	}

	return name, nil
}
