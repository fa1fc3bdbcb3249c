package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/geodex/geodex/internal/changes"
	"github.com/geodex/geodex/internal/models"
)

// ProductStore handles product (dataset type) registration, schema
// evolution and the dynamic index lifecycle that goes with it.
type ProductStore struct {
	Base

	types *MetadataTypeStore
}

// NewProductStore creates a new ProductStore.
func NewProductStore(base Base, types *MetadataTypeStore) *ProductStore {
	return &ProductStore{Base: base, types: types}
}

// Add registers a product from its definition document. Idempotent on
// equivalent definitions; a differing definition under the same name is
// a validation error. Match rules that overlap an existing live
// product's rules are rejected at registration rather than leaving
// dataset classification ambiguous.
func (s *ProductStore) Add(ctx context.Context, def models.Document) (*models.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	def, mdt, err := s.normalizeProductDef(ctx, def)
	if err != nil {
		return nil, err
	}

	name := def["name"].(string)

	existing, err := s.GetByName(ctx, name)

	switch {
	case err == nil:
		if models.SameDoc(existing.Definition, def) {
			return existing, nil
		}

		return nil, models.ValidationErrorf("product %q already exists with a different definition", name)
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	candidate := &models.Product{Name: name, Definition: def, MetadataType: mdt}

	if err := s.checkMatchRuleOverlap(ctx, candidate); err != nil {
		return nil, err
	}

	canonical, err := models.CanonicalDoc(def)
	if err != nil {
		return nil, fmt.Errorf("serialising product definition: %w", err)
	}

	row := s.Pool.QueryRow(ctx,
		`INSERT INTO odc.dataset_type (name, metadata_type_ref, definition) VALUES ($1, $2, $3)
		RETURNING `+productColumns, name, mdt.ID, canonical)

	p, _, err := scanProduct(row.Scan)
	if err != nil {
		if isUniqueViolation(err) {
			return s.Add(ctx, def)
		}

		return nil, fmt.Errorf("inserting product %q: %w", name, err)
	}

	p.MetadataType = mdt

	if err := s.ReconcileIndexes(ctx, p); err != nil {
		return nil, err
	}

	s.Log.WithField("product", name).Info("product added")

	return p, nil
}

// Update applies a changed product definition. Loosening match rules
// (removing constraints) and description edits are safe; tightening
// rules or altering existing fields requires allowUnsafe. Index
// reconciliation runs afterwards, so a field that stopped being
// fixed-valued gains its index.
func (s *ProductStore) Update(
	ctx context.Context,
	def models.Document,
	allowUnsafe bool,
) (*models.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	def, mdt, err := s.normalizeProductDef(ctx, def)
	if err != nil {
		return nil, err
	}

	name := def["name"].(string)

	stored, err := s.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if models.SameDoc(stored.Definition, def) {
		return stored, nil
	}

	diff := changes.AllChanges(stored.Definition, def)

	if bad := changes.Offending(diff, productSafePolicies(stored), nil); len(bad) > 0 && !allowUnsafe {
		return nil, models.ValidationErrorf("unsafe product update for %q: %v", name, bad)
	}

	canonical, err := models.CanonicalDoc(def)
	if err != nil {
		return nil, fmt.Errorf("serialising product definition: %w", err)
	}

	row := s.Pool.QueryRow(ctx,
		`UPDATE odc.dataset_type SET definition = $2, metadata_type_ref = $3 WHERE name = $1
		RETURNING `+productColumns, name, canonical, mdt.ID)

	p, _, err := scanProduct(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("updating product %q: %w", name, err)
	}

	p.MetadataType = mdt

	if err := s.ReconcileIndexes(ctx, p); err != nil {
		return nil, err
	}

	s.Log.WithFields(map[string]any{
		"product":      name,
		"allow_unsafe": allowUnsafe,
	}).Info("product updated")

	return p, nil
}

// productSafePolicies: description edits are free, match-rule removals
// loosen (safe), new extra fields are safe. Match-rule additions or
// value changes tighten the rules and fall through to unsafe.
func productSafePolicies(stored *models.Product) map[string]changes.Policy {
	policies := map[string]changes.Policy{
		"description":   changes.AllowAny,
		"metadata":      func(c changes.Change) bool { return c.IsRemoval() },
		"search_fields": changes.AllowAddition,
	}

	for name := range stored.ExtraSearchFields() {
		policies["search_fields."+name+".description"] = changes.AllowAny
	}

	return policies
}

// normalizeProductDef validates the definition, resolves the metadata
// type (by name or inline document; an inline document is registered
// idempotently) and canonicalises the reference back to a name so
// equivalence checks are stable.
func (s *ProductStore) normalizeProductDef(
	ctx context.Context,
	def models.Document,
) (models.Document, *models.MetadataType, error) {
	name, _ := def["name"].(string)
	if !validName(name) {
		return nil, nil, models.ValidationErrorf("invalid product name %q", name)
	}

	if _, ok := def["metadata"].(map[string]any); !ok {
		return nil, nil, models.ValidationErrorf("product %q: missing match rules document", name)
	}

	var mdt *models.MetadataType
	var err error

	switch ref := def["metadata_type"].(type) {
	case string:
		mdt, err = s.types.GetByName(ctx, ref)
	case map[string]any:
		// Inline definition: register-or-verify, then store by name.
		mdt, err = s.types.Add(ctx, ref)
	default:
		return nil, nil, models.ValidationErrorf("product %q: missing metadata_type", name)
	}

	if err != nil {
		return nil, nil, err
	}

	normalized := make(models.Document, len(def))
	for k, v := range def {
		normalized[k] = v
	}

	normalized["metadata_type"] = mdt.Name

	// Extra fields must compile at registration time.
	p := &models.Product{Name: name, Definition: normalized, MetadataType: mdt}
	if _, err := productFields(p); err != nil {
		return nil, nil, err
	}

	return normalized, mdt, nil
}

// checkMatchRuleOverlap rejects a new product whose match rules are a
// sub- or super-set of an existing product's: any dataset satisfying
// the tighter rules would satisfy both, making classification
// ambiguous.
func (s *ProductStore) checkMatchRuleOverlap(ctx context.Context, candidate *models.Product) error {
	all, err := s.All(ctx)
	if err != nil {
		return err
	}

	rules := candidate.MatchRules()

	for _, p := range all {
		other := p.MatchRules()

		if changes.Contains(rules, other) || changes.Contains(other, rules) {
			return models.ValidationErrorf(
				"product %q: match rules overlap with existing product %q", candidate.Name, p.Name)
		}
	}

	return nil
}

// GetByName fetches a product by name with its metadata type resolved.
func (s *ProductStore) GetByName(ctx context.Context, name string) (*models.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM odc.dataset_type WHERE name = $1`, name)

	return s.resolve(ctx, row)
}

// Get fetches a product by id with its metadata type resolved.
func (s *ProductStore) Get(ctx context.Context, id int32) (*models.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM odc.dataset_type WHERE id = $1`, id)

	return s.resolve(ctx, row)
}

func (s *ProductStore) resolve(ctx context.Context, row pgx.Row) (*models.Product, error) {
	p, typeID, err := scanProduct(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrProductNotFound
		}

		return nil, fmt.Errorf("fetching product: %w", err)
	}

	p.MetadataType, err = s.types.Get(ctx, typeID)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// All returns every registered product, metadata types resolved.
func (s *ProductStore) All(ctx context.Context) ([]*models.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT `+productColumns+` FROM odc.dataset_type ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	var typeIDs []int32

	for rows.Next() {
		p, typeID, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning product row: %w", err)
		}

		products = append(products, p)
		typeIDs = append(typeIDs, typeID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating product rows: %w", err)
	}

	// Resolve each distinct metadata type once.
	cache := map[int32]*models.MetadataType{}

	for i, p := range products {
		mdt, ok := cache[typeIDs[i]]
		if !ok {
			mdt, err = s.types.Get(ctx, typeIDs[i])
			if err != nil {
				return nil, err
			}

			cache[typeIDs[i]] = mdt
		}

		p.MetadataType = mdt
	}

	return products, nil
}

// ByMetadataType returns the products referencing the named type.
func (s *ProductStore) ByMetadataType(ctx context.Context, typeID int32) ([]*models.Product, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []*models.Product

	for _, p := range all {
		if p.MetadataType != nil && p.MetadataType.ID == typeID {
			out = append(out, p)
		}
	}

	return out, nil
}

// GetWithFields returns the products that declare every named field.
func (s *ProductStore) GetWithFields(ctx context.Context, names []string) ([]*models.Product, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []*models.Product

	for _, p := range all {
		flds, err := productFields(p)
		if err != nil {
			return nil, err
		}

		if declaresAll(flds, names) {
			out = append(out, p)
		}
	}

	return out, nil
}

// Search returns products that could match the given field query: each
// queried field must be declared, and fields pinned to a fixed value by
// the product's match rules must be consistent with the queried value.
// The selector keys "product" and "metadata_type" match the product's
// name and its metadata type's name instead of declared fields.
func (s *ProductStore) Search(ctx context.Context, query map[string]any) ([]*models.Product, error) {
	robust, err := s.SearchRobust(ctx, query)
	if err != nil {
		return nil, err
	}

	var out []*models.Product

	for _, r := range robust {
		if len(r.UsableFields) == countNonSpecial(query) {
			out = append(out, r.Product)
		}
	}

	return out, nil
}

// SearchRobust is Search without the full-coverage requirement: fields
// a product does not declare are dropped for that product, and the
// result reports which fields were usable.
func (s *ProductStore) SearchRobust(ctx context.Context, query map[string]any) ([]models.RobustResult, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.RobustResult

	for _, p := range all {
		flds, err := productFields(p)
		if err != nil {
			return nil, err
		}

		rules := p.MatchRules()
		usable := []string{}
		matches := true

		for name, value := range query {
			if name == "product" {
				if !valueMatches(p.Name, value) {
					matches = false
				}

				continue
			}

			if name == "metadata_type" {
				if p.MetadataType == nil || !valueMatches(p.MetadataType.Name, value) {
					matches = false
				}

				continue
			}

			f, declared := flds[name]
			if !declared {
				continue
			}

			if fixed, ok := f.FixedValue(rules); ok && !valueMatches(fixed, value) {
				matches = false
				continue
			}

			usable = append(usable, name)
		}

		if matches {
			out = append(out, models.RobustResult{Product: p, UsableFields: usable})
		}
	}

	return out, nil
}

// Selector keys match against product identity, not declared fields.
func isSelectorKey(name string) bool {
	return name == "product" || name == "metadata_type"
}

func countNonSpecial(query map[string]any) int {
	n := 0

	for name := range query {
		if !isSelectorKey(name) {
			n++
		}
	}

	return n
}

// valueMatches tests a fixed value against a query value (scalar,
// OR-set or range).
func valueMatches(fixed any, value any) bool {
	switch v := value.(type) {
	case []any:
		for _, elem := range v {
			if valueMatches(fixed, elem) {
				return true
			}
		}

		return false
	case models.Range:
		fn, okF := asFloat(fixed)
		bn, okB := asFloat(v.Begin)
		en, okE := asFloat(v.End)

		return okF && okB && okE && fn >= bn && fn <= en
	default:
		return fmt.Sprint(fixed) == fmt.Sprint(value)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
