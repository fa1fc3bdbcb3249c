package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geodex/geodex/internal/fields"
	"github.com/geodex/geodex/internal/metrics"
	"github.com/geodex/geodex/internal/models"
)

// DefaultTimeField is the range field CountThroughTime buckets over
// when the caller names none.
const DefaultTimeField = "time"

// sourceColumn is the metadata column alias source-filter predicates
// compile against inside the lineage subquery.
const sourceColumn = "source_dataset.metadata"

// candidate pairs a product with its compiled fields for one query.
type candidate struct {
	product *models.Product
	fields  map[string]*fields.Field
}

// candidates narrows the product set a query runs against: the
// product/metadata-type selectors first (unknown names are an error),
// then declaration coverage (a product that does not declare every
// queried field is silently skipped, so a field unknown everywhere
// yields an empty result) and fixed-value consistency.
func (s *DatasetStore) candidates(ctx context.Context, q models.Query) ([]candidate, error) {
	var pool []*models.Product
	var err error

	if len(q.Product) > 0 {
		for _, name := range q.Product {
			p, err := s.products.GetByName(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("product selector %q: %w", name, err)
			}

			pool = append(pool, p)
		}
	} else {
		if pool, err = s.products.All(ctx); err != nil {
			return nil, err
		}
	}

	if len(q.MetadataType) > 0 {
		wanted := map[int32]bool{}

		for _, name := range q.MetadataType {
			mdt, err := s.products.types.GetByName(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("metadata type selector %q: %w", name, err)
			}

			wanted[mdt.ID] = true
		}

		var kept []*models.Product

		for _, p := range pool {
			if p.MetadataType != nil && wanted[p.MetadataType.ID] {
				kept = append(kept, p)
			}
		}

		pool = kept
	}

	var out []candidate

	for _, p := range pool {
		flds, err := productFields(p)
		if err != nil {
			return nil, err
		}

		rules := p.MatchRules()
		usable := true

		for name, value := range q.Fields {
			f, declared := flds[name]
			if !declared {
				usable = false
				break
			}

			if fixed, ok := f.FixedValue(rules); ok && !valueMatches(fixed, value) {
				usable = false
				break
			}
		}

		if usable {
			out = append(out, candidate{product: p, fields: flds})
		}
	}

	return out, nil
}

// whereClause assembles the per-product WHERE conditions: product and
// liveness constraints, one predicate per queried field (expression
// text identical to the index definitions) and the optional lineage
// subquery.
func (s *DatasetStore) whereClause(ctx context.Context, c candidate, q models.Query, args *fields.Args) (string, error) {
	conds := []string{
		"odc.dataset.dataset_type_ref = " + args.Add(c.product.ID),
		"odc.dataset.archived IS NULL",
	}

	for _, name := range sortedFieldNames(c.fields) {
		value, queried := q.Fields[name]
		if !queried {
			continue
		}

		pred, err := c.fields[name].Predicate(value, args)
		if err != nil {
			return "", err
		}

		conds = append(conds, pred)
	}

	if q.Source != nil {
		sub, err := s.sourceClause(ctx, q.Source, args)
		if err != nil {
			return "", err
		}

		conds = append(conds, sub)
	}

	return strings.Join(conds, " AND "), nil
}

// sourceClause builds an EXISTS subquery over the lineage table. The
// filter must name the source product: a dataset can carry several
// lineage relationships and the engine refuses to guess which one the
// caller means.
func (s *DatasetStore) sourceClause(ctx context.Context, sf *models.SourceFilter, args *fields.Args) (string, error) {
	if sf.Product == "" {
		return "", models.UsageErrorf("source filter requires a product")
	}

	srcProduct, err := s.products.GetByName(ctx, sf.Product)
	if err != nil {
		return "", fmt.Errorf("source filter product %q: %w", sf.Product, err)
	}

	conds := []string{"source_dataset.dataset_type_ref = " + args.Add(srcProduct.ID)}

	srcFields, err := compileProductFields(srcProduct, sourceColumn)
	if err != nil {
		return "", err
	}

	for _, name := range sortedFieldNames(srcFields) {
		value, queried := sf.Fields[name]
		if !queried {
			continue
		}

		pred, err := srcFields[name].Predicate(value, args)
		if err != nil {
			return "", err
		}

		conds = append(conds, pred)
	}

	for name := range sf.Fields {
		if _, declared := srcFields[name]; !declared {
			return "", models.UsageErrorf(
				"source filter field %q is not declared by product %q", name, sf.Product)
		}
	}

	return `EXISTS (
		SELECT 1 FROM odc.dataset_source
		JOIN odc.dataset source_dataset ON source_dataset.id = odc.dataset_source.source_dataset_ref
		WHERE odc.dataset_source.dataset_ref = odc.dataset.id
		AND ` + strings.Join(conds, " AND ") + `)`, nil
}

// compileProductFields compiles a product's fields against an arbitrary
// metadata column expression, for subqueries over aliased tables.
func compileProductFields(p *models.Product, column string) (map[string]*fields.Field, error) {
	raw := map[string]models.Document{}

	if p.MetadataType != nil {
		for name, doc := range p.MetadataType.SearchFields() {
			raw[name] = doc
		}
	}

	for name, doc := range p.ExtraSearchFields() {
		raw[name] = doc
	}

	defs, err := fields.ParseDefs(raw)
	if err != nil {
		return nil, err
	}

	compiled := make(map[string]*fields.Field, len(defs))

	for name, def := range defs {
		f, err := fields.Compile(def, column)
		if err != nil {
			return nil, err
		}

		compiled[name] = f
	}

	return compiled, nil
}

// Search streams every live dataset matching the query to fn, in the
// order they were indexed within each product. Results are deduplicated
// when selectors make the same dataset reachable twice. A non-nil error
// from fn stops iteration and is returned unchanged.
func (s *DatasetStore) Search(ctx context.Context, q models.Query, fn func(*models.Dataset) error) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metrics.SearchesTotal.WithLabelValues("search").Inc()

	cands, err := s.candidates(ctx, q)
	if err != nil {
		return err
	}

	seen := map[uuid.UUID]bool{}

	for _, c := range cands {
		if err := s.searchProduct(ctx, c, q, seen, fn); err != nil {
			return err
		}
	}

	return nil
}

func (s *DatasetStore) searchProduct(
	ctx context.Context,
	c candidate,
	q models.Query,
	seen map[uuid.UUID]bool,
	fn func(*models.Dataset) error,
) error {
	var args fields.Args

	where, err := s.whereClause(ctx, c, q, &args)
	if err != nil {
		return err
	}

	rows, err := s.Pool.Query(ctx,
		`SELECT `+datasetColumns+` FROM odc.dataset
		WHERE `+where+`
		ORDER BY odc.dataset.added`, args.Values()...)
	if err != nil {
		return fmt.Errorf("searching product %q: %w", c.product.Name, err)
	}
	defer rows.Close()

	datasets, _, err := collectDatasets(rows)
	if err != nil {
		return err
	}

	for _, d := range datasets {
		if seen[d.ID] {
			continue
		}

		seen[d.ID] = true
		d.Product = c.product

		if err := s.loadLocations(ctx, d); err != nil {
			return err
		}

		if err := s.loadSourceIDs(ctx, d); err != nil {
			return err
		}

		if err := fn(d); err != nil {
			return err
		}
	}

	return nil
}

// SearchEager is Search collected into a slice.
func (s *DatasetStore) SearchEager(ctx context.Context, q models.Query) ([]*models.Dataset, error) {
	var out []*models.Dataset

	err := s.Search(ctx, q, func(d *models.Dataset) error {
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Count returns the number of live datasets matching the query without
// materialising them.
func (s *DatasetStore) Count(ctx context.Context, q models.Query) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metrics.SearchesTotal.WithLabelValues("count").Inc()

	cands, err := s.candidates(ctx, q)
	if err != nil {
		return 0, err
	}

	total := 0

	for _, c := range cands {
		n, err := s.countProduct(ctx, c, q)
		if err != nil {
			return 0, err
		}

		total += n
	}

	return total, nil
}

func (s *DatasetStore) countProduct(ctx context.Context, c candidate, q models.Query) (int, error) {
	var args fields.Args

	where, err := s.whereClause(ctx, c, q, &args)
	if err != nil {
		return 0, err
	}

	var n int

	err = s.Pool.QueryRow(ctx,
		`SELECT count(*) FROM odc.dataset WHERE `+where, args.Values()...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting product %q: %w", c.product.Name, err)
	}

	return n, nil
}

// CountByProduct groups Count by product. Products with no matching
// datasets are omitted.
func (s *DatasetStore) CountByProduct(ctx context.Context, q models.Query) ([]models.ProductCount, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metrics.SearchesTotal.WithLabelValues("count_by_product").Inc()

	cands, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	var out []models.ProductCount

	for _, c := range cands {
		n, err := s.countProduct(ctx, c, q)
		if err != nil {
			return nil, err
		}

		if n > 0 {
			out = append(out, models.ProductCount{Product: c.product, Count: n})
		}
	}

	return out, nil
}

// CountThroughTime slices the query's time range (field, defaulting to
// "time", must be queried with a Range of timestamps) into fixed-width
// buckets and counts matches per bucket. Buckets cover the range
// gaplessly, the last one truncated at the range end, and empty buckets
// are reported with a zero count.
func (s *DatasetStore) CountThroughTime(
	ctx context.Context,
	q models.Query,
	field string,
	period time.Duration,
) ([]models.TimeBucket, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metrics.SearchesTotal.WithLabelValues("count_through_time").Inc()

	if field == "" {
		field = DefaultTimeField
	}

	if period <= 0 {
		return nil, models.UsageErrorf("count through time: period must be positive")
	}

	r, ok := q.Fields[field].(models.Range)
	if !ok {
		return nil, models.UsageErrorf("count through time: field %q must be queried with a range", field)
	}

	begin, okB := r.Begin.(time.Time)
	end, okE := r.End.(time.Time)

	if !okB || !okE || end.Before(begin) {
		return nil, models.UsageErrorf("count through time: field %q needs an ordered timestamp range", field)
	}

	cands, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	var buckets []models.TimeBucket

	for start := begin; start.Before(end); start = start.Add(period) {
		stop := start.Add(period)
		if stop.After(end) {
			stop = end
		}

		bq := q
		bq.Fields = make(map[string]any, len(q.Fields))

		for k, v := range q.Fields {
			bq.Fields[k] = v
		}

		bq.Fields[field] = models.TimeRange(start, stop)

		n := 0

		for _, c := range cands {
			pn, err := s.countProduct(ctx, c, bq)
			if err != nil {
				return nil, err
			}

			n += pn
		}

		buckets = append(buckets, models.TimeBucket{Start: start, End: stop, Count: n})
	}

	return buckets, nil
}

// SearchByProduct runs the query and groups the results by product.
// Every candidate product appears, even with no matches, so callers can
// tell "no datasets" from "product filtered out".
func (s *DatasetStore) SearchByProduct(ctx context.Context, q models.Query) ([]models.ProductDatasets, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metrics.SearchesTotal.WithLabelValues("search_by_product").Inc()

	cands, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	var out []models.ProductDatasets

	for _, c := range cands {
		group := models.ProductDatasets{Product: c.product, Datasets: []*models.Dataset{}}

		err := s.searchProduct(ctx, c, q, map[uuid.UUID]bool{}, func(d *models.Dataset) error {
			group.Datasets = append(group.Datasets, d)
			return nil
		})
		if err != nil {
			return nil, err
		}

		out = append(out, group)
	}

	return out, nil
}

// SearchReturning projects matches onto the named columns instead of
// materialising whole datasets. "id" is the dataset id; "uri" joins the
// active locations, so a dataset with several active locations yields
// one row per location and one with none yields no row; any other name
// must be a declared search field and projects its compiled expression.
func (s *DatasetStore) SearchReturning(
	ctx context.Context,
	q models.Query,
	names []string,
) ([][]any, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metrics.SearchesTotal.WithLabelValues("search_returning").Inc()

	if len(names) == 0 {
		return nil, models.UsageErrorf("search returning: no columns requested")
	}

	cands, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	var out [][]any

	for _, c := range cands {
		rows, err := s.searchReturningProduct(ctx, c, q, names)
		if err != nil {
			return nil, err
		}

		out = append(out, rows...)
	}

	return out, nil
}

func (s *DatasetStore) searchReturningProduct(
	ctx context.Context,
	c candidate,
	q models.Query,
	names []string,
) ([][]any, error) {
	exprs := make([]string, len(names))
	withURI := false

	for i, name := range names {
		switch name {
		case "id":
			exprs[i] = "odc.dataset.id"
		case "uri":
			exprs[i] = "odc.dataset_location.uri_scheme || ':' || odc.dataset_location.uri_body"
			withURI = true
		case "product":
			exprs[i] = "'" + c.product.Name + "'"
		default:
			f, declared := c.fields[name]
			if !declared {
				// Consistent with searching on an unknown field: this
				// product simply contributes nothing.
				return nil, nil
			}

			exprs[i] = f.SQLExpression()
		}
	}

	var args fields.Args

	where, err := s.whereClause(ctx, c, q, &args)
	if err != nil {
		return nil, err
	}

	sql := `SELECT ` + strings.Join(exprs, ", ") + ` FROM odc.dataset`

	if withURI {
		sql += `
		JOIN odc.dataset_location ON odc.dataset_location.dataset_ref = odc.dataset.id
		AND odc.dataset_location.archived IS NULL`
	}

	sql += ` WHERE ` + where + ` ORDER BY odc.dataset.added`

	rows, err := s.Pool.Query(ctx, sql, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("projecting product %q: %w", c.product.Name, err)
	}
	defer rows.Close()

	var out [][]any

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading projection row: %w", err)
		}

		out = append(out, vals)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating projection rows: %w", err)
	}

	return out, nil
}

// SearchRobust runs the query per product using only the fields each
// product declares, instead of excluding partially-covered products.
// Each result reports which fields constrained that product's matches.
func (s *DatasetStore) SearchRobust(ctx context.Context, q models.Query) ([]models.RobustResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metrics.SearchesTotal.WithLabelValues("search_robust").Inc()

	pq := make(map[string]any, len(q.Fields)+2)
	for k, v := range q.Fields {
		pq[k] = v
	}

	if len(q.Product) > 0 {
		set := make([]any, len(q.Product))
		for i, name := range q.Product {
			set[i] = name
		}

		pq["product"] = set
	}

	if len(q.MetadataType) > 0 {
		set := make([]any, len(q.MetadataType))
		for i, name := range q.MetadataType {
			set[i] = name
		}

		pq["metadata_type"] = set
	}

	robust, err := s.products.SearchRobust(ctx, pq)
	if err != nil {
		return nil, err
	}

	var out []models.RobustResult

	for _, r := range robust {
		flds, err := productFields(r.Product)
		if err != nil {
			return nil, err
		}

		narrowed := models.Query{
			Fields: make(map[string]any, len(r.UsableFields)),
			Source: q.Source,
		}

		for _, name := range r.UsableFields {
			narrowed.Fields[name] = q.Fields[name]
		}

		r.Datasets = []*models.Dataset{}

		c := candidate{product: r.Product, fields: flds}

		err = s.searchProduct(ctx, c, narrowed, map[uuid.UUID]bool{}, func(d *models.Dataset) error {
			r.Datasets = append(r.Datasets, d)
			return nil
		})
		if err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	return out, nil
}
