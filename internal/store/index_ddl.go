package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/geodex/geodex/internal/fields"
	"github.com/geodex/geodex/internal/metrics"
	"github.com/geodex/geodex/internal/models"
)

// ReconcileIndexes brings a product's database index objects in line
// with its definition:
//
//   - one partial expression index per indexed, non-fixed field
//     (dix_<product>_<field>),
//   - one multi-column index per declared natural-key group
//     (dix_<product>_<f1>_<f2>_...), suppressing the members'
//     per-field indexes,
//   - one read view exposing the compiled fields
//     (dv_<product>_dataset).
//
// Fields whose offset is pinned to a literal by the product's match
// rules are identical across every dataset of the product and get no
// index; when a later update unpins such a field the missing index is
// created here. Indexes that became stale are deliberately left in
// place: other consumers may still be using them.
//
// DDL runs under a per-product advisory lock with bounded retries, so
// two concurrent add/update calls on the same product race safely.
func (s *ProductStore) ReconcileIndexes(ctx context.Context, p *models.Product) error {
	flds, err := productFields(p)
	if err != nil {
		return err
	}

	stmts, err := indexStatements(p, flds)
	if err != nil {
		return err
	}

	var lastErr error

	for attempt := 1; attempt <= ddlRetries; attempt++ {
		lastErr = s.applyDDL(ctx, p.Name, stmts)
		if lastErr == nil {
			metrics.IndexDDLTotal.Add(float64(len(stmts)))
			return nil
		}

		s.Log.WithError(lastErr).WithFields(map[string]any{
			"product": p.Name,
			"attempt": attempt,
		}).Warn("index reconciliation failed, retrying")
	}

	return fmt.Errorf("reconciling indexes for product %q: %w", p.Name, lastErr)
}

func (s *ProductStore) applyDDL(ctx context.Context, product string, stmts []string) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	if err := advisoryLock(ctx, tx, "odc-ddl-"+product); err != nil {
		return err
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}

	return tx.Commit(ctx)
}

// indexStatements assembles the DDL for one product. Statements use
// IF NOT EXISTS so lost races and re-runs are no-ops.
func indexStatements(p *models.Product, flds map[string]*fields.Field) ([]string, error) {
	if !validName(p.Name) {
		return nil, models.ValidationErrorf("invalid product name %q", p.Name)
	}

	rules := p.MatchRules()
	var stmts []string

	// Composite natural-key groups first; their members get no
	// individual index.
	suppressed := map[string]bool{}

	var groups [][]string
	if p.MetadataType != nil {
		groups = p.MetadataType.CompositeIndexes()
	}

	for _, group := range groups {
		if !declaresAll(flds, group) {
			continue
		}

		exprs := make([]string, len(group))
		useGist := false

		for i, name := range group {
			f := flds[name]
			exprs[i] = "(" + f.SQLExpression() + ")"
			useGist = useGist || f.Kind.IsRange()

			suppressed[name] = true
		}

		stmts = append(stmts, createIndexStmt(
			indexName(p.Name, group...), exprs, useGist, p.ID))
	}

	for _, name := range sortedFieldNames(flds) {
		f := flds[name]

		if !f.Indexed || suppressed[name] {
			continue
		}

		if _, fixed := f.FixedValue(rules); fixed {
			continue
		}

		stmts = append(stmts, createIndexStmt(
			indexName(p.Name, name),
			[]string{"(" + f.SQLExpression() + ")"},
			f.Kind.IsRange(),
			p.ID))
	}

	stmts = append(stmts, viewStatements(p, flds)...)

	return stmts, nil
}

func indexName(product string, flds ...string) string {
	return "dix_" + product + "_" + strings.Join(flds, "_")
}

func createIndexStmt(name string, exprs []string, useGist bool, productID int32) string {
	using := ""
	if useGist {
		using = " USING gist"
	}

	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON odc.dataset%s (%s) WHERE dataset_type_ref = %d",
		name, using, strings.Join(exprs, ", "), productID)
}

// viewStatements build the per-product read view exposing each compiled
// field as a column. The view is recreated because its column set
// follows the definition.
func viewStatements(p *models.Product, flds map[string]*fields.Field) []string {
	cols := []string{"odc.dataset.id"}

	for _, name := range sortedFieldNames(flds) {
		cols = append(cols, fmt.Sprintf("%s AS %s", flds[name].SQLExpression(), name))
	}

	view := "odc.dv_" + p.Name + "_dataset"

	return []string{
		"DROP VIEW IF EXISTS " + view,
		fmt.Sprintf(
			"CREATE VIEW %s AS SELECT %s FROM odc.dataset WHERE dataset_type_ref = %d",
			view, strings.Join(cols, ", "), p.ID),
	}
}
