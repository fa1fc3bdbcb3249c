package index_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/db"
	"github.com/geodex/geodex/internal/db/migrations"
	"github.com/geodex/geodex/internal/dbpool"
	"github.com/geodex/geodex/internal/index"
	"github.com/geodex/geodex/internal/models"
)

func testIndex(t *testing.T) *index.Index {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	pool, err := dbpool.NewPool(ctx, dbURL)
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}

	t.Cleanup(pool.Close)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	return index.New(pool, log)
}

func uniq(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func typeDef(name string, fields map[string]any) models.Document {
	return models.Document{
		"name":        name,
		"description": "facade test schema",
		"dataset":     map[string]any{"search_fields": fields},
	}
}

func indexExists(t *testing.T, ix *index.Index, name string) bool {
	t.Helper()

	var ok bool

	err := ix.Datasets.Pool.QueryRow(context.Background(),
		"SELECT to_regclass($1) IS NOT NULL", "odc."+name).Scan(&ok)
	if err != nil {
		t.Fatalf("checking relation %s: %v", name, err)
	}

	return ok
}

func TestUpdateMetadataTypeReconcilesProducts(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	typeName := uniq("telem")

	fields := map[string]any{
		"platform": map[string]any{"offset": []any{"platform", "code"}},
	}

	if _, err := ix.MetadataTypes.Add(ctx, typeDef(typeName, fields)); err != nil {
		t.Fatalf("adding metadata type: %v", err)
	}

	productName := uniq("raw")

	if _, err := ix.Products.Add(ctx, models.Document{
		"name":          productName,
		"description":   "facade test product",
		"metadata_type": typeName,
		"metadata":      map[string]any{"product_type": productName},
	}); err != nil {
		t.Fatalf("adding product: %v", err)
	}

	if !indexExists(t, ix, fmt.Sprintf("dix_%s_platform", productName)) {
		t.Fatal("expected platform index from product registration")
	}

	// Declaring a new field on the type must grow every dependent
	// product's index set.
	fields["gsi"] = map[string]any{"offset": []any{"acquisition", "groundstation", "code"}}

	if _, err := ix.UpdateMetadataType(ctx, typeDef(typeName, fields), false); err != nil {
		t.Fatalf("updating metadata type: %v", err)
	}

	if !indexExists(t, ix, fmt.Sprintf("dix_%s_gsi", productName)) {
		t.Error("expected gsi index after metadata type update")
	}
}

func TestInitReconcilesExistingCatalog(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	typeName := uniq("telem")

	if _, err := ix.MetadataTypes.Add(ctx, typeDef(typeName, map[string]any{
		"platform": map[string]any{"offset": []any{"platform", "code"}},
	})); err != nil {
		t.Fatalf("adding metadata type: %v", err)
	}

	productName := uniq("raw")

	if _, err := ix.Products.Add(ctx, models.Document{
		"name":          productName,
		"description":   "facade test product",
		"metadata_type": typeName,
		"metadata":      map[string]any{"product_type": productName},
	}); err != nil {
		t.Fatalf("adding product: %v", err)
	}

	// Simulate an index object lost outside the catalog's control, then
	// let Init repair it.
	idx := fmt.Sprintf("dix_%s_platform", productName)

	if _, err := ix.Datasets.Pool.Exec(ctx, fmt.Sprintf("DROP INDEX odc.%s", idx)); err != nil {
		t.Fatalf("dropping index: %v", err)
	}

	if err := ix.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	if !indexExists(t, ix, idx) {
		t.Error("expected platform index recreated by Init")
	}
}
