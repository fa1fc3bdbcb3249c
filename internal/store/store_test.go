package store_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/db"
	"github.com/geodex/geodex/internal/db/migrations"
	"github.com/geodex/geodex/internal/dbpool"
	"github.com/geodex/geodex/internal/models"
	"github.com/geodex/geodex/internal/store"
)

// testEnv holds shared test infrastructure (single pool across all tests).
type testEnv struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

var sharedEnv *testEnv

func getTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if sharedEnv != nil {
		return sharedEnv
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	pool, err := dbpool.NewPool(ctx, dbURL)
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	sharedEnv = &testEnv{pool: pool, log: log}

	return sharedEnv
}

// setupStores wires the three stores over the shared pool.
func setupStores(t *testing.T) (*store.MetadataTypeStore, *store.ProductStore, *store.DatasetStore) {
	t.Helper()

	env := getTestEnv(t)
	base := store.Base{Pool: env.pool, Log: env.log}

	types := store.NewMetadataTypeStore(base)
	products := store.NewProductStore(base, types)
	datasets := store.NewDatasetStore(base, products)

	return types, products, datasets
}

// uniq generates a catalog-safe unique name, so tests never collide
// with records left by earlier runs against the same database.
func uniq(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// eoTypeDef builds an eo-style metadata type definition with scalar,
// numeric and range fields.
func eoTypeDef(name string, composite bool) models.Document {
	dataset := map[string]any{
		"search_fields": map[string]any{
			"platform": map[string]any{
				"description": "Platform code",
				"offset":      []any{"platform", "code"},
			},
			"sensor": map[string]any{
				"offset": []any{"instrument", "name"},
			},
			"cloud_cover": map[string]any{
				"type":   "numeric",
				"offset": []any{"image", "cloud_cover_percentage"},
			},
			"lat": map[string]any{
				"type":       "numeric-range",
				"min_offset": []any{[]any{"extent", "coord", "ll", "lat"}},
				"max_offset": []any{[]any{"extent", "coord", "ur", "lat"}},
			},
			"time": map[string]any{
				"type":       "datetime-range",
				"min_offset": []any{[]any{"extent", "from_dt"}},
				"max_offset": []any{[]any{"extent", "to_dt"}},
			},
		},
	}

	if composite {
		dataset["composite_indexes"] = []any{[]any{"platform", "sensor"}}
	}

	return models.Document{
		"name":        name,
		"description": "Earth observation test schema",
		"dataset":     dataset,
	}
}

// productDef builds a product over the given type. The product_type
// rule carries the product name, which is unique per test, so datasets
// classify unambiguously. pinPlatform additionally fixes the platform
// field to a literal.
func productDef(name, typeName string, pinPlatform bool) models.Document {
	rules := map[string]any{"product_type": name}

	if pinPlatform {
		rules["platform"] = map[string]any{"code": "LANDSAT_8"}
	}

	return models.Document{
		"name":          name,
		"description":   "test product",
		"metadata_type": typeName,
		"metadata":      rules,
	}
}

// eoDoc builds a dataset document matching productDef(product, ...).
func eoDoc(product, platform, sensor, fromDt, toDt string, cloud, latLL, latUR float64) models.Document {
	return models.Document{
		"product_type": product,
		"platform":     map[string]any{"code": platform},
		"instrument":   map[string]any{"name": sensor},
		"image":        map[string]any{"cloud_cover_percentage": cloud},
		"extent": map[string]any{
			"from_dt": fromDt,
			"to_dt":   toDt,
			"coord": map[string]any{
				"ll": map[string]any{"lat": latLL},
				"ur": map[string]any{"lat": latUR},
			},
		},
	}
}

func relationExists(t *testing.T, name string) bool {
	t.Helper()

	var ok bool

	err := getTestEnv(t).pool.QueryRow(context.Background(),
		"SELECT to_regclass($1) IS NOT NULL", "odc."+name).Scan(&ok)
	if err != nil {
		t.Fatalf("checking relation %s: %v", name, err)
	}

	return ok
}
