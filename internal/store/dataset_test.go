package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/geodex/geodex/internal/changes"
	"github.com/geodex/geodex/internal/models"
)

// setupProduct registers a fresh metadata type and product pair and
// returns the product.
func setupProduct(t *testing.T) *models.Product {
	t.Helper()

	types, products, _ := setupStores(t)
	ctx := context.Background()

	typeName := uniq("eo")
	if _, err := types.Add(ctx, eoTypeDef(typeName, false)); err != nil {
		t.Fatalf("adding metadata type: %v", err)
	}

	p, err := products.Add(ctx, productDef(uniq("ls8"), typeName, false))
	if err != nil {
		t.Fatalf("adding product: %v", err)
	}

	return p
}

func TestDatasetAddClassifiesByMatchRules(t *testing.T) {
	_, _, datasets := setupStores(t)
	p := setupProduct(t)
	ctx := context.Background()

	ds := &models.Dataset{
		Metadata:  eoDoc(p.Name, "LANDSAT_8", "OLI_TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.3, -35.2, -34.1),
		Locations: []models.Location{{URI: "file:///data/scene1.json"}},
	}

	stored, err := datasets.Add(ctx, ds)
	if err != nil {
		t.Fatalf("adding dataset: %v", err)
	}

	if stored.Product == nil || stored.Product.ID != p.ID {
		t.Fatalf("expected dataset classified to %q, got %+v", p.Name, stored.Product)
	}

	if len(stored.Locations) != 1 || stored.Locations[0].URI != "file:///data/scene1.json" {
		t.Errorf("unexpected locations: %+v", stored.Locations)
	}
}

func TestDatasetAddNoMatchingProduct(t *testing.T) {
	_, _, datasets := setupStores(t)
	setupProduct(t)

	ds := &models.Dataset{
		Metadata: models.Document{"product_type": uniq("nothing_declares_this")},
	}

	if _, err := datasets.Add(context.Background(), ds); !errors.Is(err, models.ErrAmbiguousMatch) {
		t.Errorf("expected ambiguous match error for zero matches, got %v", err)
	}
}

func TestDatasetAddExplicitProductMustMatch(t *testing.T) {
	_, _, datasets := setupStores(t)
	p := setupProduct(t)

	ds := &models.Dataset{
		Product:  p,
		Metadata: models.Document{"product_type": "something_else"},
	}

	if _, err := datasets.Add(context.Background(), ds); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected match-rule violation, got %v", err)
	}
}

func TestDatasetReAdd(t *testing.T) {
	_, _, datasets := setupStores(t)
	p := setupProduct(t)
	ctx := context.Background()

	doc := eoDoc(p.Name, "LANDSAT_8", "OLI_TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.3, -35.2, -34.1)
	ds := &models.Dataset{Metadata: doc}

	stored, err := datasets.Add(ctx, ds)
	if err != nil {
		t.Fatalf("adding dataset: %v", err)
	}

	// Identical content: no-op.
	again, err := datasets.Add(ctx, &models.Dataset{ID: stored.ID, Metadata: doc})
	if err != nil {
		t.Fatalf("re-adding identical dataset: %v", err)
	}

	if again.ID != stored.ID {
		t.Errorf("expected same dataset back, got %s", again.ID)
	}

	// Additive change: accepted as an update.
	richer := eoDoc(p.Name, "LANDSAT_8", "OLI_TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.3, -35.2, -34.1)
	richer["gsi"] = "ASA"

	updated, err := datasets.Add(ctx, &models.Dataset{ID: stored.ID, Metadata: richer})
	if err != nil {
		t.Fatalf("additive re-add: %v", err)
	}

	if updated.Metadata["gsi"] != "ASA" {
		t.Errorf("expected additive change applied, got %v", updated.Metadata["gsi"])
	}

	// Modifying an existing value is rejected by default.
	conflicting := eoDoc(p.Name, "LANDSAT_8", "TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.3, -35.2, -34.1)
	conflicting["gsi"] = "ASA"

	if _, err := datasets.Add(ctx, &models.Dataset{ID: stored.ID, Metadata: conflicting}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected non-additive re-add rejection, got %v", err)
	}
}

func TestDatasetUpdateWhitelistedPath(t *testing.T) {
	_, _, datasets := setupStores(t)
	p := setupProduct(t)
	ctx := context.Background()

	doc := eoDoc(p.Name, "LANDSAT_8", "OLI_TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.9, -35.2, -34.1)

	stored, err := datasets.Add(ctx, &models.Dataset{Metadata: doc})
	if err != nil {
		t.Fatalf("adding dataset: %v", err)
	}

	corrected := eoDoc(p.Name, "LANDSAT_8", "OLI_TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.1, -35.2, -34.1)

	// Without a policy the correction is rejected...
	if _, err := datasets.Update(ctx, &models.Dataset{ID: stored.ID, Metadata: corrected}, nil); err == nil {
		t.Fatal("expected rejection without whitelist")
	}

	// ...and applies when the path is whitelisted.
	allowed := map[string]changes.Policy{
		"image.cloud_cover_percentage": changes.AllowAny,
	}

	updated, err := datasets.Update(ctx, &models.Dataset{ID: stored.ID, Metadata: corrected}, allowed)
	if err != nil {
		t.Fatalf("whitelisted update: %v", err)
	}

	if cc := updated.Metadata["image"].(map[string]any)["cloud_cover_percentage"]; cc != 0.1 {
		t.Errorf("expected corrected cloud cover, got %v", cc)
	}
}

func TestDatasetArchiveRestore(t *testing.T) {
	_, _, datasets := setupStores(t)
	p := setupProduct(t)
	ctx := context.Background()

	stored, err := datasets.Add(ctx, &models.Dataset{
		Metadata: eoDoc(p.Name, "LANDSAT_8", "OLI_TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.3, -35.2, -34.1),
	})
	if err != nil {
		t.Fatalf("adding dataset: %v", err)
	}

	if err := datasets.Archive(ctx, stored.ID); err != nil {
		t.Fatalf("archiving: %v", err)
	}

	got, err := datasets.Get(ctx, stored.ID, false)
	if err != nil {
		t.Fatalf("archived dataset must stay fetchable: %v", err)
	}

	if !got.IsArchived() {
		t.Error("expected archived flag set")
	}

	if err := datasets.Restore(ctx, stored.ID); err != nil {
		t.Fatalf("restoring: %v", err)
	}

	got, err = datasets.Get(ctx, stored.ID, false)
	if err != nil {
		t.Fatalf("fetching restored dataset: %v", err)
	}

	if got.IsArchived() {
		t.Error("expected archived flag cleared")
	}
}

func TestDatasetLocations(t *testing.T) {
	_, _, datasets := setupStores(t)
	p := setupProduct(t)
	ctx := context.Background()

	stored, err := datasets.Add(ctx, &models.Dataset{
		Metadata:  eoDoc(p.Name, "LANDSAT_8", "OLI_TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.3, -35.2, -34.1),
		Locations: []models.Location{{URI: "file:///data/original.json"}},
	})
	if err != nil {
		t.Fatalf("adding dataset: %v", err)
	}

	added, err := datasets.AddLocation(ctx, stored.ID, "s3://bucket/scene.json")
	if err != nil || !added {
		t.Fatalf("adding location: added=%v err=%v", added, err)
	}

	// Duplicate add reports nothing-to-do.
	added, err = datasets.AddLocation(ctx, stored.ID, "s3://bucket/scene.json")
	if err != nil || added {
		t.Fatalf("duplicate location: added=%v err=%v", added, err)
	}

	changed, err := datasets.ArchiveLocation(ctx, stored.ID, "file:///data/original.json")
	if err != nil || !changed {
		t.Fatalf("archiving location: changed=%v err=%v", changed, err)
	}

	// Archiving again is a no-op.
	changed, err = datasets.ArchiveLocation(ctx, stored.ID, "file:///data/original.json")
	if err != nil || changed {
		t.Fatalf("re-archiving location: changed=%v err=%v", changed, err)
	}

	got, err := datasets.Get(ctx, stored.ID, false)
	if err != nil {
		t.Fatalf("fetching dataset: %v", err)
	}

	if uris := got.ActiveURIs(); len(uris) != 1 || uris[0] != "s3://bucket/scene.json" {
		t.Errorf("unexpected active uris: %v", uris)
	}

	// The archived location is retained, not deleted.
	if len(got.Locations) != 2 {
		t.Errorf("expected both locations retained, got %+v", got.Locations)
	}

	changed, err = datasets.RestoreLocation(ctx, stored.ID, "file:///data/original.json")
	if err != nil || !changed {
		t.Fatalf("restoring location: changed=%v err=%v", changed, err)
	}

	got, err = datasets.Get(ctx, stored.ID, false)
	if err != nil {
		t.Fatalf("fetching dataset: %v", err)
	}

	if uris := got.ActiveURIs(); len(uris) != 2 {
		t.Errorf("expected both locations active, got %v", uris)
	}
}

func TestDatasetLineage(t *testing.T) {
	_, _, datasets := setupStores(t)
	p := setupProduct(t)
	ctx := context.Background()

	source, err := datasets.Add(ctx, &models.Dataset{
		Metadata: eoDoc(p.Name, "LANDSAT_8", "OLI_TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.3, -35.2, -34.1),
	})
	if err != nil {
		t.Fatalf("adding source dataset: %v", err)
	}

	derivedDoc := eoDoc(p.Name, "LANDSAT_8", "OLI_TIRS", "2014-03-12T10:00:00", "2014-03-12T10:01:00", 0.3, -35.2, -34.1)
	derivedDoc["processing_level"] = "nbar"

	derived, err := datasets.Add(ctx, &models.Dataset{
		Metadata:  derivedDoc,
		SourceIDs: map[string]uuid.UUID{"level1": source.ID},
	})
	if err != nil {
		t.Fatalf("adding derived dataset: %v", err)
	}

	got, err := datasets.Get(ctx, derived.ID, true)
	if err != nil {
		t.Fatalf("fetching with sources: %v", err)
	}

	src, ok := got.Sources["level1"]
	if !ok || src.ID != source.ID {
		t.Fatalf("expected resolved level1 source, got %+v", got.Sources)
	}

	children, err := datasets.GetDerived(ctx, source.ID)
	if err != nil {
		t.Fatalf("fetching derived: %v", err)
	}

	if len(children) != 1 || children[0].ID != derived.ID {
		t.Errorf("expected the derived dataset, got %+v", children)
	}
}

func TestDatasetGetNotFound(t *testing.T) {
	_, _, datasets := setupStores(t)

	_, err := datasets.Get(context.Background(), uuid.New(), false)
	if !errors.Is(err, models.ErrDatasetNotFound) {
		t.Errorf("expected dataset not found, got %v", err)
	}
}
