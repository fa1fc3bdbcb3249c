package fields_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/geodex/geodex/internal/fields"
	"github.com/geodex/geodex/internal/models"
)

func compile(t *testing.T, name string, doc models.Document) *fields.Field {
	t.Helper()

	def, err := fields.ParseDef(name, doc)
	if err != nil {
		t.Fatalf("parsing %q: %v", name, err)
	}

	f, err := fields.Compile(def, fields.DatasetColumn)
	if err != nil {
		t.Fatalf("compiling %q: %v", name, err)
	}

	return f
}

// Expression text is load-bearing: predicates must match the index
// definitions byte for byte or the planner will not use them.
func TestCompileExpressions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  models.Document
		want string
	}{
		{
			name: "platform",
			doc:  models.Document{"offset": []any{"platform", "code"}},
			want: `odc.dataset.metadata #>> '{platform, code}'`,
		},
		{
			name: "cloud_cover",
			doc: models.Document{
				"type":   "numeric",
				"offset": []any{"image", "cloud_cover_percentage"},
			},
			want: `CAST(odc.dataset.metadata #>> '{image, cloud_cover_percentage}' AS DOUBLE PRECISION)`,
		},
		{
			name: "orbit",
			doc: models.Document{
				"type":   "integer",
				"offset": []any{"acquisition", "platform_orbit"},
			},
			want: `CAST(odc.dataset.metadata #>> '{acquisition, platform_orbit}' AS INTEGER)`,
		},
		{
			name: "lat",
			doc: models.Document{
				"type": "numeric-range",
				"min_offset": []any{
					[]any{"extent", "coord", "ll", "lat"},
					[]any{"extent", "coord", "lr", "lat"},
				},
				"max_offset": []any{
					[]any{"extent", "coord", "ul", "lat"},
					[]any{"extent", "coord", "ur", "lat"},
				},
			},
			want: `numrange(least(` +
				`CAST(odc.dataset.metadata #>> '{extent, coord, ll, lat}' AS NUMERIC), ` +
				`CAST(odc.dataset.metadata #>> '{extent, coord, lr, lat}' AS NUMERIC), ` +
				`CAST(odc.dataset.metadata #>> '{extent, coord, ul, lat}' AS NUMERIC), ` +
				`CAST(odc.dataset.metadata #>> '{extent, coord, ur, lat}' AS NUMERIC)), greatest(` +
				`CAST(odc.dataset.metadata #>> '{extent, coord, ll, lat}' AS NUMERIC), ` +
				`CAST(odc.dataset.metadata #>> '{extent, coord, lr, lat}' AS NUMERIC), ` +
				`CAST(odc.dataset.metadata #>> '{extent, coord, ul, lat}' AS NUMERIC), ` +
				`CAST(odc.dataset.metadata #>> '{extent, coord, ur, lat}' AS NUMERIC)), '[]')`,
		},
		{
			name: "time",
			doc: models.Document{
				"type":       "datetime-range",
				"min_offset": []any{[]any{"extent", "from_dt"}},
				"max_offset": []any{[]any{"extent", "to_dt"}},
			},
			want: `tstzrange(least(` +
				`odc.common_timestamp(odc.dataset.metadata #>> '{extent, from_dt}'), ` +
				`odc.common_timestamp(odc.dataset.metadata #>> '{extent, to_dt}')), greatest(` +
				`odc.common_timestamp(odc.dataset.metadata #>> '{extent, from_dt}'), ` +
				`odc.common_timestamp(odc.dataset.metadata #>> '{extent, to_dt}')), '[]')`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := compile(t, tt.name, tt.doc)

			if got := f.SQLExpression(); got != tt.want {
				t.Errorf("expression mismatch\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

// A point timestamp declared in both min_offset and max_offset must not
// be computed twice inside least/greatest.
func TestRangeOffsetsDeduped(t *testing.T) {
	t.Parallel()

	f := compile(t, "time", models.Document{
		"type":       "datetime-range",
		"min_offset": []any{[]any{"properties", "datetime"}},
		"max_offset": []any{[]any{"properties", "datetime"}},
	})

	expr := f.SQLExpression()
	if n := strings.Count(expr, "least("); n != 1 {
		t.Errorf("expected a single least(), got %d in %s", n, expr)
	}

	want := `tstzrange(least(` +
		`odc.common_timestamp(odc.dataset.metadata #>> '{properties, datetime}')), greatest(` +
		`odc.common_timestamp(odc.dataset.metadata #>> '{properties, datetime}')), '[]')`

	if expr != want {
		t.Errorf("expression mismatch\n got: %s\nwant: %s", expr, want)
	}
}

func TestParseDefDefaults(t *testing.T) {
	t.Parallel()

	def, err := fields.ParseDef("platform", models.Document{
		"offset": []any{"platform", "code"},
	})
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}

	if def.Kind != fields.KindString {
		t.Errorf("expected string kind by default, got %q", def.Kind)
	}

	if !def.Indexed {
		t.Error("expected fields to be indexed by default")
	}
}

func TestParseDefErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		doc  models.Document
	}{
		{"unknown type", "f", models.Document{"type": "geometry", "offset": []any{"a"}}},
		{"missing offset", "f", models.Document{"type": "string"}},
		{"empty offset", "f", models.Document{"offset": []any{}}},
		{"non-string offset element", "f", models.Document{"offset": []any{42}}},
		{"offset element with quote", "f", models.Document{"offset": []any{"a'b"}}},
		{"range without offsets", "f", models.Document{"type": "numeric-range"}},
		{"bad field name", "bad name", models.Document{"offset": []any{"a"}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := fields.ParseDef(tt.key, tt.doc)
			if !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestPredicateScalarEquality(t *testing.T) {
	t.Parallel()

	f := compile(t, "platform", models.Document{"offset": []any{"platform", "code"}})

	var args fields.Args

	pred, err := f.Predicate("LANDSAT_8", &args)
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}

	want := `odc.dataset.metadata #>> '{platform, code}' = $1`
	if pred != want {
		t.Errorf("predicate mismatch\n got: %s\nwant: %s", pred, want)
	}

	if vals := args.Values(); len(vals) != 1 || vals[0] != "LANDSAT_8" {
		t.Errorf("unexpected args: %v", vals)
	}
}

func TestPredicateOrSet(t *testing.T) {
	t.Parallel()

	f := compile(t, "platform", models.Document{"offset": []any{"platform", "code"}})

	var args fields.Args

	pred, err := f.Predicate([]any{"LANDSAT_8", "LANDSAT_9"}, &args)
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}

	want := `(odc.dataset.metadata #>> '{platform, code}' = $1 OR odc.dataset.metadata #>> '{platform, code}' = $2)`
	if pred != want {
		t.Errorf("predicate mismatch\n got: %s\nwant: %s", pred, want)
	}

	if len(args.Values()) != 2 {
		t.Errorf("expected 2 args, got %v", args.Values())
	}
}

func TestPredicateEmptyOrSet(t *testing.T) {
	t.Parallel()

	f := compile(t, "platform", models.Document{"offset": []any{"platform", "code"}})

	var args fields.Args

	if _, err := f.Predicate([]any{}, &args); !errors.Is(err, models.ErrUsage) {
		t.Errorf("expected usage error for empty OR-set, got %v", err)
	}
}

func TestPredicateRangeOverlap(t *testing.T) {
	t.Parallel()

	f := compile(t, "lat", models.Document{
		"type":    "numeric-range",
		"offsets": []any{[]any{"extent", "lat", "begin"}, []any{"extent", "lat", "end"}},
	})

	var args fields.Args

	pred, err := f.Predicate(models.NumRange(-35.2, -34.1), &args)
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}

	if !strings.HasSuffix(pred, "&& numrange($1::numeric, $2::numeric, '[]')") {
		t.Errorf("expected overlap predicate, got %s", pred)
	}

	if vals := args.Values(); len(vals) != 2 || vals[0] != -35.2 || vals[1] != -34.1 {
		t.Errorf("unexpected args: %v", vals)
	}
}

func TestPredicatePointInRangeField(t *testing.T) {
	t.Parallel()

	f := compile(t, "lat", models.Document{
		"type":    "numeric-range",
		"offsets": []any{[]any{"extent", "lat", "begin"}, []any{"extent", "lat", "end"}},
	})

	var args fields.Args

	pred, err := f.Predicate(-34.5, &args)
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}

	if !strings.HasSuffix(pred, "@> $1::numeric") {
		t.Errorf("expected containment predicate, got %s", pred)
	}
}

func TestPredicateBetweenOnScalarField(t *testing.T) {
	t.Parallel()

	f := compile(t, "cloud_cover", models.Document{
		"type":   "numeric",
		"offset": []any{"image", "cloud_cover_percentage"},
	})

	var args fields.Args

	pred, err := f.Predicate(models.NumRange(0, 10), &args)
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}

	want := `CAST(odc.dataset.metadata #>> '{image, cloud_cover_percentage}' AS DOUBLE PRECISION) BETWEEN $1 AND $2`
	if pred != want {
		t.Errorf("predicate mismatch\n got: %s\nwant: %s", pred, want)
	}
}

func TestPredicateTimestampCoercion(t *testing.T) {
	t.Parallel()

	f := compile(t, "time", models.Document{
		"type":       "datetime-range",
		"min_offset": []any{[]any{"extent", "from_dt"}},
		"max_offset": []any{[]any{"extent", "to_dt"}},
	})

	var args fields.Args

	pred, err := f.Predicate(models.Range{
		Begin: "2014-03-01T00:00:00Z",
		End:   time.Date(2014, 4, 1, 0, 0, 0, 0, time.UTC),
	}, &args)
	if err != nil {
		t.Fatalf("predicate: %v", err)
	}

	if !strings.HasSuffix(pred, "&& tstzrange($1::timestamptz, $2::timestamptz, '[]')") {
		t.Errorf("expected tstzrange overlap, got %s", pred)
	}

	begin, ok := args.Values()[0].(time.Time)
	if !ok || !begin.Equal(time.Date(2014, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected parsed UTC timestamp, got %v", args.Values()[0])
	}

	if _, err := f.Predicate("not-a-time", &args); !errors.Is(err, models.ErrUsage) {
		t.Errorf("expected usage error for bad timestamp, got %v", err)
	}
}

func TestFixedValue(t *testing.T) {
	t.Parallel()

	rules := models.Document{
		"platform": map[string]any{"code": "LANDSAT_8"},
		"product_type": "level1",
	}

	platform := compile(t, "platform", models.Document{"offset": []any{"platform", "code"}})

	v, fixed := platform.FixedValue(rules)
	if !fixed || v != "LANDSAT_8" {
		t.Errorf("expected fixed LANDSAT_8, got %v (fixed=%v)", v, fixed)
	}

	sensor := compile(t, "sensor", models.Document{"offset": []any{"instrument", "name"}})

	if _, fixed := sensor.FixedValue(rules); fixed {
		t.Error("expected sensor not to be fixed")
	}

	lat := compile(t, "lat", models.Document{
		"type":    "numeric-range",
		"offsets": []any{[]any{"extent", "lat"}},
	})

	if _, fixed := lat.FixedValue(rules); fixed {
		t.Error("range fields must never be treated as fixed")
	}
}
