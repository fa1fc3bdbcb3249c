// Package fields compiles declarative search-field definitions into
// PostgreSQL expressions over a dataset's jsonb metadata column.
//
// A field definition names one json-path offset (scalar kinds) or
// several (range kinds) plus a type tag. Range kinds compute
// least/greatest over every listed offset, so the declaration order of
// corner coordinates never affects the resulting interval. Compilation
// is pure; malformed definitions fail here, at registration time, not
// at query time.
package fields

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/geodex/geodex/internal/models"
)

// Kind is a field's type tag.
type Kind string

// Supported field kinds.
const (
	KindString        Kind = "string"
	KindNumeric       Kind = "numeric"
	KindInteger       Kind = "integer"
	KindNumericRange  Kind = "numeric-range"
	KindDatetimeRange Kind = "datetime-range"
)

// IsRange reports whether the kind compiles to an interval expression.
func (k Kind) IsRange() bool {
	return k == KindNumericRange || k == KindDatetimeRange
}

// DatasetColumn is the fully qualified metadata column the catalog's
// index objects are built over. Query predicates must compile to the
// identical expression text or the planner will not match the indexes.
const DatasetColumn = "odc.dataset.metadata"

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)

// Def is a parsed field definition.
type Def struct {
	Name        string
	Description string
	Kind        Kind

	// Offset is the json path for scalar kinds.
	Offset []string

	// Offsets are the json paths for range kinds; the compiled
	// expression spans the least and greatest of all of them.
	Offsets [][]string

	// Indexed is false for fields declared "indexed: false"; they are
	// searchable but never get a database index.
	Indexed bool
}

// ParseDefs converts raw search-field documents (as stored in a
// metadata type definition) into parsed definitions.
func ParseDefs(raw map[string]models.Document) (map[string]Def, error) {
	defs := make(map[string]Def, len(raw))

	for name, doc := range raw {
		def, err := ParseDef(name, doc)
		if err != nil {
			return nil, err
		}

		defs[name] = def
	}

	return defs, nil
}

// ParseDef parses a single field document.
func ParseDef(name string, doc models.Document) (Def, error) {
	def := Def{Name: name, Kind: KindString, Indexed: true}

	if !keyPattern.MatchString(name) {
		return Def{}, models.ConfigurationErrorf("invalid field name %q", name)
	}

	if d, ok := doc["description"].(string); ok {
		def.Description = d
	}

	if t, ok := doc["type"].(string); ok {
		def.Kind = Kind(t)
	}

	if indexed, ok := doc["indexed"].(bool); ok {
		def.Indexed = indexed
	}

	switch def.Kind {
	case KindString, KindNumeric, KindInteger:
		offset, err := parseOffset(name, doc["offset"])
		if err != nil {
			return Def{}, err
		}

		def.Offset = offset
	case KindNumericRange, KindDatetimeRange:
		offsets, err := parseOffsets(name, doc)
		if err != nil {
			return Def{}, err
		}

		def.Offsets = offsets
	default:
		return Def{}, models.ConfigurationErrorf("field %q: unknown type %q", name, def.Kind)
	}

	return def, nil
}

func parseOffset(field string, raw any) ([]string, error) {
	elems, ok := raw.([]any)
	if !ok || len(elems) == 0 {
		return nil, models.ConfigurationErrorf("field %q: offset must be a non-empty path", field)
	}

	path := make([]string, len(elems))

	for i, e := range elems {
		key, ok := e.(string)
		if !ok || !keyPattern.MatchString(key) {
			return nil, models.ConfigurationErrorf("field %q: malformed offset element %v", field, e)
		}

		path[i] = key
	}

	return path, nil
}

func parseOffsets(field string, doc models.Document) ([][]string, error) {
	var raw []any

	// Either a flat list of paths under "offsets", or the min/max pair
	// style: every listed path participates in least/greatest equally.
	if v, ok := doc["offsets"].([]any); ok {
		raw = v
	} else {
		if v, ok := doc["min_offset"].([]any); ok {
			raw = append(raw, v...)
		}

		if v, ok := doc["max_offset"].([]any); ok {
			raw = append(raw, v...)
		}
	}

	if len(raw) == 0 {
		return nil, models.ConfigurationErrorf("field %q: range field needs at least one offset", field)
	}

	seen := map[string]bool{}
	offsets := make([][]string, 0, len(raw))

	for _, p := range raw {
		path, err := parseOffset(field, p)
		if err != nil {
			return nil, err
		}

		key := strings.Join(path, "\x00")
		if seen[key] {
			continue
		}

		seen[key] = true
		offsets = append(offsets, path)
	}

	return offsets, nil
}

// Field is a compiled search field bound to a metadata column.
type Field struct {
	Def
	column string
	expr   string
}

// Compile turns a definition into a field bound to the given metadata
// column expression (usually DatasetColumn).
func Compile(def Def, column string) (*Field, error) {
	f := &Field{Def: def, column: column}

	switch def.Kind {
	case KindString:
		f.expr = extract(column, def.Offset)
	case KindNumeric:
		f.expr = fmt.Sprintf("CAST(%s AS DOUBLE PRECISION)", extract(column, def.Offset))
	case KindInteger:
		f.expr = fmt.Sprintf("CAST(%s AS INTEGER)", extract(column, def.Offset))
	case KindNumericRange:
		parts := make([]string, len(def.Offsets))
		for i, off := range def.Offsets {
			parts[i] = fmt.Sprintf("CAST(%s AS NUMERIC)", extract(column, off))
		}

		f.expr = fmt.Sprintf("numrange(least(%s), greatest(%s), '[]')",
			strings.Join(parts, ", "), strings.Join(parts, ", "))
	case KindDatetimeRange:
		parts := make([]string, len(def.Offsets))
		for i, off := range def.Offsets {
			parts[i] = fmt.Sprintf("odc.common_timestamp(%s)", extract(column, off))
		}

		f.expr = fmt.Sprintf("tstzrange(least(%s), greatest(%s), '[]')",
			strings.Join(parts, ", "), strings.Join(parts, ", "))
	default:
		return nil, models.ConfigurationErrorf("field %q: unknown type %q", def.Name, def.Kind)
	}

	return f, nil
}

// extract builds the jsonb text-extraction expression for one path.
func extract(column string, path []string) string {
	return fmt.Sprintf("%s #>> '{%s}'", column, strings.Join(path, ", "))
}

// SQLExpression returns the compiled extraction expression. Index DDL
// and query predicates share this text verbatim.
func (f *Field) SQLExpression() string { return f.expr }

// Args accumulates positional query arguments while predicates are
// assembled.
type Args struct {
	vals []any
}

// Add appends a value and returns its placeholder ("$n").
func (a *Args) Add(v any) string {
	a.vals = append(a.vals, v)
	return fmt.Sprintf("$%d", len(a.vals))
}

// Values returns the accumulated arguments in order.
func (a *Args) Values() []any { return a.vals }

// Predicate translates a query value for this field into a SQL
// condition. Scalars become equality (or containment for range kinds),
// a models.Range becomes an interval-overlap (or between) test, and a
// list becomes a disjunction of the scalar translation.
func (f *Field) Predicate(value any, args *Args) (string, error) {
	switch v := value.(type) {
	case models.Range:
		return f.rangePredicate(v, args)
	case []any:
		if len(v) == 0 {
			return "", models.UsageErrorf("field %q: empty OR-set", f.Name)
		}

		terms := make([]string, len(v))

		for i, elem := range v {
			term, err := f.scalarPredicate(elem, args)
			if err != nil {
				return "", err
			}

			terms[i] = term
		}

		if len(terms) == 1 {
			return terms[0], nil
		}

		return "(" + strings.Join(terms, " OR ") + ")", nil
	default:
		return f.scalarPredicate(value, args)
	}
}

func (f *Field) scalarPredicate(value any, args *Args) (string, error) {
	value, err := f.coerce(value)
	if err != nil {
		return "", err
	}

	if f.Kind.IsRange() {
		// A point matches a range field when the interval contains it.
		return fmt.Sprintf("%s @> %s%s", f.expr, args.Add(value), f.pointCast()), nil
	}

	return fmt.Sprintf("%s = %s", f.expr, args.Add(value)), nil
}

func (f *Field) rangePredicate(r models.Range, args *Args) (string, error) {
	begin, err := f.coerce(r.Begin)
	if err != nil {
		return "", err
	}

	end, err := f.coerce(r.End)
	if err != nil {
		return "", err
	}

	if f.Kind.IsRange() {
		ctor := "numrange"
		if f.Kind == KindDatetimeRange {
			ctor = "tstzrange"
		}

		return fmt.Sprintf("%s && %s(%s%s, %s%s, '[]')",
			f.expr, ctor, args.Add(begin), f.pointCast(), args.Add(end), f.pointCast()), nil
	}

	return fmt.Sprintf("%s BETWEEN %s AND %s", f.expr, args.Add(begin), args.Add(end)), nil
}

func (f *Field) pointCast() string {
	if f.Kind == KindDatetimeRange {
		return "::timestamptz"
	}

	return "::numeric"
}

// coerce normalises a caller-supplied value to the type the compiled
// expression compares against.
func (f *Field) coerce(value any) (any, error) {
	switch f.Kind {
	case KindString:
		if s, ok := value.(string); ok {
			return s, nil
		}

		return fmt.Sprint(value), nil
	case KindNumeric, KindNumericRange:
		return toFloat(f.Name, value)
	case KindInteger:
		switch n := value.(type) {
		case int:
			return n, nil
		case int32:
			return int(n), nil
		case int64:
			return int(n), nil
		case float64:
			return int(n), nil
		}

		return nil, models.UsageErrorf("field %q: expected integer, got %T", f.Name, value)
	case KindDatetimeRange:
		if t, ok := value.(time.Time); ok {
			return t.UTC(), nil
		}

		if s, ok := value.(string); ok {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, models.UsageErrorf("field %q: bad timestamp %q", f.Name, s)
			}

			return t.UTC(), nil
		}

		return nil, models.UsageErrorf("field %q: expected timestamp, got %T", f.Name, value)
	}

	return value, nil
}

func toFloat(field string, value any) (float64, error) {
	switch n := value.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}

	return 0, models.UsageErrorf("field %q: expected number, got %T", field, value)
}

// FixedValue looks a field's offset up inside a product's match rules.
// A scalar field whose offset resolves to a literal there is identical
// across every dataset of the product and needs no index.
func (f *Field) FixedValue(rules models.Document) (any, bool) {
	if f.Kind.IsRange() {
		return nil, false
	}

	var cur any = map[string]any(rules)

	for _, key := range f.Offset {
		doc, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		cur, ok = doc[key]
		if !ok {
			return nil, false
		}
	}

	if _, isDoc := cur.(map[string]any); isDoc {
		return nil, false
	}

	return cur, true
}
