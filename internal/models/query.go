package models

import "time"

// Range is an inclusive interval over numbers or timestamps. A query
// range against a range-typed field is an overlap test; against a
// scalar field it is a between test.
type Range struct {
	Begin any
	End   any
}

// NumRange builds an inclusive numeric range.
func NumRange(begin, end float64) Range {
	return Range{Begin: begin, End: end}
}

// TimeRange builds an inclusive timestamp range.
func TimeRange(begin, end time.Time) Range {
	return Range{Begin: begin, End: end}
}

// SourceFilter restricts matches to datasets whose lineage sources
// satisfy a nested sub-query. Product names the source product to
// examine and is mandatory: lineage can carry several relationships, so
// the engine refuses to guess.
type SourceFilter struct {
	Product string
	Fields  map[string]any
}

// Query is the search input: a mapping from field name to a scalar
// literal, a Range, or a list of scalars (an OR-set), plus optional
// product and metadata-type selectors.
type Query struct {
	// Product and MetadataType are OR-sets of names narrowing the
	// candidate products. Empty means unconstrained.
	Product      []string
	MetadataType []string

	// Fields maps field names to scalar | Range | []any values.
	Fields map[string]any

	Source *SourceFilter
}

// ProductCount is one grouped-count result row.
type ProductCount struct {
	Product *Product
	Count   int
}

// ProductDatasets is one search-by-product result group.
type ProductDatasets struct {
	Product  *Product
	Datasets []*Dataset
}

// TimeBucket is one fixed-width bucket of a count-through-time result.
// Empty buckets are reported with Count zero, not omitted.
type TimeBucket struct {
	Start time.Time
	End   time.Time
	Count int
}

// RobustResult pairs one product's matches with the subset of queried
// fields that product actually supports.
type RobustResult struct {
	Product      *Product
	UsableFields []string
	Datasets     []*Dataset
}
