// Package models defines the catalog's core records: metadata types,
// products, datasets and their locations and lineage, plus the query
// value types accepted by the search engine.
//
// Definitions (metadata types and products) are carried as plain
// documents rather than rigid structs: the set of searchable fields is
// user-declared, and idempotency checks compare documents after
// canonicalisation. Typed accessors pull out the well-known parts.
package models

import (
	"encoding/json"
	"time"
)

// Document is an arbitrary nested JSON-compatible metadata document.
type Document = map[string]any

// MetadataType is a named schema: a set of searchable field definitions
// shared by one or more products. Identity is by name.
type MetadataType struct {
	ID         int32
	Name       string
	Definition Document
	AddedAt    time.Time
}

// SearchFields returns the raw search-field documents declared under
// dataset.search_fields, keyed by field name. Nil if none are declared.
func (t *MetadataType) SearchFields() map[string]Document {
	return subDocuments(t.Definition, "dataset", "search_fields")
}

// CompositeIndexes returns the declared natural-key field groups under
// dataset.composite_indexes, each a list of field names.
func (t *MetadataType) CompositeIndexes() [][]string {
	dataset, _ := t.Definition["dataset"].(map[string]any)
	raw, _ := dataset["composite_indexes"].([]any)

	groups := make([][]string, 0, len(raw))

	for _, g := range raw {
		members, _ := g.([]any)

		group := make([]string, 0, len(members))
		for _, m := range members {
			if name, ok := m.(string); ok {
				group = append(group, name)
			}
		}

		if len(group) > 1 {
			groups = append(groups, group)
		}
	}

	return groups
}

// Description returns the free-text description, if any.
func (t *MetadataType) Description() string {
	s, _ := t.Definition["description"].(string)
	return s
}

// CanonicalDoc serialises a document to canonical JSON (sorted keys) for
// equivalence checks. Two definitions are considered identical iff their
// canonical forms are byte-for-byte equal.
func CanonicalDoc(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

// SameDoc reports whether two documents are equivalent after
// canonicalisation.
func SameDoc(a, b Document) bool {
	ca, errA := CanonicalDoc(a)
	cb, errB := CanonicalDoc(b)

	return errA == nil && errB == nil && string(ca) == string(cb)
}

func subDocuments(doc Document, path ...string) map[string]Document {
	cur := doc
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}

		cur = next
	}

	out := make(map[string]Document, len(cur))

	for name, raw := range cur {
		if d, ok := raw.(map[string]any); ok {
			out[name] = d
		}
	}

	return out
}
