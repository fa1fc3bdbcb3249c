package store

import (
	"slices"

	"github.com/geodex/geodex/internal/fields"
	"github.com/geodex/geodex/internal/models"
)

// productFields compiles the searchable fields visible to one product:
// the metadata type's search fields layered with any extra fields the
// product declares itself. Definitions were validated at registration,
// so compile failures here indicate a corrupted stored definition.
func productFields(p *models.Product) (map[string]*fields.Field, error) {
	return compileProductFields(p, fields.DatasetColumn)
}

// sortedFieldNames returns the field names in stable order, for
// deterministic DDL and SQL assembly.
func sortedFieldNames(flds map[string]*fields.Field) []string {
	names := make([]string, 0, len(flds))
	for name := range flds {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// declaresAll reports whether the product declares every named field.
func declaresAll(flds map[string]*fields.Field, names []string) bool {
	for _, name := range names {
		if _, ok := flds[name]; !ok {
			return false
		}
	}

	return true
}
