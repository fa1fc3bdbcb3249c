package models

import "time"

// Product (also called a dataset type) groups datasets of one kind. It
// references a metadata type for its searchable fields and carries a
// document of match rules that an incoming dataset's metadata must
// satisfy to belong to it.
type Product struct {
	ID           int32
	Name         string
	Definition   Document
	MetadataType *MetadataType
	AddedAt      time.Time
}

// MatchRules returns the sub-document pattern under "metadata" that a
// dataset document must contain to belong to this product.
func (p *Product) MatchRules() Document {
	rules, _ := p.Definition["metadata"].(map[string]any)
	return rules
}

// Description returns the free-text description, if any.
func (p *Product) Description() string {
	s, _ := p.Definition["description"].(string)
	return s
}

// ExtraSearchFields returns field documents declared directly on the
// product, layered over the metadata type's fields.
func (p *Product) ExtraSearchFields() map[string]Document {
	return subDocuments(p.Definition, "search_fields")
}
