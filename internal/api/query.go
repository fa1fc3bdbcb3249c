package api

import (
	"time"

	"github.com/geodex/geodex/internal/models"
)

// searchRequest is the JSON body shared by the search and count
// endpoints. Product and metadata type selectors accept a single name
// or a list; field values are scalars, lists, or {"begin","end"}
// objects which become inclusive ranges.
type searchRequest struct {
	Product      any            `json:"product"`
	MetadataType any            `json:"metadata_type"`
	Fields       map[string]any `json:"fields"`
	Source       *sourceRequest `json:"source"`

	// Returning names the projected columns for the returning variant.
	Returning []string `json:"returning"`

	// Field and Period configure count-through-time bucketing. Period
	// is a Go duration string, e.g. "168h".
	Field  string `json:"field"`
	Period string `json:"period"`
}

type sourceRequest struct {
	Product string         `json:"product"`
	Fields  map[string]any `json:"fields"`
}

func (r *searchRequest) toQuery() models.Query {
	q := models.Query{
		Product:      nameSet(r.Product),
		MetadataType: nameSet(r.MetadataType),
		Fields:       make(map[string]any, len(r.Fields)),
	}

	for name, value := range r.Fields {
		q.Fields[name] = convertValue(value)
	}

	if r.Source != nil {
		sf := &models.SourceFilter{
			Product: r.Source.Product,
			Fields:  make(map[string]any, len(r.Source.Fields)),
		}

		for name, value := range r.Source.Fields {
			sf.Fields[name] = convertValue(value)
		}

		q.Source = sf
	}

	return q
}

func (r *searchRequest) period() (time.Duration, error) {
	if r.Period == "" {
		return 0, models.UsageErrorf("period is required")
	}

	d, err := time.ParseDuration(r.Period)
	if err != nil {
		return 0, models.UsageErrorf("invalid period %q", r.Period)
	}

	return d, nil
}

// nameSet accepts a single name or a list of names.
func nameSet(v any) []string {
	switch names := v.(type) {
	case string:
		return []string{names}
	case []any:
		out := make([]string, 0, len(names))

		for _, n := range names {
			if s, ok := n.(string); ok {
				out = append(out, s)
			}
		}

		return out
	}

	return nil
}

// convertValue maps {"begin","end"} objects to ranges, recursively
// through OR-set lists. Range endpoints stay as-is: the field compiler
// coerces them per field kind, including RFC3339 timestamp strings.
func convertValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		begin, hasBegin := val["begin"]
		end, hasEnd := val["end"]

		if hasBegin && hasEnd && len(val) == 2 {
			return models.Range{Begin: parseEndpoint(begin), End: parseEndpoint(end)}
		}
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = convertValue(elem)
		}

		return out
	}

	return v
}

// parseEndpoint upgrades RFC3339 strings to timestamps so range
// endpoints compare correctly in count-through-time arithmetic.
func parseEndpoint(v any) any {
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}

	return v
}
