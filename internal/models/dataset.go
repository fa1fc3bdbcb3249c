package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultURIScheme is assumed when a location URI carries no scheme.
const DefaultURIScheme = "file"

// Location is a URI where a dataset's physical data resides. Locations
// are archivable independently of their dataset.
type Location struct {
	URI      string
	AddedAt  time.Time
	Archived *time.Time
}

// Active reports whether the location has not been archived.
func (l Location) Active() bool { return l.Archived == nil }

// Scheme returns the URI scheme of the location, defaulting to "file"
// when the URI has none.
func (l Location) Scheme() string {
	return SchemeOf(l.URI)
}

// SchemeOf extracts the scheme from a URI, defaulting to "file".
func SchemeOf(uri string) string {
	if scheme, _, ok := strings.Cut(uri, ":"); ok && scheme != "" {
		return scheme
	}

	return DefaultURIScheme
}

// Dataset is one indexed dataset: its metadata document, owning
// product, locations (newest first) and lineage links.
type Dataset struct {
	ID        uuid.UUID
	Product   *Product
	Metadata  Document
	IndexedAt time.Time
	Archived  *time.Time

	// Locations are ordered newest-first. Archived locations are
	// retained; use ActiveURIs for the usable ones.
	Locations []Location

	// SourceIDs maps relationship names (for example "level1") to the
	// ids of this dataset's source datasets.
	SourceIDs map[string]uuid.UUID

	// Sources holds recursively resolved source datasets when the
	// caller asked for them. Nil otherwise.
	Sources map[string]*Dataset
}

// IsArchived reports whether the dataset itself has been archived.
func (d *Dataset) IsArchived() bool { return d.Archived != nil }

// ActiveURIs returns the URIs of all active locations, newest first.
func (d *Dataset) ActiveURIs() []string {
	uris := make([]string, 0, len(d.Locations))

	for _, loc := range d.Locations {
		if loc.Active() {
			uris = append(uris, loc.URI)
		}
	}

	return uris
}

// FirstURI returns the newest active location URI, or "" if the dataset
// has no active location. Driver dispatch keys off this.
func (d *Dataset) FirstURI() string {
	for _, loc := range d.Locations {
		if loc.Active() {
			return loc.URI
		}
	}

	return ""
}
