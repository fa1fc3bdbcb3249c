package driver

import (
	"context"
	"errors"

	"github.com/geodex/geodex/internal/index"
	"github.com/geodex/geodex/internal/models"
)

// ErrGenericUse is returned by the generic facade for operations that
// only make sense on a concrete driver.
var ErrGenericUse = errors.New("not available on the generic catalog: route through the registry")

// Generic is the driver-agnostic catalog facade. It serves base catalog
// reads before a dataset's owning driver is known, for example to fetch
// the locations that decide which driver to dispatch to. Anything
// driver-specific is deliberately unavailable here.
type Generic struct {
	idx *index.Index
}

// Index exposes the shared catalog stores.
func (g *Generic) Index() *index.Index { return g.idx }

// AddSpecifics always fails: per-driver bookkeeping needs the owning
// driver, which the registry resolves by location scheme.
func (g *Generic) AddSpecifics(context.Context, *models.Dataset) error {
	return ErrGenericUse
}
