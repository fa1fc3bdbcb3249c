package driver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/geodex/geodex/internal/index"
	"github.com/geodex/geodex/internal/models"
)

// Registry holds the drivers that survived their environment probe and
// dispatches dataset I/O to them by location URI scheme.
type Registry struct {
	mu   sync.RWMutex
	deps Deps

	// reloadMu fences the whole snapshot/rebuild/close sequence so two
	// concurrent reloads cannot close the same driver generation twice.
	reloadMu sync.Mutex

	drivers  map[string]Driver
	byScheme map[string]Driver
	current  Driver
	generic  *Generic
}

// NewRegistry probes every registered driver concurrently and keeps the
// usable ones. A driver failing its probe is logged and skipped; ending
// up with no drivers at all is a configuration error, since the catalog
// cannot resolve any dataset location.
func NewRegistry(ctx context.Context, deps Deps) (*Registry, error) {
	r := &Registry{
		deps:    deps,
		generic: &Generic{idx: index.New(deps.Pool, deps.Log)},
	}

	if err := r.build(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// Generic returns the driver-agnostic catalog facade.
func (r *Registry) Generic() *Generic { return r.generic }

func (r *Registry) build(ctx context.Context) error {
	var mu sync.Mutex

	alive := map[string]Driver{}

	var g errgroup.Group

	for name, builder := range registeredBuilders() {
		name, builder := name, builder
		g.Go(func() error {
			d, err := builder(ctx, r.deps)
			if err == nil {
				err = d.RequirementsSatisfied(ctx)
			}

			if err != nil {
				r.deps.Log.WithFields(map[string]any{
					"driver": name,
					"error":  err.Error(),
				}).Warn("storage driver unavailable")

				return nil
			}

			mu.Lock()
			alive[name] = d
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if len(alive) == 0 {
		return models.ConfigurationErrorf("no usable storage drivers")
	}

	byScheme := map[string]Driver{}

	for _, name := range sortedNames(alive) {
		d := alive[name]
		if _, taken := byScheme[d.URIScheme()]; taken {
			r.deps.Log.WithFields(map[string]any{
				"driver": name,
				"scheme": d.URIScheme(),
			}).Warn("uri scheme already claimed, driver reachable by name only")

			continue
		}

		byScheme[d.URIScheme()] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers = alive
	r.byScheme = byScheme

	return r.pickCurrentLocked()
}

func (r *Registry) pickCurrentLocked() error {
	if r.deps.Cfg != nil && r.deps.Cfg.DefaultDriver != "" {
		d, ok := r.drivers[r.deps.Cfg.DefaultDriver]
		if !ok {
			return models.ConfigurationErrorf(
				"default driver %q is not available", r.deps.Cfg.DefaultDriver)
		}

		r.current = d

		return nil
	}

	if d, ok := r.byScheme[models.DefaultURIScheme]; ok {
		r.current = d

		return nil
	}

	r.current = r.drivers[sortedNames(r.drivers)[0]]

	return nil
}

func sortedNames(drivers map[string]Driver) []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Drivers returns the usable driver names in stable order.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedNames(r.drivers)
}

// Current returns the driver new datasets are written with.
func (r *Registry) Current() Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.current
}

// SetCurrent switches the write driver by name.
func (r *Registry) SetCurrent(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drivers[name]
	if !ok {
		return models.ConfigurationErrorf("unknown driver %q (available: %v)", name, sortedNames(r.drivers))
	}

	r.current = d

	return nil
}

// Descriptor returns a serialisable handle another process can Open to
// reach the same catalog with the same current driver.
func (r *Registry) Descriptor() Descriptor {
	desc := Descriptor{Driver: r.Current().Name()}

	if r.deps.Pool != nil {
		desc.DatabaseURL = r.deps.Pool.ConnString()
	}

	return desc
}

// ByScheme returns the driver owning a URI scheme.
func (r *Registry) ByScheme(scheme string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byScheme[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrNoDriverForScheme, scheme)
	}

	return d, nil
}

// DriverFor resolves the driver for a dataset from the scheme of its
// first active location; a dataset with no locations falls back to the
// default scheme.
func (r *Registry) DriverFor(d *models.Dataset) (Driver, error) {
	scheme := models.DefaultURIScheme

	if uri := d.FirstURI(); uri != "" {
		scheme = models.SchemeOf(uri)
	}

	return r.ByScheme(scheme)
}

// WriteDataset stores a dataset's document with the current driver and
// returns the resulting location URI.
func (r *Registry) WriteDataset(ctx context.Context, d *models.Dataset, body []byte) (string, error) {
	return r.Current().WriteDataset(ctx, d, body)
}

// Datasource opens read access to a dataset via the driver owning its
// location's scheme.
func (r *Registry) Datasource(d *models.Dataset) (Datasource, error) {
	drv, err := r.DriverFor(d)
	if err != nil {
		return nil, err
	}

	return drv.Datasource(d)
}

// AddSpecifics forwards post-index bookkeeping to the dataset's driver.
func (r *Registry) AddSpecifics(ctx context.Context, d *models.Dataset) error {
	drv, err := r.DriverFor(d)
	if err != nil {
		return err
	}

	return drv.AddSpecifics(ctx, d)
}

// Reload re-probes all registered drivers, picking up environment
// changes without restarting.
func (r *Registry) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	old := r.snapshot()

	if err := r.build(ctx); err != nil {
		return err
	}

	return closeAll(old)
}

func (r *Registry) snapshot() map[string]Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Driver, len(r.drivers))
	for name, d := range r.drivers {
		out[name] = d
	}

	return out
}

// Close shuts every driver down. Drivers reachable under several names
// share state, so each distinct driver is closed exactly once.
func (r *Registry) Close() error {
	return closeAll(r.snapshot())
}

func closeAll(drivers map[string]Driver) error {
	var closed []Driver
	var errs []error

	for _, name := range sortedNames(drivers) {
		d := drivers[name]
		if slices.Contains(closed, d) {
			continue
		}

		closed = append(closed, d)

		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing driver %s: %w", d.Name(), err))
		}
	}

	return errors.Join(errs...)
}
