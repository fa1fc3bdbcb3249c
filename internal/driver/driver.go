// Package driver dispatches catalog I/O to storage drivers. Drivers
// register themselves at program start; the set is fixed for the life
// of the process and a registry instance picks which of them are usable
// against the configured environment.
package driver

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/config"
	"github.com/geodex/geodex/internal/dbpool"
	"github.com/geodex/geodex/internal/index"
	"github.com/geodex/geodex/internal/models"
)

// Deps carries the shared resources a driver builds on. Cfg may be nil
// when a registry is opened from a bare descriptor.
type Deps struct {
	Pool *dbpool.Pool
	Log  *logrus.Logger
	Cfg  *config.Config
}

// Driver is one storage backend: it owns a URI scheme and knows how to
// read and write dataset data behind locations using that scheme. All
// drivers share the catalog index; AddSpecifics is the hook for extra
// per-driver bookkeeping after a dataset is indexed.
type Driver interface {
	Name() string
	URIScheme() string

	// RequirementsSatisfied probes whether the driver can operate in
	// the current environment. A failed probe drops the driver from the
	// registry without failing startup.
	RequirementsSatisfied(ctx context.Context) error

	Index() *index.Index

	// WriteDataset stores a dataset's document at the driver's storage
	// and returns the resulting location URI.
	WriteDataset(ctx context.Context, d *models.Dataset, body []byte) (string, error)

	Datasource(d *models.Dataset) (Datasource, error)

	// AddSpecifics records driver-specific state for an indexed
	// dataset. Drivers with no extra state implement it as a no-op.
	AddSpecifics(ctx context.Context, d *models.Dataset) error

	Close() error
}

// Datasource reads one dataset's stored document.
type Datasource interface {
	URI() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Builder constructs a driver from shared dependencies.
type Builder func(ctx context.Context, deps Deps) (Driver, error)

var (
	buildersMu sync.Mutex
	builders   = map[string]Builder{}
)

// Register makes a driver constructor available to registries. Call it
// from the driver package's init; a duplicate name panics, since it is
// a programming error, not a runtime condition.
func Register(name string, b Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()

	if _, dup := builders[name]; dup {
		panic("driver: Register called twice for " + name)
	}

	builders[name] = b
}

func registeredBuilders() map[string]Builder {
	buildersMu.Lock()
	defer buildersMu.Unlock()

	out := make(map[string]Builder, len(builders))
	for name, b := range builders {
		out[name] = b
	}

	return out
}

// Descriptor is a serialisable handle for reconnecting to the same
// catalog from another process: plain connection parameters, nothing
// process-specific.
type Descriptor struct {
	DatabaseURL string `json:"database_url"`
	Driver      string `json:"driver"`
}

// Open builds a registry from a descriptor: a fresh pool against the
// described database with the described driver as current.
func Open(ctx context.Context, desc Descriptor, log *logrus.Logger) (*Registry, error) {
	if desc.DatabaseURL == "" {
		return nil, models.ConfigurationErrorf("descriptor has no database URL")
	}

	pool, err := dbpool.NewPool(ctx, desc.DatabaseURL)
	if err != nil {
		return nil, err
	}

	reg, err := NewRegistry(ctx, Deps{Pool: pool, Log: log})
	if err != nil {
		pool.Close()
		return nil, err
	}

	if desc.Driver != "" {
		if err := reg.SetCurrent(desc.Driver); err != nil {
			reg.Close()
			pool.Close()

			return nil, err
		}
	}

	return reg, nil
}
