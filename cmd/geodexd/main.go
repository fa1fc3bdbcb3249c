// geodexd is the geodex catalog server: it migrates the schema, probes
// the storage drivers and serves the catalog API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/geodex/geodex/internal/api"
	"github.com/geodex/geodex/internal/config"
	"github.com/geodex/geodex/internal/db"
	"github.com/geodex/geodex/internal/db/migrations"
	"github.com/geodex/geodex/internal/dbpool"
	"github.com/geodex/geodex/internal/driver"
	"github.com/geodex/geodex/internal/index"
	"github.com/geodex/geodex/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := run(log); err != nil {
		log.WithError(err).Fatal("geodexd failed")
	}
}

func run(log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	log.SetLevel(level)

	pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		return err
	}

	metrics.Register(prometheus.DefaultRegisterer)

	registry, err := driver.NewRegistry(ctx, driver.Deps{Pool: pool, Log: log, Cfg: cfg})
	if err != nil {
		return err
	}
	defer registry.Close() //nolint:errcheck // shutdown path.

	ix := index.New(pool, log)

	// Bring index objects in line with definitions registered by
	// earlier runs or other processes.
	if err := ix.Init(ctx); err != nil {
		return err
	}

	router := api.NewRouter(&api.RouterDeps{
		Log:           log,
		Pool:          pool,
		Registry:      registry,
		MetadataTypes: ix.MetadataTypes,
		Catalog:       ix,
		Products:      ix.Products,
		Datasets:      ix.Datasets,
		CORSOrigins:   cfg.CORSOrigins,
		Version:       config.Version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"addr":    cfg.Addr(),
			"drivers": registry.Drivers(),
			"current": registry.Current().Name(),
		}).Info("geodexd listening")

		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
