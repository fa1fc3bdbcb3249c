// Package store provides focused, single-concern data access stores for
// the geodex catalog: metadata types, products (with their index
// lifecycle) and datasets (with locations, lineage and search).
//
// Each store owns one resource and embeds shared helpers via the Base
// struct. The backing PostgreSQL store is the serialization point for
// concurrent processes; nothing here caches schema state in memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/geodex/geodex/internal/dbpool"
)

const defaultQueryTimeout = 30 * time.Second

// ddlRetries bounds retries of index DDL that lost a race.
const ddlRetries = 3

// namePattern constrains metadata type and product names, which are
// embedded in index and view identifiers.
var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Base contains shared dependencies for all stores.
// Embed this in each store struct.
type Base struct {
	Pool *dbpool.Pool
	Log  *logrus.Logger
}

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// beginTx starts a read-write transaction.
func (b *Base) beginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := b.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	return tx, nil
}

// advisoryLock takes a transaction-scoped advisory lock on the given
// name. Concurrent schema mutations on the same product or metadata
// type serialise on this.
func advisoryLock(ctx context.Context, tx pgx.Tx, name string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", name); err != nil {
		return fmt.Errorf("taking advisory lock %q: %w", name, err)
	}

	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func validName(name string) bool {
	return namePattern.MatchString(name)
}
